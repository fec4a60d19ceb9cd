// Package runstate records status snapshots of runs so they can be queried
// while and shortly after they execute.
package runstate

import (
	"context"
	"errors"
	"sync"

	"github.com/RhythrosaLabs/loom/pkg/schema"
)

var ErrNotFound = errors.New("runstate: run not found")

// Recorder stores the latest snapshot per run id.
type Recorder interface {
	Save(ctx context.Context, snap *schema.RunDone) error
	Load(ctx context.Context, runID string) (*schema.RunDone, error)
}

// Memory keeps snapshots in process.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]schema.RunDone
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]schema.RunDone)}
}

func (m *Memory) Save(_ context.Context, snap *schema.RunDone) error {
	if snap == nil || snap.RunID == "" {
		return errors.New("runstate: snapshot without run id")
	}
	c := clone(snap)
	m.mu.Lock()
	m.runs[snap.RunID] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(_ context.Context, runID string) (*schema.RunDone, error) {
	m.mu.RLock()
	snap, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	c := clone(&snap)
	return &c, nil
}

// clone copies the slices so callers cannot mutate stored snapshots.
func clone(s *schema.RunDone) schema.RunDone {
	c := *s
	c.Segments = append([]schema.SegmentResult(nil), s.Segments...)
	c.Artifacts = append([]schema.Artifact(nil), s.Artifacts...)
	c.Lifecycle = append([]schema.RunLifecycleEvent(nil), s.Lifecycle...)
	return c
}
