package main

import (
	"sync"
	"time"
)

// runTracker counts in-flight runs so shutdown can wait for them. Once
// closed it refuses new runs.
type runTracker struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (t *runTracker) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *runTracker) done() { t.wg.Done() }

// closeAndWait stops admitting runs and waits up to timeout for the running
// ones. It reports whether they all returned.
func (t *runTracker) closeAndWait(timeout time.Duration) bool {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}
