// Package remote talks to generation backends: submitting jobs, polling them
// to a terminal state and fetching what they produced.
package remote

import (
	"context"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
)

// Request describes one generation.
type Request struct {
	Kind   process.Kind
	Prompt string
	// Image seeds image-to-video generations.
	Image  *img.Still
	Params map[string]string
}

// Status is one observation of a remote job.
type Status struct {
	State       process.JobState
	ArtifactRef string
	Reason      string
}

// Client is a generation backend. Implementations must return a
// *process.SubmissionError when Submit is rejected and an error wrapping
// process.ErrUnsupported when the request kind cannot be served.
type Client interface {
	Name() string
	Supports(kind process.Kind) bool
	Submit(ctx context.Context, req Request) (*process.Job, error)
	Status(ctx context.Context, job *process.Job) (Status, error)
	Download(ctx context.Context, ref, dst string) error
}

// Check returns the Unsupported error for kinds c cannot produce.
func Check(c Client, kind process.Kind) error {
	if !c.Supports(kind) {
		return process.Unsupported(c.Name(), kind)
	}
	return nil
}
