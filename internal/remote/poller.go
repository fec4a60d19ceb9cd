package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RhythrosaLabs/loom/internal/process"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultPollMaxAttempts = 120
)

// Poller waits for remote jobs to settle.
type Poller struct {
	Client      Client
	Interval    time.Duration
	MaxAttempts int
	// Backoff multiplies the interval after every non-terminal poll.
	// Values below 1 mean a constant interval.
	Backoff     float64
	MaxInterval time.Duration
	Logger      *slog.Logger
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Poller) nextDelay(d time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return d
	}
	next := time.Duration(float64(d) * p.Backoff)
	if p.MaxInterval > 0 && next > p.MaxInterval {
		next = p.MaxInterval
	}
	return next
}

// Await polls job until it completes, fails or the attempt budget runs out.
// It returns the artifact reference of a completed job, a *process.FailedError
// for a failed one and process.ErrTimedOut after exactly MaxAttempts polls.
// A failed status query uses up an attempt; its message is kept in the
// timeout error.
func (p *Poller) Await(ctx context.Context, job *process.Job) (string, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollMaxAttempts
	}
	logger := p.logger().With("job_id", job.ID, "kind", job.Kind)

	var lastErr error
	delay := interval
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		st, err := p.Client.Status(ctx, job)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			lastErr = err
			logger.Warn("status query failed", "attempt", attempt, "err", err)
		case st.State == process.JobCompleted:
			if st.ArtifactRef == "" {
				process.MarkFailed(job, "completed without an artifact")
				return "", &process.FailedError{JobID: job.ID, Reason: job.FailureReason}
			}
			process.MarkCompleted(job, st.ArtifactRef)
			logger.Debug("job completed", "attempt", attempt, "artifact", st.ArtifactRef)
			return st.ArtifactRef, nil
		case st.State == process.JobFailed:
			process.MarkFailed(job, st.Reason)
			logger.Debug("job failed", "attempt", attempt, "reason", st.Reason)
			return "", &process.FailedError{JobID: job.ID, Reason: st.Reason}
		default:
			lastErr = nil
			switch st.State {
			case process.JobRunning:
				process.MarkRunning(job)
			case "":
			default:
				job.State = st.State
			}
			logger.Debug("job pending", "attempt", attempt, "state", job.State)
		}

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		delay = p.nextDelay(delay)
	}

	if lastErr != nil {
		return "", fmt.Errorf("job %s: %d attempts, last state %s, last status error: %v: %w",
			job.ID, maxAttempts, job.State, lastErr, process.ErrTimedOut)
	}
	return "", fmt.Errorf("job %s: %d attempts, last state %s: %w", job.ID, maxAttempts, job.State, process.ErrTimedOut)
}
