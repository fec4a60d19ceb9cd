// internal/process/job.go
package process

import "github.com/RhythrosaLabs/loom/internal/img"

// Kind is the type of media a remote generation job produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// JobState represents the lifecycle state of a remote generation job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the local copy of a remote generation job. It lives only for the
// duration of one run and is mutated by polling.
type Job struct {
	ID            string
	Kind          Kind
	State         JobState
	FailureReason string
	ArtifactRef   string
}

func NewJob(kind Kind, id string) *Job {
	return &Job{
		ID:    id,
		Kind:  kind,
		State: JobPending,
	}
}

func MarkRunning(j *Job) { j.State = JobRunning }

func MarkCompleted(j *Job, ref string) {
	j.State = JobCompleted
	j.ArtifactRef = ref
	j.FailureReason = ""
}

func MarkFailed(j *Job, reason string) {
	j.State = JobFailed
	j.FailureReason = reason
	j.ArtifactRef = ""
}

// SegmentState tracks one segment through the chain.
type SegmentState string

const (
	SegmentPending        SegmentState = "pending"
	SegmentSubmitted      SegmentState = "submitted"
	SegmentCompleted      SegmentState = "completed"
	SegmentFrameExtracted SegmentState = "frame_extracted"
	SegmentFailed         SegmentState = "failed"
)

// Segment is one animated clip in a chain. LastFrame, when set, is the same
// still that seeds the following segment.
type Segment struct {
	Index       int
	SourceImage *img.Still
	Job         *Job
	LocalPath   string
	LastFrame   *img.Still
	State       SegmentState
	Err         error
}

func NewSegment(index int, seed *img.Still) *Segment {
	return &Segment{Index: index, SourceImage: seed, State: SegmentPending}
}

// Fail records err against the segment and moves it to the terminal state.
func (s *Segment) Fail(err error) {
	s.State = SegmentFailed
	s.Err = err
}
