// pkg/schema/events.go
package schema

type RunStage string

const (
	StageValidation RunStage = "validation"
	StageSeed       RunStage = "seed"
	StageSegment    RunStage = "segment"
	StageAssembly   RunStage = "assembly"
	StageUpload     RunStage = "upload"
	StageCompleted  RunStage = "completed"
	StageFailed     RunStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable   FailureType = "retryable"
	FailureTypePermanent   FailureType = "permanent"
	FailureTypeValidation  FailureType = "validation"
	FailureTypeTimeout     FailureType = "timeout"
	FailureTypeUnsupported FailureType = "unsupported"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

type SegmentResult struct {
	Index        int     `json:"index"`
	JobID        string  `json:"job_id,omitempty"`
	State        string  `json:"state"`
	Artifact     string  `json:"artifact,omitempty"`
	LastFrame    string  `json:"last_frame,omitempty"`
	DurationSecs float64 `json:"duration_seconds,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type Artifact struct {
	Name     string `json:"name"`
	Ref      string `json:"ref"`
	Role     string `json:"role,omitempty"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	// Path is the local copy while the run is executing.
	Path string `json:"-"`
}

type RunLifecycleEvent struct {
	RunID        string      `json:"run_id"`
	Stage        RunStage    `json:"stage"`
	SegmentIndex *int        `json:"segment_index,omitempty"`
	Error        string      `json:"error,omitempty"`
	FailureType  FailureType `json:"failure_type,omitempty"`
	HappenedAt   int64       `json:"happened_at"`
}

type RunDone struct {
	RunID            string              `json:"run_id"`
	Status           RunStatus           `json:"status"`
	Mode             string              `json:"mode"`
	RequestedCount   int                 `json:"requested_segments"`
	Segments         []SegmentResult     `json:"segments,omitempty"`
	Artifacts        []Artifact          `json:"artifacts,omitempty"`
	FinalArtifact    string              `json:"final_artifact,omitempty"`
	Truncated        bool                `json:"truncated"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Lifecycle        []RunLifecycleEvent `json:"lifecycle,omitempty"`
	Error            string              `json:"error,omitempty"`
	FailureType      FailureType         `json:"failure_type,omitempty"`
	HappenedAt       int64               `json:"happened_at"`
}
