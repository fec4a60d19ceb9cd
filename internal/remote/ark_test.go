package remote

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/internal/process"
)

type fakeArk struct {
	createReq   model.CreateContentGenerationTaskRequest
	createErr   error
	task        arkTask
	taskErr     error
	imageURL    string
	imageErr    error
	imagePrompt string
}

func (f *fakeArk) CreateVideoTask(ctx context.Context, req model.CreateContentGenerationTaskRequest) (string, error) {
	f.createReq = req
	if f.createErr != nil {
		return "", f.createErr
	}
	return "cgt-123", nil
}

func (f *fakeArk) GetVideoTask(ctx context.Context, id string) (arkTask, error) {
	return f.task, f.taskErr
}

func (f *fakeArk) GenerateImage(ctx context.Context, req model.GenerateImagesRequest) (string, error) {
	f.imagePrompt = req.Prompt
	return f.imageURL, f.imageErr
}

func newTestArk(api arkAPI) *ArkClient {
	return &ArkClient{api: api, cfg: ArkConfig{VideoModel: "video-model", ImageModel: "image-model", ImageSize: "1K"}}
}

func TestArkSubmitVideo(t *testing.T) {
	api := &fakeArk{}
	a := newTestArk(api)

	job, err := a.Submit(context.Background(), Request{
		Kind:   process.KindVideo,
		Prompt: "waves at dusk",
		Image:  img.Render(8, 8, "seed"),
		Params: map[string]string{"resolution": "720p", "duration": "5"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID != "cgt-123" || job.Kind != process.KindVideo || job.State != process.JobPending {
		t.Fatalf("unexpected job %+v", job)
	}
	if api.createReq.Model != "video-model" {
		t.Errorf("model = %s", api.createReq.Model)
	}
	if len(api.createReq.Content) != 2 {
		t.Fatalf("expected text and image content, got %d items", len(api.createReq.Content))
	}
	text := *api.createReq.Content[0].Text
	if text != "waves at dusk --duration 5 --resolution 720p" {
		t.Errorf("prompt = %q", text)
	}
	if !strings.HasPrefix(api.createReq.Content[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("seed not sent as data url")
	}
}

func TestArkSubmitRejected(t *testing.T) {
	a := newTestArk(&fakeArk{createErr: errors.New("InvalidParameter: image too small")})

	_, err := a.Submit(context.Background(), Request{Kind: process.KindVideo, Prompt: "x"})
	var subErr *process.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "image too small") {
		t.Errorf("vendor text lost: %v", err)
	}
}

func TestArkSubmitImageIsSettled(t *testing.T) {
	api := &fakeArk{imageURL: "https://cdn.example/i.png"}
	a := newTestArk(api)

	job, err := a.Submit(context.Background(), Request{Kind: process.KindImage, Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.State != process.JobCompleted || job.ArtifactRef != "https://cdn.example/i.png" {
		t.Fatalf("image job not settled: %+v", job)
	}
	st, err := a.Status(context.Background(), job)
	if err != nil || st.State != process.JobCompleted || st.ArtifactRef != job.ArtifactRef {
		t.Fatalf("Status = %+v, %v", st, err)
	}
	if api.imagePrompt != "a lighthouse" {
		t.Errorf("prompt = %q", api.imagePrompt)
	}
}

func TestArkSubmitUnsupportedKind(t *testing.T) {
	a := newTestArk(&fakeArk{})
	_, err := a.Submit(context.Background(), Request{Kind: process.Kind("audio")})
	if !errors.Is(err, process.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestArkStatusMapping(t *testing.T) {
	tests := []struct {
		task       arkTask
		wantState  process.JobState
		wantRef    string
		wantReason string
	}{
		{arkTask{Status: "queued"}, process.JobPending, "", ""},
		{arkTask{Status: "running"}, process.JobRunning, "", ""},
		{arkTask{Status: "succeeded", VideoURL: "https://cdn.example/v.mp4"}, process.JobCompleted, "https://cdn.example/v.mp4", ""},
		{arkTask{Status: "failed", Error: "OutputVideoSensitiveContentDetected"}, process.JobFailed, "", "OutputVideoSensitiveContentDetected"},
		{arkTask{Status: "cancelled"}, process.JobFailed, "", "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.task.Status, func(t *testing.T) {
			a := newTestArk(&fakeArk{task: tt.task})
			st, err := a.Status(context.Background(), process.NewJob(process.KindVideo, "cgt-1"))
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if st.State != tt.wantState || st.ArtifactRef != tt.wantRef || st.Reason != tt.wantReason {
				t.Errorf("Status = %+v", st)
			}
		})
	}
}

func TestArkStatusTransportError(t *testing.T) {
	a := newTestArk(&fakeArk{taskErr: errors.New("dial tcp: i/o timeout")})
	if _, err := a.Status(context.Background(), process.NewJob(process.KindVideo, "cgt-1")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewArkClientRequiresKey(t *testing.T) {
	if _, err := NewArkClient(ArkConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}
