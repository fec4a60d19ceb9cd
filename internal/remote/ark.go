package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"github.com/RhythrosaLabs/loom/internal/process"
)

const (
	DefaultArkBaseURL    = "https://ark.cn-beijing.volces.com/api/v3"
	DefaultArkVideoModel = "doubao-seedance-1-0-pro-250528"
	DefaultArkImageModel = "doubao-seedream-4-0-250828"
)

// arkTask is the part of a content generation task the client relies on.
type arkTask struct {
	ID       string
	Status   string
	VideoURL string
	Error    string
}

// arkAPI is the subset of the Ark runtime used here.
type arkAPI interface {
	CreateVideoTask(ctx context.Context, req model.CreateContentGenerationTaskRequest) (string, error)
	GetVideoTask(ctx context.Context, id string) (arkTask, error)
	GenerateImage(ctx context.Context, req model.GenerateImagesRequest) (string, error)
}

type arkRuntime struct {
	c *arkruntime.Client
}

func (a arkRuntime) CreateVideoTask(ctx context.Context, req model.CreateContentGenerationTaskRequest) (string, error) {
	resp, err := a.c.CreateContentGenerationTask(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (a arkRuntime) GetVideoTask(ctx context.Context, id string) (arkTask, error) {
	resp, err := a.c.GetContentGenerationTask(ctx, model.GetContentGenerationTaskRequest{ID: id})
	if err != nil {
		return arkTask{}, err
	}
	t := arkTask{ID: resp.ID, Status: resp.Status, VideoURL: resp.Content.VideoURL}
	if resp.Error != nil {
		t.Error = resp.Error.Message
	}
	return t, nil
}

func (a arkRuntime) GenerateImage(ctx context.Context, req model.GenerateImagesRequest) (string, error) {
	resp, err := a.c.GenerateImages(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	for _, d := range resp.Data {
		if d != nil && d.Url != nil && *d.Url != "" {
			return *d.Url, nil
		}
	}
	return "", errors.New("no image in response")
}

// ArkConfig configures the Volcengine Ark backend.
type ArkConfig struct {
	APIKey     string
	BaseURL    string
	VideoModel string
	ImageModel string
	// ImageSize is passed through to image generation ("1K", "2K").
	ImageSize string
}

// ArkClient generates images and image-to-video clips through Volcengine Ark.
// Image generation is synchronous on Ark; its jobs come back already completed.
type ArkClient struct {
	api  arkAPI
	cfg  ArkConfig
	http *http.Client
}

func NewArkClient(cfg ArkConfig) (*ArkClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ark: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArkBaseURL
	}
	if cfg.VideoModel == "" {
		cfg.VideoModel = DefaultArkVideoModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultArkImageModel
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = "1K"
	}
	c := arkruntime.NewClientWithApiKey(cfg.APIKey, arkruntime.WithBaseUrl(cfg.BaseURL))
	return &ArkClient{api: arkRuntime{c: c}, cfg: cfg, http: http.DefaultClient}, nil
}

func (a *ArkClient) Name() string { return "ark" }

func (a *ArkClient) Supports(kind process.Kind) bool {
	return kind == process.KindImage || kind == process.KindVideo
}

// videoPrompt appends generation parameters as Ark text flags, e.g.
// "a cat --resolution 720p --duration 5".
func videoPrompt(prompt string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	for _, k := range keys {
		if params[k] == "" {
			continue
		}
		fmt.Fprintf(&b, " --%s %s", k, params[k])
	}
	return strings.TrimSpace(b.String())
}

func (a *ArkClient) Submit(ctx context.Context, req Request) (*process.Job, error) {
	if err := Check(a, req.Kind); err != nil {
		return nil, err
	}

	if req.Kind == process.KindImage {
		url, err := a.api.GenerateImage(ctx, model.GenerateImagesRequest{
			Model:          a.cfg.ImageModel,
			Prompt:         req.Prompt,
			Size:           volcengine.String(a.cfg.ImageSize),
			ResponseFormat: volcengine.String(model.GenerateImagesResponseFormatURL),
			Watermark:      volcengine.Bool(false),
		})
		if err != nil {
			return nil, &process.SubmissionError{Backend: a.Name(), Err: err}
		}
		job := process.NewJob(process.KindImage, "img-"+uuid.NewString())
		process.MarkCompleted(job, url)
		return job, nil
	}

	content := []*model.CreateContentGenerationContentItem{
		{
			Type: model.ContentGenerationContentItemTypeText,
			Text: volcengine.String(videoPrompt(req.Prompt, req.Params)),
		},
	}
	if req.Image != nil {
		dataURL, err := req.Image.DataURL()
		if err != nil {
			return nil, &process.SubmissionError{Backend: a.Name(), Err: fmt.Errorf("encode seed: %w", err)}
		}
		content = append(content, &model.CreateContentGenerationContentItem{
			Type:     model.ContentGenerationContentItemTypeImage,
			ImageURL: &model.ImageURL{URL: dataURL},
		})
	}

	id, err := a.api.CreateVideoTask(ctx, model.CreateContentGenerationTaskRequest{
		Model:   a.cfg.VideoModel,
		Content: content,
	})
	if err != nil {
		return nil, &process.SubmissionError{Backend: a.Name(), Err: err}
	}
	return process.NewJob(process.KindVideo, id), nil
}

func (a *ArkClient) Status(ctx context.Context, job *process.Job) (Status, error) {
	if job.Kind == process.KindImage {
		// Already settled at submission.
		return Status{State: job.State, ArtifactRef: job.ArtifactRef, Reason: job.FailureReason}, nil
	}

	t, err := a.api.GetVideoTask(ctx, job.ID)
	if err != nil {
		return Status{}, fmt.Errorf("get task %s: %w", job.ID, err)
	}
	switch strings.ToLower(t.Status) {
	case "succeeded":
		return Status{State: process.JobCompleted, ArtifactRef: t.VideoURL}, nil
	case "failed", "cancelled", "expired":
		reason := t.Error
		if reason == "" {
			reason = t.Status
		}
		return Status{State: process.JobFailed, Reason: reason}, nil
	case "queued", "":
		return Status{State: process.JobPending}, nil
	default:
		return Status{State: process.JobRunning}, nil
	}
}

func (a *ArkClient) Download(ctx context.Context, ref, dst string) error {
	return Download(ctx, a.http, ref, dst)
}
