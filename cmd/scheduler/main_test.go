package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/RhythrosaLabs/loom/internal/scheduler"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

type capture struct {
	subject string
	reqs    []schema.RunRequest
	err     error
}

func (c *capture) PublishJSON(subject string, v any) error {
	if c.err != nil {
		return c.err
	}
	c.subject = subject
	c.reqs = append(c.reqs, v.(schema.RunRequest))
	return nil
}

func TestPublishTaskAssignsRunID(t *testing.T) {
	pub := &capture{}
	now := func() time.Time { return time.Unix(1700000000, 0) }
	exec := publishTask(pub, "loom.runs.requested", 0.5, now)

	task := scheduler.Task{ID: "nightly", Request: schema.RunRequest{Mode: schema.ModeTextToVideo, Prompt: "tide"}}
	if err := exec(context.Background(), task); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if err := exec(context.Background(), task); err != nil {
		t.Fatalf("exec: %v", err)
	}

	if pub.subject != "loom.runs.requested" || len(pub.reqs) != 2 {
		t.Fatalf("published %q %d", pub.subject, len(pub.reqs))
	}
	got := pub.reqs[0]
	if _, err := uuid.Parse(got.RunID); err != nil {
		t.Errorf("run id %q: %v", got.RunID, err)
	}
	if got.RunID == pub.reqs[1].RunID {
		t.Error("each firing should get its own run id")
	}
	if got.CrossfadeSeconds != 0.5 || got.RequestedAt != 1700000000 {
		t.Errorf("request = %+v", got)
	}
	if task.Request.RunID != "" {
		t.Error("task request mutated")
	}
}

func TestPublishTaskKeepsExplicitValues(t *testing.T) {
	pub := &capture{}
	id := uuid.NewString()
	exec := publishTask(pub, "s", 0.5, time.Now)
	task := scheduler.Task{Request: schema.RunRequest{RunID: id, Mode: schema.ModeImage, Prompt: "p", CrossfadeSeconds: 1}}
	if err := exec(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if pub.reqs[0].RunID != id || pub.reqs[0].CrossfadeSeconds != 1 {
		t.Errorf("request = %+v", pub.reqs[0])
	}
}

func TestPublishTaskErrors(t *testing.T) {
	exec := publishTask(&capture{}, "s", 0, time.Now)
	if err := exec(context.Background(), scheduler.Task{Request: schema.RunRequest{Mode: "bogus"}}); err == nil {
		t.Error("expected validation error")
	}

	boom := errors.New("nats down")
	exec = publishTask(&capture{err: boom}, "s", 0, time.Now)
	err := exec(context.Background(), scheduler.Task{Request: schema.RunRequest{Mode: schema.ModeImage, Prompt: "p"}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
