package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RhythrosaLabs/loom/internal/img"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

func waitFor(t *testing.T, s *Scheduler, cond func([]Task) bool) []Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := s.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if cond(tasks) {
			return tasks
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
	return nil
}

func TestTaskRunsOnceAcrossTicks(t *testing.T) {
	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	release := make(chan struct{})
	exec := func(ctx context.Context, task Task) error {
		mu.Lock()
		calls[task.ID]++
		mu.Unlock()
		<-release
		return nil
	}

	s := New(2*time.Millisecond, exec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := s.Add(ctx, Task{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, Task{ID: "later", At: time.Now().Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, s, func(ts []Task) bool { return len(ts) == 2 && ts[0].Running })
	// Let many ticks pass while the task is still running.
	time.Sleep(30 * time.Millisecond)
	close(release)

	tasks := waitFor(t, s, func(ts []Task) bool { return ts[0].Completed })
	if tasks[0].Running || tasks[0].Err != "" {
		t.Errorf("unexpected task state %+v", tasks[0])
	}
	if tasks[1].Running || tasks[1].Completed {
		t.Errorf("future task should not run: %+v", tasks[1])
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	if calls["a"] != 1 || calls["later"] != 0 {
		t.Errorf("calls = %v", calls)
	}
	mu.Unlock()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if err := s.Add(context.Background(), Task{}); !errors.Is(err, ErrStopped) {
		t.Errorf("Add after stop = %v", err)
	}
}

func TestFailedTaskIsNotRetried(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	exec := func(context.Context, Task) error {
		mu.Lock()
		count++
		mu.Unlock()
		return errors.New("remote rejected")
	}
	s := New(time.Millisecond, exec, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Add(ctx, Task{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, Task{ID: "x"}); err != nil {
		t.Fatal(err)
	}
	tasks := waitFor(t, s, func(ts []Task) bool { return len(ts) == 1 && ts[0].Completed })
	if tasks[0].Err != "remote rejected" {
		t.Errorf("err = %q", tasks[0].Err)
	}
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("executed %d times", count)
	}
}

func TestLoadTasks(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	body := `[{"id":"nightly","at":"2026-01-02T03:04:05Z","request":{"mode":"image","prompt":"a lighthouse"}}]`
	if err := os.WriteFile(good, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	tasks, err := LoadTasks(good)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Request.Mode != schema.ModeImage || tasks[0].At.Year() != 2026 {
		t.Errorf("tasks = %+v", tasks)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"request":{"mode":"bogus"}}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTasks(bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadTasksInlinesLocalSeeds(t *testing.T) {
	dir := t.TempDir()
	if err := img.Render(24, 16, "dawn").Save(filepath.Join(dir, "dawn.png")); err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(dir, "dawn.png")
	body := `[
		{"id":"rel","request":{"mode":"image-to-video","seed_image":"dawn.png"}},
		{"id":"file","request":{"mode":"image-to-video","seed_image":"file://` + abs + `"}},
		{"id":"remote","request":{"mode":"image-to-video","seed_image":"https://cdn.example.com/a.png"}}
	]`
	path := filepath.Join(dir, "schedule.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	tasks, err := LoadTasks(path)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	for _, task := range tasks[:2] {
		if !strings.HasPrefix(task.Request.SeedImage, "data:image/png;base64,") {
			t.Errorf("task %s seed = %.40q", task.ID, task.Request.SeedImage)
		}
	}
	if tasks[2].Request.SeedImage != "https://cdn.example.com/a.png" {
		t.Errorf("remote seed rewritten: %q", tasks[2].Request.SeedImage)
	}

	missing := filepath.Join(dir, "missing.json")
	if err := os.WriteFile(missing, []byte(`[{"request":{"mode":"image-to-video","seed_image":"nope.png"}}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTasks(missing); err == nil {
		t.Error("expected error for unreadable seed")
	}
}
