package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/RhythrosaLabs/loom/internal/runstate"
	"github.com/RhythrosaLabs/loom/internal/store"
	"github.com/RhythrosaLabs/loom/pkg/schema"
)

func init() { gin.SetMode(gin.TestMode) }

type recordingDispatcher struct {
	mu   sync.Mutex
	reqs []schema.RunRequest
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req schema.RunRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

func newTestRouter(t *testing.T, d Dispatcher) (*gin.Engine, *runstate.Memory, *store.FileStore) {
	t.Helper()
	runs := runstate.NewMemory()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(NewHandler(d, runs, st, nil)), runs, st
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitRun(t *testing.T) {
	d := &recordingDispatcher{}
	r, runs, _ := newTestRouter(t, d)

	w := do(r, http.MethodPost, "/runs", `{"mode":"text-to-video","prompt":"tide pools","segments":2}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	id := resp["run_id"]
	if id == "" || resp["status"] != "queued" {
		t.Fatalf("response = %v", resp)
	}
	if len(d.reqs) != 1 || d.reqs[0].RunID != id || d.reqs[0].RequestedAt == 0 {
		t.Errorf("dispatched = %+v", d.reqs)
	}
	snap, err := runs.Load(context.Background(), id)
	if err != nil || snap.Status != schema.RunQueued {
		t.Errorf("recorded = %+v, %v", snap, err)
	}

	w = do(r, http.MethodGet, "/runs/"+id, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"queued"`) {
		t.Errorf("get run = %d %s", w.Code, w.Body)
	}
}

func TestSubmitRunResolvesDefaultSegments(t *testing.T) {
	tests := []struct {
		name     string
		def      int
		body     string
		wantSegs int
	}{
		{"default applied", 3, `{"mode":"text-to-video","prompt":"x"}`, 3},
		{"explicit wins", 3, `{"mode":"text-to-video","prompt":"x","segments":5}`, 5},
		{"image has none", 3, `{"mode":"image","prompt":"x"}`, 0},
		{"unknown default", 0, `{"mode":"text-to-video","prompt":"x"}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := runstate.NewMemory()
			st, err := store.NewFileStore(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			h := NewHandler(&recordingDispatcher{}, runs, st, nil)
			h.DefaultSegments = tt.def
			w := do(NewRouter(h), http.MethodPost, "/runs", tt.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d body = %s", w.Code, w.Body)
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			snap, err := runs.Load(context.Background(), resp["run_id"])
			if err != nil {
				t.Fatal(err)
			}
			if snap.RequestedCount != tt.wantSegs {
				t.Errorf("requested = %d, want %d", snap.RequestedCount, tt.wantSegs)
			}
		})
	}
}

func TestSubmitRunRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"mode":`, http.StatusBadRequest},
		{"invalid mode", `{"mode":"audio","prompt":"x"}`, http.StatusBadRequest},
		{"missing seed", `{"mode":"image-to-video"}`, http.StatusBadRequest},
		{"seed path", `{"mode":"image-to-video","seed_image":"/etc/ssl/private/server.png"}`, http.StatusBadRequest},
		{"seed file url", `{"mode":"image-to-video","seed_image":"file:///etc/passwd"}`, http.StatusBadRequest},
		{"seed relative path", `{"mode":"image-to-video","seed_image":"../../seed.png"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			r, _, _ := newTestRouter(t, d)
			if w := do(r, http.MethodPost, "/runs", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if len(d.reqs) != 0 {
				t.Error("rejected request was dispatched")
			}
		})
	}

	r, _, _ := newTestRouter(t, &recordingDispatcher{err: errors.New("nats down")})
	if w := do(r, http.MethodPost, "/runs", `{"mode":"image","prompt":"x"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("dispatch failure status = %d", w.Code)
	}
}

func TestGetArtifact(t *testing.T) {
	r, runs, st := newTestRouter(t, &recordingDispatcher{})
	ctx := context.Background()

	ref, err := st.Put(ctx, "runs/r1/final.mp4", strings.NewReader("movie"), "video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	if err := runs.Save(ctx, &schema.RunDone{
		RunID:     "r1",
		Status:    schema.RunSucceeded,
		Artifacts: []schema.Artifact{{Name: "final.mp4", Ref: ref, MimeType: "video/mp4", Size: 5}},
	}); err != nil {
		t.Fatal(err)
	}

	w := do(r, http.MethodGet, "/runs/r1/artifacts/final.mp4", "")
	if w.Code != http.StatusOK || w.Body.String() != "movie" {
		t.Fatalf("artifact = %d %q", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content type = %q", ct)
	}

	for _, target := range []string{"/runs/r1/artifacts/nope.png", "/runs/missing/artifacts/final.mp4", "/runs/missing"} {
		if w := do(r, http.MethodGet, target, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d", target, w.Code)
		}
	}
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t, &recordingDispatcher{})
	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
}

type countingExecutor struct {
	mu  sync.Mutex
	ids []string
}

func (e *countingExecutor) Execute(_ context.Context, req schema.RunRequest) (*schema.RunDone, error) {
	e.mu.Lock()
	e.ids = append(e.ids, req.RunID)
	e.mu.Unlock()
	return &schema.RunDone{RunID: req.RunID, Status: schema.RunSucceeded}, nil
}

func TestLocalDispatcher(t *testing.T) {
	exec := &countingExecutor{}
	d := NewLocalDispatcher(context.Background(), exec, 1, nil)
	for _, id := range []string{"a", "b", "c"} {
		if err := d.Dispatch(context.Background(), schema.RunRequest{RunID: id}); err != nil {
			t.Fatal(err)
		}
	}
	d.Wait()
	if len(exec.ids) != 3 {
		t.Errorf("executed %v", exec.ids)
	}
}

type fakePublisher struct {
	subject string
	v       any
}

func (p *fakePublisher) PublishJSON(subject string, v any) error {
	p.subject, p.v = subject, v
	return nil
}

func TestBusDispatcher(t *testing.T) {
	p := &fakePublisher{}
	d := &BusDispatcher{Bus: p, Subject: "loom.runs.requested"}
	if err := d.Dispatch(context.Background(), schema.RunRequest{RunID: "r"}); err != nil {
		t.Fatal(err)
	}
	if req, ok := p.v.(schema.RunRequest); p.subject != "loom.runs.requested" || !ok || req.RunID != "r" {
		t.Errorf("published %q %#v", p.subject, p.v)
	}
}
