package bundle

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readZip(t *testing.T, b []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestWriteOrderedWithManifest(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "final.mp4")
	if err := os.WriteFile(final, []byte("movie"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	m, err := Write(&buf, "run-1", []Entry{
		{Name: "final.mp4", Path: final, MimeType: "video/mp4", Role: "final"},
		{Name: "frame.png", MimeType: "image/png", Role: "frame", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("png-1")), nil
		}},
		{Name: "../../etc/frame.png", MimeType: "image/png", Role: "frame", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("png-2")), nil
		}},
		{Name: "", MimeType: "text/plain", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("notes")), nil
		}},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	wantNames := []string{"final.mp4", "frame.png", "frame-1.png", "artifact-003"}
	if len(m.Items) != len(wantNames) {
		t.Fatalf("manifest items = %d", len(m.Items))
	}
	for i, want := range wantNames {
		if m.Items[i].Name != want || m.Items[i].Index != i {
			t.Errorf("item %d = %+v, want name %s", i, m.Items[i], want)
		}
	}
	if m.Items[0].Size != 5 {
		t.Errorf("size = %d", m.Items[0].Size)
	}

	files := readZip(t, buf.Bytes())
	if files["final.mp4"] != "movie" || files["frame-1.png"] != "png-2" {
		t.Errorf("unexpected contents: %v", files)
	}
	var got Manifest
	if err := json.Unmarshal([]byte(files[ManifestName]), &got); err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if got.RunID != "run-1" || len(got.Items) != 4 {
		t.Errorf("manifest = %+v", got)
	}
}

func TestWriteMissingFile(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, "", []Entry{{Name: "x.mp4", Path: filepath.Join(t.TempDir(), "nope.mp4")}})
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "bundle.zip")

	if _, err := WriteFile(dst, "r", []Entry{{Name: "bad"}}); err == nil {
		t.Fatal("expected error for entry without content")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatal("partial bundle left at destination")
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp bundle left behind")
	}

	src := filepath.Join(dir, "a.png")
	if err := os.WriteFile(src, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteFile(dst, "r", []Entry{{Name: "a.png", Path: src}}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if readZip(t, b)["a.png"] != "a" {
		t.Error("bundle content mismatch")
	}
}
