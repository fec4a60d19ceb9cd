// Package bundle packages the ordered artifacts of a run into one ZIP archive.
package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

const ManifestName = "manifest.json"

// Entry is one artifact to include. Exactly one of Path or Open must be set.
type Entry struct {
	Name     string
	MimeType string
	Role     string // final, segment, frame, seed, image, preview
	Path     string
	Open     func() (io.ReadCloser, error)
}

// ManifestItem describes one archived file.
type ManifestItem struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`
}

type Manifest struct {
	RunID     string         `json:"run_id,omitempty"`
	CreatedAt int64          `json:"created_at"`
	Items     []ManifestItem `json:"items"`
}

// Write streams a ZIP of entries, in order, followed by manifest.json.
// Duplicate names get a numeric suffix.
func Write(w io.Writer, runID string, entries []Entry) (*Manifest, error) {
	zw := zip.NewWriter(w)
	m := &Manifest{RunID: runID, CreatedAt: time.Now().Unix()}
	used := map[string]int{ManifestName: 1}

	for i, e := range entries {
		name := uniqueName(cleanName(e.Name, i), used)
		n, err := addEntry(zw, name, e)
		if err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("add %s: %w", name, err)
		}
		m.Items = append(m.Items, ManifestItem{Index: i, Name: name, Role: e.Role, MimeType: e.MimeType, Size: n})
	}

	mw, err := zw.Create(ManifestName)
	if err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("add manifest: %w", err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return m, nil
}

// WriteFile writes the bundle to path, replacing it only when complete.
func WriteFile(path, runID string, entries []Entry) (*Manifest, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	m, err := Write(f, runID, entries)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close bundle: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("rename bundle: %w", err)
	}
	return m, nil
}

func addEntry(zw *zip.Writer, name string, e Entry) (int64, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case e.Open != nil:
		rc, err = e.Open()
	case e.Path != "":
		rc, err = os.Open(e.Path)
	default:
		return 0, fmt.Errorf("entry has no content")
	}
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	method := zip.Deflate
	// Encoded media does not compress further.
	if strings.HasPrefix(e.MimeType, "video/") || strings.HasPrefix(e.MimeType, "image/") {
		method = zip.Store
	}
	hdr := &zip.FileHeader{Name: name, Method: method, Modified: time.Now()}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, err
	}
	return io.Copy(fw, rc)
}

func cleanName(name string, i int) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		name = fmt.Sprintf("artifact-%03d", i)
	}
	return name
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	return uniqueName(candidate, used)
}
