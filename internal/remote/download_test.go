package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPublicHTTPClientRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("internal"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "seed")
	err := Download(context.Background(), NewPublicHTTPClient(5*time.Second), srv.URL+"/admin", dst)
	if !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("err = %v, want ErrPrivateAddress", err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("destination written for refused download")
	}
}

func TestPublicIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"8.8.8.8", true},
		{"2606:4700:4700::1111", true},
		{"127.0.0.1", false},
		{"10.1.2.3", false},
		{"172.16.0.9", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"0.0.0.0", false},
		{"::1", false},
		{"fd00::1", false},
		{"fe80::1", false},
	}
	for _, tt := range tests {
		if got := PublicIP(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("PublicIP(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestDownloadHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "no such object", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "seg", "0.mp4")
	if err := Download(context.Background(), srv.Client(), srv.URL+"/clip.mp4", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "video-bytes" {
		t.Fatalf("content = %q, %v", b, err)
	}
	if _, err := os.Stat(dst + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}

	missing := filepath.Join(dir, "missing.mp4")
	if err := Download(context.Background(), srv.Client(), srv.URL+"/missing", missing); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Errorf("destination written for failed download")
	}
}

func TestDownloadFileRef(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, ref := range []string{src, "file://" + src} {
		dst := filepath.Join(dir, "copy.bin")
		if err := Download(context.Background(), nil, ref, dst); err != nil {
			t.Fatalf("Download(%s): %v", ref, err)
		}
		if b, _ := os.ReadFile(dst); string(b) != "abc" {
			t.Errorf("content = %q", b)
		}
	}
	if err := Download(context.Background(), nil, filepath.Join(dir, "nope"), filepath.Join(dir, "x")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
