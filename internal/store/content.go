package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// DerivationType tags every content record created for a run artifact.
const DerivationType = "generated"

// ContentStore keeps artifacts in a simple-content service as content derived
// from a parent record (the uploaded seed or a configured root). References
// are content IDs.
type ContentStore struct {
	svc     simplecontent.Service
	backend string
	parent  uuid.UUID
}

// NewContentStore wraps a simple-content service with the configured default
// storage backend. parent may be uuid.Nil until Scope is called.
func NewContentStore(svc simplecontent.Service, backend string, parent uuid.UUID) *ContentStore {
	return &ContentStore{svc: svc, backend: backend, parent: parent}
}

// Scope returns a store that derives new artifacts from parentRef instead.
func (c *ContentStore) Scope(parentRef string) (Store, error) {
	id, err := uuid.Parse(parentRef)
	if err != nil {
		return nil, fmt.Errorf("parse parent content id: %w", err)
	}
	return &ContentStore{svc: c.svc, backend: c.backend, parent: id}, nil
}

// Put creates a derived content placeholder, uploads r as its object and
// marks it processed.
func (c *ContentStore) Put(ctx context.Context, key string, r io.Reader, mimeType string) (string, error) {
	if c.parent == uuid.Nil {
		return "", errors.New("store: no parent content configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	parent, err := c.svc.GetContent(ctx, c.parent)
	if err != nil {
		return "", fmt.Errorf("get parent content: %w", err)
	}

	derived, err := c.svc.CreateDerivedContent(ctx, simplecontent.CreateDerivedContentRequest{
		ParentID:       parent.ID,
		OwnerID:        parent.OwnerID,
		TenantID:       parent.TenantID,
		DerivationType: DerivationType,
		Variant:        variantFor(cleanKey),
		Metadata: map[string]interface{}{
			"key":       cleanKey,
			"mime_type": mimeType,
		},
		InitialStatus: simplecontent.ContentStatusCreated,
	})
	if err != nil {
		return "", fmt.Errorf("create derived content: %w", err)
	}

	if err := c.svc.UpdateContentStatus(ctx, derived.ID, simplecontent.ContentStatusProcessing); err != nil {
		return "", fmt.Errorf("update status for %s: %w", derived.ID, err)
	}

	if _, err := c.svc.UploadObjectForContent(ctx, simplecontent.UploadObjectForContentRequest{
		ContentID:          derived.ID,
		StorageBackendName: c.backend,
		Reader:             r,
		FileName:           path.Base(cleanKey),
		MimeType:           mimeType,
	}); err != nil {
		return "", fmt.Errorf("upload object for content: %w", err)
	}

	if err := c.svc.UpdateContentStatus(ctx, derived.ID, simplecontent.ContentStatusProcessed); err != nil {
		return "", fmt.Errorf("mark %s processed: %w", derived.ID, err)
	}
	return derived.ID.String(), nil
}

func (c *ContentStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	rc, err := c.svc.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download content: %w", err)
	}
	return rc, nil
}

// Source is content downloaded to a temporary file.
type Source struct {
	Path     string
	Filename string
	MimeType string
}

// FetchSource downloads content into a temporary file. The returned cleanup
// removes it.
func (c *ContentStore) FetchSource(ctx context.Context, ref string) (*Source, func() error, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("parse content id: %w", err)
	}
	reader, err := c.svc.DownloadContent(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("download content: %w", err)
	}
	defer reader.Close()

	temp, err := os.CreateTemp("", "loom-src-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(temp, reader); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return nil, nil, fmt.Errorf("copy content to disk: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return nil, nil, fmt.Errorf("close temp file: %w", err)
	}

	filename := "downloaded"
	mimeType := ""
	if meta, err := c.svc.GetContentMetadata(ctx, id); err == nil {
		if meta.FileName != "" {
			filename = meta.FileName
		}
		mimeType = meta.MimeType
	}
	if mimeType == "" {
		if mt, err := detectMime(temp.Name()); err == nil {
			mimeType = mt
		}
	}

	cleanup := func() error {
		return os.Remove(temp.Name())
	}
	return &Source{Path: temp.Name(), Filename: filename, MimeType: mimeType}, cleanup, nil
}

// variantFor turns "runs/abc/segment-001.mp4" into "segment-001".
func variantFor(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
