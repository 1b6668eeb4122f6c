// Package blob stores uploaded attachments. Each attachment lives under its
// own id prefix and holds exactly one object, keyed by the original filename.
// Storage is addressed by URL through viant/afs, so a local directory
// (file:///data/uploads), an in-memory scheme (mem://uploads) for tests, or an
// s3:// bucket all work unchanged.
package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/jtekt/approval-flow/internal/app/storage"
)

// TrashPrefix is where quarantined attachments are moved.
const TrashPrefix = "trash"

// Store reads and writes attachment objects under a base URL.
type Store struct {
	fs      afs.Service
	baseURL string
}

// New creates a store rooted at baseURL, creating the root when absent.
func New(ctx context.Context, baseURL string) (*Store, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("blob base URL is required")
	}
	fs := afs.New()
	if ok, _ := fs.Exists(ctx, baseURL); !ok {
		if err := fs.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("create blob root %s: %w", baseURL, err)
		}
	}
	return &Store{fs: fs, baseURL: baseURL}, nil
}

// Put stores the file's bytes under id. Any previous object under the same id
// is replaced.
func (s *Store) Put(ctx context.Context, id, filename string, r io.Reader) error {
	if filename == "" {
		filename = "file"
	}
	dest := url.Join(s.baseURL, id, filename)
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, r); err != nil {
		return fmt.Errorf("upload %s: %w", dest, err)
	}
	return nil
}

// Get returns the filename and content of the single object stored under id.
func (s *Store) Get(ctx context.Context, id string) (string, io.ReadCloser, error) {
	dir := url.Join(s.baseURL, id)
	objects, err := s.fs.List(ctx, dir)
	if err != nil {
		return "", nil, fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
	}
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		reader, err := s.fs.OpenURL(ctx, object.URL())
		if err != nil {
			return "", nil, fmt.Errorf("open %s: %w", object.URL(), err)
		}
		return object.Name(), reader, nil
	}
	return "", nil, fmt.Errorf("file %s: %w", id, storage.ErrNotFound)
}

// ListIDs returns every attachment id in the store, excluding the trash area.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, object := range objects {
		name := strings.Trim(object.Name(), "/")
		if !object.IsDir() || name == "" || name == TrashPrefix {
			continue
		}
		// a listing includes the listed directory itself
		if strings.TrimSuffix(object.URL(), "/") == strings.TrimSuffix(s.baseURL, "/") {
			continue
		}
		ids = append(ids, name)
	}
	return ids, nil
}

// Quarantine moves the attachment under id into the trash area.
func (s *Store) Quarantine(ctx context.Context, id string) error {
	src := url.Join(s.baseURL, id)
	dest := url.Join(s.baseURL, TrashPrefix, id)
	if err := s.fs.Move(ctx, src, dest); err != nil {
		return fmt.Errorf("quarantine %s: %w", id, err)
	}
	return nil
}

// Delete removes the attachment under id outright.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.fs.Delete(ctx, url.Join(s.baseURL, id))
}
