// Package files is the attachment gateway: upload, authorized download and
// the orphaned-attachment sweep.
package files

import (
	"context"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/jtekt/approval-flow/internal/app/apperr"
	"github.com/jtekt/approval-flow/internal/app/blob"
	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/metrics"
	"github.com/jtekt/approval-flow/internal/app/services/applications"
	"github.com/jtekt/approval-flow/internal/app/storage"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// Service stores attachments and guards downloads with the application
// confidentiality rule.
type Service struct {
	blobs *blob.Store
	apps  *applications.Service
	store storage.ApplicationStore
	log   *logger.Logger
}

// New constructs a file service.
func New(blobs *blob.Store, apps *applications.Service, store storage.ApplicationStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("files")
	}
	return &Service{blobs: blobs, apps: apps, store: store, log: log}
}

// Upload stores the file and returns its generated id. The id only becomes
// meaningful once a form references it.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if r == nil {
		return "", apperr.Validation("file is required")
	}
	id := uuid.NewString()
	if err := s.blobs.Put(ctx, id, filename, r); err != nil {
		return "", apperr.Storage(err, "store file")
	}
	s.log.WithField("file_id", id).WithField("filename", filename).Info("file uploaded")
	metrics.ObserveUpload()
	return id, nil
}

// Download streams a stored file. The requester must be able to read the
// application, and the application's form data must reference the file id.
func (s *Service) Download(ctx context.Context, fileID, applicationID, requesterID string) (string, io.ReadCloser, error) {
	form, err := s.apps.Authorize(ctx, applicationID, requesterID)
	if err != nil {
		return "", nil, err
	}
	if !approval.ReferencesFile(form.FormData, fileID) {
		return "", nil, apperr.NotFound("file %s is not referenced by application %s", fileID, applicationID)
	}

	filename, reader, err := s.blobs.Get(ctx, fileID)
	if err != nil {
		return "", nil, apperr.NotFound("file %s not found", fileID)
	}
	return filename, reader, nil
}

// FindUnused returns ids of stored files no non-deleted application
// references.
func (s *Service) FindUnused(ctx context.Context) ([]string, error) {
	stored, err := s.blobs.ListIDs(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "list stored files")
	}
	payloads, err := s.store.ListActiveFormData(ctx)
	if err != nil {
		return nil, apperr.Storage(err, "list form data")
	}

	referenced := make(map[string]bool)
	for _, payload := range payloads {
		for _, ref := range approval.FileReferences(payload) {
			referenced[ref.ID] = true
		}
	}

	var orphans []string
	for _, id := range stored {
		if !referenced[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}

// QuarantineUnused moves every orphaned file to the trash area and returns
// the moved ids.
func (s *Service) QuarantineUnused(ctx context.Context) ([]string, error) {
	orphans, err := s.FindUnused(ctx)
	if err != nil {
		return nil, err
	}
	var moved []string
	for _, id := range orphans {
		if err := s.blobs.Quarantine(ctx, id); err != nil {
			s.log.WithError(err).WithField("file_id", id).Warn("quarantine failed")
			continue
		}
		moved = append(moved, id)
	}
	if len(moved) > 0 {
		s.log.WithField("count", len(moved)).Info("orphaned files quarantined")
		metrics.ObserveQuarantined(len(moved))
	}
	return moved, nil
}
