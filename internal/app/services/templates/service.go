// Package templates manages reusable form templates and their group
// visibility.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jtekt/approval-flow/internal/app/apperr"
	"github.com/jtekt/approval-flow/internal/app/domain/template"
	"github.com/jtekt/approval-flow/internal/app/storage"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// Service manages form templates.
type Service struct {
	users storage.UserStore
	store storage.TemplateStore
	log   *logger.Logger
}

// New constructs a template service.
func New(users storage.UserStore, store storage.TemplateStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("templates")
	}
	return &Service{users: users, store: store, log: log}
}

// Input is the creatable/updatable part of a template.
type Input struct {
	Label       string
	Description string
	Fields      json.RawMessage
	GroupIDs    []string
}

// Create stores a new template owned by creatorID.
func (s *Service) Create(ctx context.Context, creatorID string, in Input) (template.Template, error) {
	if strings.TrimSpace(in.Label) == "" {
		return template.Template{}, apperr.Validation("label is required")
	}
	created, err := s.store.CreateTemplate(ctx, template.Template{
		Label:           in.Label,
		Description:     in.Description,
		Fields:          in.Fields,
		CreatorID:       creatorID,
		VisibleGroupIDs: in.GroupIDs,
	})
	if err != nil {
		return template.Template{}, apperr.Storage(err, "create template")
	}
	s.log.WithField("template_id", created.ID).
		WithField("creator_id", creatorID).
		Info("template created")
	return created, nil
}

// Get returns one template by id.
func (s *Service) Get(ctx context.Context, id string) (template.Template, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return template.Template{}, apperr.NotFound("template %s not found", id)
		}
		return template.Template{}, apperr.Storage(err, "load template")
	}
	return t, nil
}

// ListVisible returns templates the user created or that any of the user's
// groups can see.
func (s *Service) ListVisible(ctx context.Context, userID string) ([]template.Template, error) {
	var groupIDs []string
	if u, err := s.users.GetUser(ctx, userID); err == nil {
		groupIDs = u.GroupIDs
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Storage(err, "resolve user")
	}

	out, err := s.store.ListVisibleTemplates(ctx, userID, groupIDs)
	if err != nil {
		return nil, apperr.Storage(err, "list templates")
	}
	return out, nil
}

// Update replaces label, description, fields and the whole visibility set.
// Creator only.
func (s *Service) Update(ctx context.Context, id, requesterID string, in Input) (template.Template, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return template.Template{}, err
	}
	if existing.CreatorID != requesterID {
		return template.Template{}, apperr.Forbidden("only the creator may update template %s", id)
	}
	if strings.TrimSpace(in.Label) == "" {
		return template.Template{}, apperr.Validation("label is required")
	}

	updated, err := s.store.UpdateTemplate(ctx, template.Template{
		ID:              id,
		Label:           in.Label,
		Description:     in.Description,
		Fields:          in.Fields,
		VisibleGroupIDs: in.GroupIDs,
	})
	if err != nil {
		return template.Template{}, apperr.Storage(err, "update template")
	}
	return updated, nil
}

// Delete removes a template. Creator only.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.CreatorID != requesterID {
		return apperr.Forbidden("only the creator may delete template %s", id)
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return apperr.Storage(err, "delete template")
	}
	s.log.WithField("template_id", id).Info("template deleted")
	return nil
}
