// Package applications implements the approval workflow over application
// forms: creation with an ordered recipient flow, decisions, confidentiality
// and filtered listings.
package applications

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jtekt/approval-flow/internal/app/apperr"
	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/metrics"
	"github.com/jtekt/approval-flow/internal/app/storage"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// Service manages application forms.
type Service struct {
	users storage.UserStore
	store storage.ApplicationStore
	log   *logger.Logger

	// enforceFlowOrder rejects decisions from recipients that are not next
	// in line. Historically decisions were accepted out of order; the flag
	// keeps that behavior selectable per deployment.
	enforceFlowOrder bool
}

// Option configures the service.
type Option func(*Service)

// WithFlowOrderEnforcement toggles strict in-order decisions.
func WithFlowOrderEnforcement(enabled bool) Option {
	return func(s *Service) { s.enforceFlowOrder = enabled }
}

// New constructs an application service.
func New(users storage.UserStore, store storage.ApplicationStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	s := &Service{users: users, store: store, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries everything needed to open a new application.
type CreateInput struct {
	ApplicantID  string
	Title        string
	Type         string
	FormData     json.RawMessage
	RecipientIDs []string
	Private      bool
	GroupIDs     []string
}

// Create opens an application. The recipient order defines the approval flow:
// recipient i gets flow index i. Duplicate recipients are kept as given.
func (s *Service) Create(ctx context.Context, in CreateInput) (approval.Detail, error) {
	if len(in.RecipientIDs) == 0 {
		return approval.Detail{}, apperr.Validation("recipient list must not be empty")
	}
	if strings.TrimSpace(in.Title) == "" {
		return approval.Detail{}, apperr.Validation("title is required")
	}
	if _, err := s.users.GetUser(ctx, in.ApplicantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return approval.Detail{}, apperr.Validation("applicant %s does not exist", in.ApplicantID)
		}
		return approval.Detail{}, apperr.Storage(err, "resolve applicant")
	}

	form := approval.Form{
		Title:       in.Title,
		Type:        in.Type,
		FormData:    in.FormData,
		Private:     in.Private,
		ApplicantID: in.ApplicantID,
		CreatedAt:   time.Now().UTC(),
	}
	subs := make([]approval.Submission, len(in.RecipientIDs))
	for i, recipientID := range in.RecipientIDs {
		subs[i] = approval.Submission{RecipientID: recipientID, FlowIndex: i}
	}

	groupIDs := in.GroupIDs
	if !in.Private {
		// visibility grants only exist on private applications
		groupIDs = nil
	}

	created, err := s.store.CreateApplication(ctx, form, subs, groupIDs)
	if err != nil {
		return approval.Detail{}, apperr.Storage(err, "create application")
	}

	s.log.WithField("application_id", created.ID).
		WithField("applicant_id", created.ApplicantID).
		WithField("recipients", len(subs)).
		Info("application created")
	metrics.ObserveApplicationCreated(created.Type)

	return s.resolve(ctx, created, created.ApplicantID)
}

// Get returns the application with recipients, decisions and visibility. The
// content is redacted when the requester has no read access to a private
// application.
func (s *Service) Get(ctx context.Context, id, requesterID string) (approval.Detail, error) {
	form, err := s.activeForm(ctx, id)
	if err != nil {
		return approval.Detail{}, err
	}
	return s.resolve(ctx, form, requesterID)
}

// Delete soft-deletes an application. Only the applicant may delete.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	form, err := s.activeForm(ctx, id)
	if err != nil {
		return err
	}
	if form.ApplicantID != requesterID {
		return apperr.Forbidden("only the applicant may delete an application")
	}
	if err := s.store.SetDeleted(ctx, id, time.Now().UTC()); err != nil {
		return apperr.Storage(err, "delete application")
	}
	s.log.WithField("application_id", id).Info("application deleted")
	return nil
}

// Approve records the recipient's approval. Re-approving overwrites the
// earlier decision instead of adding a second one.
func (s *Service) Approve(ctx context.Context, applicationID, recipientID, comment string, attachmentHankos json.RawMessage) (approval.Decision, error) {
	return s.decide(ctx, approval.Decision{
		ApplicationID:    applicationID,
		RecipientID:      recipientID,
		Kind:             approval.DecisionApproved,
		Comment:          comment,
		AttachmentHankos: attachmentHankos,
	})
}

// Reject records the recipient's rejection with an optional reason.
func (s *Service) Reject(ctx context.Context, applicationID, recipientID, reason string) (approval.Decision, error) {
	return s.decide(ctx, approval.Decision{
		ApplicationID: applicationID,
		RecipientID:   recipientID,
		Kind:          approval.DecisionRejected,
		Comment:       reason,
	})
}

func (s *Service) decide(ctx context.Context, d approval.Decision) (approval.Decision, error) {
	if _, err := s.activeForm(ctx, d.ApplicationID); err != nil {
		return approval.Decision{}, err
	}

	subs, err := s.store.ListSubmissions(ctx, d.ApplicationID)
	if err != nil {
		return approval.Decision{}, apperr.Storage(err, "load submissions")
	}
	var own *approval.Submission
	for i := range subs {
		if subs[i].RecipientID == d.RecipientID {
			own = &subs[i]
			break
		}
	}
	if own == nil {
		return approval.Decision{}, apperr.NotFound("user %s is not a recipient of application %s", d.RecipientID, d.ApplicationID)
	}

	if s.enforceFlowOrder {
		approvals, rejections, err := s.decisionCounts(ctx, d.ApplicationID)
		if err != nil {
			return approval.Decision{}, err
		}
		if !approval.ReceivedPending(own.FlowIndex, approvals, rejections) {
			return approval.Decision{}, apperr.Validation("application is not awaiting a decision from %s", d.RecipientID)
		}
	}

	d.DecidedAt = time.Now().UTC()
	saved, err := s.store.UpsertDecision(ctx, d)
	if err != nil {
		return approval.Decision{}, apperr.Storage(err, "record decision")
	}

	s.log.WithField("application_id", d.ApplicationID).
		WithField("recipient_id", d.RecipientID).
		WithField("kind", string(d.Kind)).
		Info("decision recorded")
	metrics.ObserveDecision(string(d.Kind))

	return saved, nil
}

// UpdatePrivacy sets the private flag. Applicant only.
func (s *Service) UpdatePrivacy(ctx context.Context, applicationID, requesterID string, private bool) (approval.Detail, error) {
	form, err := s.requireApplicant(ctx, applicationID, requesterID)
	if err != nil {
		return approval.Detail{}, err
	}
	if err := s.store.SetPrivate(ctx, applicationID, private); err != nil {
		return approval.Detail{}, apperr.Storage(err, "update privacy")
	}
	form.Private = private
	return s.resolve(ctx, form, requesterID)
}

// UpdateVisibility replaces the whole visibility set. Applicant only. An
// empty list clears all grants.
func (s *Service) UpdateVisibility(ctx context.Context, applicationID, requesterID string, groupIDs []string) (approval.Detail, error) {
	form, err := s.requireApplicant(ctx, applicationID, requesterID)
	if err != nil {
		return approval.Detail{}, err
	}
	if err := s.store.ReplaceVisibility(ctx, applicationID, groupIDs); err != nil {
		return approval.Detail{}, apperr.Storage(err, "replace visibility")
	}
	return s.resolve(ctx, form, requesterID)
}

// AddVisibleGroup grants read access to one group.
func (s *Service) AddVisibleGroup(ctx context.Context, applicationID, requesterID, groupID string) (approval.Detail, error) {
	form, err := s.requireApplicant(ctx, applicationID, requesterID)
	if err != nil {
		return approval.Detail{}, err
	}
	if groupID == "" {
		return approval.Detail{}, apperr.Validation("group_id is required")
	}
	if err := s.store.AddVisibleGroup(ctx, applicationID, groupID); err != nil {
		return approval.Detail{}, apperr.Storage(err, "grant visibility")
	}
	return s.resolve(ctx, form, requesterID)
}

// RemoveVisibleGroup revokes one group's read access.
func (s *Service) RemoveVisibleGroup(ctx context.Context, applicationID, requesterID, groupID string) (approval.Detail, error) {
	form, err := s.requireApplicant(ctx, applicationID, requesterID)
	if err != nil {
		return approval.Detail{}, err
	}
	if groupID == "" {
		return approval.Detail{}, apperr.Validation("group_id is required")
	}
	if err := s.store.RemoveVisibleGroup(ctx, applicationID, groupID); err != nil {
		return approval.Detail{}, apperr.Storage(err, "revoke visibility")
	}
	return s.resolve(ctx, form, requesterID)
}

// List returns one page of applications matching the filter, newest first,
// with the total match count.
func (s *Service) List(ctx context.Context, filter approval.ListFilter) (approval.Page, error) {
	if filter.Relationship == "" {
		filter.Relationship = approval.RelationshipSubmittedBy
	}
	forms, total, err := s.store.ListApplications(ctx, filter)
	if err != nil {
		return approval.Page{}, apperr.Storage(err, "list applications")
	}

	page := approval.Page{Count: total, Applications: make([]approval.Detail, 0, len(forms))}
	for _, form := range forms {
		detail, err := s.resolve(ctx, form, filter.RequesterID)
		if err != nil {
			return approval.Page{}, err
		}
		page.Applications = append(page.Applications, detail)
	}
	return page, nil
}

// Authorize applies the confidentiality rule and returns the form when the
// requester may read its content.
func (s *Service) Authorize(ctx context.Context, applicationID, requesterID string) (approval.Form, error) {
	form, err := s.activeForm(ctx, applicationID)
	if err != nil {
		return approval.Form{}, err
	}
	subs, err := s.store.ListSubmissions(ctx, form.ID)
	if err != nil {
		return approval.Form{}, apperr.Storage(err, "load submissions")
	}
	allowed, err := s.canRead(ctx, form, subs, requesterID)
	if err != nil {
		return approval.Form{}, err
	}
	if !allowed {
		return approval.Form{}, apperr.Forbidden("no access to application %s", applicationID)
	}
	return form, nil
}

// resolve builds the Detail for a form, applying redaction when the requester
// is not cleared for a private application.
func (s *Service) resolve(ctx context.Context, form approval.Form, requesterID string) (approval.Detail, error) {
	subs, err := s.store.ListSubmissions(ctx, form.ID)
	if err != nil {
		return approval.Detail{}, apperr.Storage(err, "load submissions")
	}
	decisions, err := s.store.ListDecisions(ctx, form.ID)
	if err != nil {
		return approval.Detail{}, apperr.Storage(err, "load decisions")
	}
	groupIDs, err := s.store.ListVisibleGroups(ctx, form.ID)
	if err != nil {
		return approval.Detail{}, apperr.Storage(err, "load visibility")
	}

	byRecipient := make(map[string]approval.Decision, len(decisions))
	approvals, rejections := 0, 0
	for _, d := range decisions {
		byRecipient[d.RecipientID] = d
		switch d.Kind {
		case approval.DecisionApproved:
			approvals++
		case approval.DecisionRejected:
			rejections++
		}
	}

	detail := approval.Detail{
		Form:            form,
		Recipients:      make([]approval.Recipient, len(subs)),
		VisibleGroupIDs: groupIDs,
		State:           approval.DeriveState(len(subs), approvals, rejections),
	}
	for i, sub := range subs {
		recipient := approval.Recipient{Submission: sub}
		if d, ok := byRecipient[sub.RecipientID]; ok {
			decision := d
			recipient.Decision = &decision
		}
		detail.Recipients[i] = recipient
	}

	allowed, err := s.canRead(ctx, form, subs, requesterID)
	if err != nil {
		return approval.Detail{}, err
	}
	if !allowed {
		approval.Redact(&detail)
	}
	return detail, nil
}

// canRead is the single confidentiality rule: a non-private application is
// readable by any authenticated user; a private one only by the applicant,
// a recipient, or a member of a granted group.
func (s *Service) canRead(ctx context.Context, form approval.Form, subs []approval.Submission, requesterID string) (bool, error) {
	if !form.Private {
		return true, nil
	}
	if form.ApplicantID == requesterID {
		return true, nil
	}
	for _, sub := range subs {
		if sub.RecipientID == requesterID {
			return true, nil
		}
	}

	groupIDs, err := s.store.ListVisibleGroups(ctx, form.ID)
	if err != nil {
		return false, apperr.Storage(err, "load visibility")
	}
	if len(groupIDs) == 0 {
		return false, nil
	}
	requester, err := s.users.GetUser(ctx, requesterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, apperr.Storage(err, "resolve requester")
	}
	granted := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		granted[id] = true
	}
	for _, id := range requester.GroupIDs {
		if granted[id] {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) requireApplicant(ctx context.Context, applicationID, requesterID string) (approval.Form, error) {
	form, err := s.activeForm(ctx, applicationID)
	if err != nil {
		return approval.Form{}, err
	}
	if form.ApplicantID != requesterID {
		return approval.Form{}, apperr.Forbidden("only the applicant may modify application %s", applicationID)
	}
	return form, nil
}

// activeForm loads a form and hides soft-deleted ones behind NotFound.
func (s *Service) activeForm(ctx context.Context, id string) (approval.Form, error) {
	form, err := s.store.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return approval.Form{}, apperr.NotFound("application %s not found", id)
		}
		return approval.Form{}, apperr.Storage(err, "load application")
	}
	if form.Deleted() {
		return approval.Form{}, apperr.NotFound("application %s not found", id)
	}
	return form, nil
}

func (s *Service) decisionCounts(ctx context.Context, applicationID string) (approvals, rejections int, err error) {
	decisions, err := s.store.ListDecisions(ctx, applicationID)
	if err != nil {
		return 0, 0, apperr.Storage(err, "load decisions")
	}
	for _, d := range decisions {
		switch d.Kind {
		case approval.DecisionApproved:
			approvals++
		case approval.DecisionRejected:
			rejections++
		}
	}
	return approvals, rejections, nil
}
