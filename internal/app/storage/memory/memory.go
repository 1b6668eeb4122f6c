package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/domain/template"
	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	users       map[string]user.User
	groups      map[string]user.Group
	forms       map[string]approval.Form
	submissions map[string][]approval.Submission
	decisions   map[string]map[string]approval.Decision
	visibility  map[string][]string
	templates   map[string]template.Template
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.TemplateStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]user.User),
		groups:      make(map[string]user.Group),
		forms:       make(map[string]approval.Form),
		submissions: make(map[string][]approval.Submission),
		decisions:   make(map[string]map[string]approval.Decision),
		visibility:  make(map[string][]string),
		templates:   make(map[string]template.Template),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	u.GroupIDs = cloneStrings(u.GroupIDs)
	return u, nil
}

func (s *Store) UpsertUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.GroupIDs = cloneStrings(u.GroupIDs)
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetGroup(_ context.Context, id string) (user.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return user.Group{}, fmt.Errorf("group %s: %w", id, storage.ErrNotFound)
	}
	return g, nil
}

func (s *Store) UpsertGroup(_ context.Context, g user.Group) (user.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) ListGroups(_ context.Context) ([]user.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]user.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, form approval.Form, subs []approval.Submission, groupIDs []string) (approval.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if form.ID == "" {
		form.ID = uuid.NewString()
	} else if _, exists := s.forms[form.ID]; exists {
		return approval.Form{}, fmt.Errorf("application %s already exists", form.ID)
	}
	if form.CreatedAt.IsZero() {
		form.CreatedAt = time.Now().UTC()
	}

	stored := make([]approval.Submission, len(subs))
	for i, sub := range subs {
		sub.ApplicationID = form.ID
		stored[i] = sub
	}

	s.forms[form.ID] = form
	s.submissions[form.ID] = stored
	if len(groupIDs) > 0 {
		s.visibility[form.ID] = dedupe(groupIDs)
	}
	return form, nil
}

func (s *Store) GetApplication(_ context.Context, id string) (approval.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	form, ok := s.forms[id]
	if !ok {
		return approval.Form{}, fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return form, nil
}

func (s *Store) SetDeleted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	form, ok := s.forms[id]
	if !ok {
		return fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	form.DeletedAt = &at
	s.forms[id] = form
	return nil
}

func (s *Store) SetPrivate(_ context.Context, id string, private bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	form, ok := s.forms[id]
	if !ok {
		return fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	form.Private = private
	s.forms[id] = form
	return nil
}

func (s *Store) ListSubmissions(_ context.Context, applicationID string) ([]approval.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.submissions[applicationID]
	out := make([]approval.Submission, len(subs))
	copy(out, subs)
	sort.Slice(out, func(i, j int) bool { return out[i].FlowIndex < out[j].FlowIndex })
	return out, nil
}

func (s *Store) ListDecisions(_ context.Context, applicationID string) ([]approval.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]approval.Decision, 0, len(s.decisions[applicationID]))
	for _, d := range s.decisions[applicationID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}

func (s *Store) UpsertDecision(_ context.Context, d approval.Decision) (approval.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forms[d.ApplicationID]; !ok {
		return approval.Decision{}, fmt.Errorf("application %s: %w", d.ApplicationID, storage.ErrNotFound)
	}
	byRecipient := s.decisions[d.ApplicationID]
	if byRecipient == nil {
		byRecipient = make(map[string]approval.Decision)
		s.decisions[d.ApplicationID] = byRecipient
	}
	if existing, ok := byRecipient[d.RecipientID]; ok {
		d.ID = existing.ID
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	byRecipient[d.RecipientID] = d
	return d, nil
}

func (s *Store) ReplaceVisibility(_ context.Context, applicationID string, groupIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forms[applicationID]; !ok {
		return fmt.Errorf("application %s: %w", applicationID, storage.ErrNotFound)
	}
	if len(groupIDs) == 0 {
		delete(s.visibility, applicationID)
		return nil
	}
	s.visibility[applicationID] = dedupe(groupIDs)
	return nil
}

func (s *Store) AddVisibleGroup(_ context.Context, applicationID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forms[applicationID]; !ok {
		return fmt.Errorf("application %s: %w", applicationID, storage.ErrNotFound)
	}
	for _, id := range s.visibility[applicationID] {
		if id == groupID {
			return nil
		}
	}
	s.visibility[applicationID] = append(s.visibility[applicationID], groupID)
	return nil
}

func (s *Store) RemoveVisibleGroup(_ context.Context, applicationID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.forms[applicationID]; !ok {
		return fmt.Errorf("application %s: %w", applicationID, storage.ErrNotFound)
	}
	current := s.visibility[applicationID]
	next := current[:0]
	for _, id := range current {
		if id != groupID {
			next = append(next, id)
		}
	}
	if len(next) == 0 {
		delete(s.visibility, applicationID)
		return nil
	}
	s.visibility[applicationID] = next
	return nil
}

func (s *Store) ListVisibleGroups(_ context.Context, applicationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneStrings(s.visibility[applicationID]), nil
}

func (s *Store) ListApplications(_ context.Context, filter approval.ListFilter) ([]approval.Form, int, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []approval.Form
	for _, form := range s.forms {
		if s.matchesLocked(form, filter) {
			matched = append(matched, form)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if filter.StartIndex >= total {
		return nil, total, nil
	}
	end := filter.StartIndex + filter.BatchSize
	if end > total {
		end = total
	}
	page := make([]approval.Form, end-filter.StartIndex)
	copy(page, matched[filter.StartIndex:end])
	return page, total, nil
}

func (s *Store) matchesLocked(form approval.Form, filter approval.ListFilter) bool {
	if form.Deleted() && !filter.IncludeDeleted {
		return false
	}
	if filter.ApplicationID != "" && form.ID != filter.ApplicationID {
		return false
	}
	if filter.Type != "" && form.Type != filter.Type {
		return false
	}
	if !filter.StartDate.IsZero() && form.CreatedAt.Before(filter.StartDate) {
		return false
	}
	if !filter.EndDate.IsZero() && form.CreatedAt.After(filter.EndDate) {
		return false
	}
	if filter.ApplicantGroupID != "" {
		applicant, ok := s.users[form.ApplicantID]
		if !ok || !contains(applicant.GroupIDs, filter.ApplicantGroupID) {
			return false
		}
	}
	if filter.HankoID != "" {
		found := false
		for _, d := range s.decisions[form.ID] {
			if d.ID == filter.HankoID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	subs := s.submissions[form.ID]
	approvals, rejections := 0, 0
	for _, d := range s.decisions[form.ID] {
		switch d.Kind {
		case approval.DecisionApproved:
			approvals++
		case approval.DecisionRejected:
			rejections++
		}
	}

	switch filter.Relationship {
	case approval.RelationshipSubmittedTo:
		var own *approval.Submission
		for i := range subs {
			if subs[i].RecipientID == filter.RequesterID {
				own = &subs[i]
				break
			}
		}
		if own == nil {
			return false
		}
		switch filter.State {
		case approval.StatePending:
			return approval.ReceivedPending(own.FlowIndex, approvals, rejections)
		case approval.StateApproved, approval.StateRejected:
			d, ok := s.decisions[form.ID][filter.RequesterID]
			if !ok {
				return false
			}
			if filter.State == approval.StateApproved {
				return d.Kind == approval.DecisionApproved
			}
			return d.Kind == approval.DecisionRejected
		}
		return true
	default:
		if form.ApplicantID != filter.RequesterID {
			return false
		}
		if filter.State == "" {
			return true
		}
		return approval.DeriveState(len(subs), approvals, rejections) == filter.State
	}
}

func (s *Store) ListActiveFormData(_ context.Context) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []json.RawMessage
	for _, form := range s.forms {
		if form.Deleted() || len(form.FormData) == 0 {
			continue
		}
		data := make(json.RawMessage, len(form.FormData))
		copy(data, form.FormData)
		out = append(out, data)
	}
	return out, nil
}

// TemplateStore implementation ------------------------------------------------

func (s *Store) CreateTemplate(_ context.Context, t template.Template) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, exists := s.templates[t.ID]; exists {
		return template.Template{}, fmt.Errorf("template %s already exists", t.ID)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.VisibleGroupIDs = dedupe(t.VisibleGroupIDs)
	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	t.VisibleGroupIDs = cloneStrings(t.VisibleGroupIDs)
	return t, nil
}

func (s *Store) UpdateTemplate(_ context.Context, t template.Template) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.templates[t.ID]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s: %w", t.ID, storage.ErrNotFound)
	}
	t.CreatorID = original.CreatorID
	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.VisibleGroupIDs = dedupe(t.VisibleGroupIDs)
	s.templates[t.ID] = t
	return t, nil
}

func (s *Store) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	delete(s.templates, id)
	return nil
}

func (s *Store) ListVisibleTemplates(_ context.Context, userID string, groupIDs []string) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []template.Template
	for _, t := range s.templates {
		if t.CreatorID == userID || intersects(t.VisibleGroupIDs, groupIDs) {
			t.VisibleGroupIDs = cloneStrings(t.VisibleGroupIDs)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// helpers ----------------------------------------------------------------------

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
