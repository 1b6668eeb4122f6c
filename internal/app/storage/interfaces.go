package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/domain/template"
	"github.com/jtekt/approval-flow/internal/app/domain/user"
)

// UserStore reads principals and groups. Records originate in an external
// directory; Upsert methods exist for the seeder and for tests.
type UserStore interface {
	GetUser(ctx context.Context, id string) (user.User, error)
	UpsertUser(ctx context.Context, u user.User) (user.User, error)
	GetGroup(ctx context.Context, id string) (user.Group, error)
	UpsertGroup(ctx context.Context, g user.Group) (user.Group, error)
	ListGroups(ctx context.Context) ([]user.Group, error)
}

// ApplicationStore persists application forms, their approval flow and
// visibility grants.
type ApplicationStore interface {
	// CreateApplication stores the form together with its submissions and
	// initial visibility grants.
	CreateApplication(ctx context.Context, form approval.Form, subs []approval.Submission, groupIDs []string) (approval.Form, error)
	// GetApplication returns the form regardless of its deleted flag;
	// callers decide whether soft-deleted forms are visible.
	GetApplication(ctx context.Context, id string) (approval.Form, error)
	SetDeleted(ctx context.Context, id string, at time.Time) error
	SetPrivate(ctx context.Context, id string, private bool) error

	ListSubmissions(ctx context.Context, applicationID string) ([]approval.Submission, error)
	ListDecisions(ctx context.Context, applicationID string) ([]approval.Decision, error)
	// UpsertDecision merges the decision for (application, recipient): an
	// existing row is overwritten whatever its kind, so a recipient holds at
	// most one decision.
	UpsertDecision(ctx context.Context, d approval.Decision) (approval.Decision, error)

	ReplaceVisibility(ctx context.Context, applicationID string, groupIDs []string) error
	AddVisibleGroup(ctx context.Context, applicationID, groupID string) error
	RemoveVisibleGroup(ctx context.Context, applicationID, groupID string) error
	ListVisibleGroups(ctx context.Context, applicationID string) ([]string, error)

	// ListApplications returns one page ordered by creation date descending
	// plus the total match count.
	ListApplications(ctx context.Context, filter approval.ListFilter) ([]approval.Form, int, error)

	// ListActiveFormData returns the form_data payloads of all non-deleted
	// applications, for the orphaned-attachment sweep.
	ListActiveFormData(ctx context.Context) ([]json.RawMessage, error)
}

// TemplateStore persists reusable form templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t template.Template) (template.Template, error)
	GetTemplate(ctx context.Context, id string) (template.Template, error)
	UpdateTemplate(ctx context.Context, t template.Template) (template.Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	// ListVisibleTemplates returns templates the user created or that are
	// granted to any of the user's groups.
	ListVisibleTemplates(ctx context.Context, userID string, groupIDs []string) ([]template.Template, error)
}
