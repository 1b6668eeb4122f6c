// Package approval defines the application-form domain: forms, the recipient
// flow, decisions and the derived approval states.
package approval

import (
	"encoding/json"
	"time"
)

// RedactedTitle replaces the title of a private application on reads the
// requester is not cleared for.
const RedactedTitle = "confidential"

// DecisionKind discriminates a recipient's decision.
type DecisionKind string

const (
	DecisionApproved DecisionKind = "approved"
	DecisionRejected DecisionKind = "rejected"
)

// State is a derived approval state from the applicant's point of view.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
)

// Form is an application form submitted for approval.
type Form struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Type        string          `json:"type"`
	FormData    json.RawMessage `json:"form_data,omitempty"`
	Private     bool            `json:"private"`
	ApplicantID string          `json:"applicant_id"`
	CreatedAt   time.Time       `json:"creation_date"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// Deleted reports whether the form has been soft-deleted.
func (f Form) Deleted() bool { return f.DeletedAt != nil }

// Submission designates one recipient in the approval flow. FlowIndex is the
// zero-based position in the recipient list given at creation.
type Submission struct {
	ApplicationID string `json:"application_id"`
	RecipientID   string `json:"recipient_id"`
	FlowIndex     int    `json:"flow_index"`
	Notified      bool   `json:"notified"`
}

// Decision is a recipient's approval or rejection. A recipient holds at most
// one decision per application; re-deciding overwrites the existing row but
// keeps its ID.
type Decision struct {
	ID               string          `json:"id"`
	ApplicationID    string          `json:"application_id"`
	RecipientID      string          `json:"recipient_id"`
	Kind             DecisionKind    `json:"kind"`
	Comment          string          `json:"comment,omitempty"`
	AttachmentHankos json.RawMessage `json:"attachment_hankos,omitempty"`
	DecidedAt        time.Time       `json:"date"`
}

// Recipient pairs a submission with the recipient's decision, if any.
type Recipient struct {
	Submission
	Decision *Decision `json:"decision,omitempty"`
}

// Detail is a fully resolved application as returned by reads. Forbidden is
// set when the requester may know the application exists but not its content;
// FormData and Title are redacted in that case.
type Detail struct {
	Form
	Recipients       []Recipient `json:"recipients"`
	VisibleGroupIDs  []string    `json:"group_ids"`
	State            State       `json:"state"`
	Forbidden        bool        `json:"forbidden"`
}

// DeriveState computes the submitted-by state from decision counts.
// A single rejection makes the application rejected; otherwise it is approved
// once every submission has a matching approval, pending before that.
func DeriveState(submissionCount, approvalCount, rejectionCount int) State {
	if rejectionCount > 0 {
		return StateRejected
	}
	if submissionCount > 0 && approvalCount == submissionCount {
		return StateApproved
	}
	return StatePending
}

// ReceivedPending reports whether a recipient at flowIndex is exactly next in
// line: nobody rejected and the approvals so far equal the recipient's flow
// index. This is deliberately narrower than the submitted-by pending state.
func ReceivedPending(flowIndex, approvalCount, rejectionCount int) bool {
	return rejectionCount == 0 && flowIndex == approvalCount
}

// Redact strips confidential content from d in place: form data is dropped
// and the title is replaced with a fixed placeholder.
func Redact(d *Detail) {
	d.Forbidden = true
	d.FormData = nil
	d.Title = RedactedTitle
}
