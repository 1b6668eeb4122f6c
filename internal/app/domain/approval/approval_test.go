package approval

import (
	"encoding/json"
	"testing"
)

func TestDeriveState(t *testing.T) {
	cases := []struct {
		name        string
		submissions int
		approvals   int
		rejections  int
		want        State
	}{
		{"no decisions", 2, 0, 0, StatePending},
		{"partially approved", 2, 1, 0, StatePending},
		{"fully approved", 2, 2, 0, StateApproved},
		{"single recipient approved", 1, 1, 0, StateApproved},
		{"one rejection", 2, 0, 1, StateRejected},
		{"rejection wins over approvals", 3, 2, 1, StateRejected},
		{"no recipients stays pending", 0, 0, 0, StatePending},
	}
	for _, tc := range cases {
		if got := DeriveState(tc.submissions, tc.approvals, tc.rejections); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestReceivedPending(t *testing.T) {
	// First recipient is next in line before anyone decides.
	if !ReceivedPending(0, 0, 0) {
		t.Fatalf("flow index 0 should be pending with no decisions")
	}
	// Second recipient waits for the first approval.
	if ReceivedPending(1, 0, 0) {
		t.Fatalf("flow index 1 should not be pending before the first approval")
	}
	if !ReceivedPending(1, 1, 0) {
		t.Fatalf("flow index 1 should be pending after one approval")
	}
	// A rejection anywhere stops the flow.
	if ReceivedPending(1, 1, 1) {
		t.Fatalf("no recipient is pending once a rejection exists")
	}
	// A recipient who already approved is no longer pending.
	if ReceivedPending(0, 1, 0) {
		t.Fatalf("flow index 0 should not be pending after approving")
	}
}

func TestRedact(t *testing.T) {
	d := Detail{
		Form: Form{
			ID:       "app-1",
			Title:    "budget request",
			FormData: json.RawMessage(`[{"type":"text","value":"secret"}]`),
			Private:  true,
		},
		State: StatePending,
	}
	Redact(&d)

	if !d.Forbidden {
		t.Fatalf("expected forbidden flag")
	}
	if d.Title != RedactedTitle {
		t.Fatalf("title not redacted: %q", d.Title)
	}
	if d.FormData != nil {
		t.Fatalf("form data not cleared")
	}
	if d.ID != "app-1" || d.State != StatePending {
		t.Fatalf("redaction must keep id and state")
	}
}

func TestFileReferences(t *testing.T) {
	formData := json.RawMessage(`[
		{"type":"text","label":"reason","value":"travel"},
		{"type":"file","label":"receipt","value":{"id":"f-1","filename":"receipt.pdf"}},
		{"type":"file","label":"quote","value":"f-2"},
		{"type":"file","label":"empty"},
		{"type":"file","label":"broken","value":42}
	]`)

	refs := FileReferences(formData)
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d: %#v", len(refs), refs)
	}
	if refs[0].ID != "f-1" || refs[0].Filename != "receipt.pdf" {
		t.Fatalf("unexpected first reference: %#v", refs[0])
	}
	if refs[1].ID != "f-2" || refs[1].Filename != "" {
		t.Fatalf("unexpected second reference: %#v", refs[1])
	}

	if !ReferencesFile(formData, "f-2") {
		t.Fatalf("expected form to reference f-2")
	}
	if ReferencesFile(formData, "f-99") {
		t.Fatalf("did not expect a reference to f-99")
	}
}

func TestFileReferencesMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"type":"file"}`} {
		if refs := FileReferences(json.RawMessage(raw)); refs != nil {
			t.Fatalf("malformed payload %q should yield no references, got %#v", raw, refs)
		}
	}
}

func TestFilterNormalize(t *testing.T) {
	f := ListFilter{BatchSize: 0, StartIndex: -5}.Normalize()
	if f.BatchSize != DefaultBatchSize {
		t.Fatalf("expected default batch size, got %d", f.BatchSize)
	}
	if f.StartIndex != 0 {
		t.Fatalf("expected start index clamped to 0, got %d", f.StartIndex)
	}
}
