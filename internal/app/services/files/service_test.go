package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/jtekt/approval-flow/internal/app/apperr"
	"github.com/jtekt/approval-flow/internal/app/blob"
	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/app/services/applications"
	"github.com/jtekt/approval-flow/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *applications.Service) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if _, err := store.UpsertUser(ctx, user.User{ID: "alice"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	blobs, err := blob.New(ctx, fmt.Sprintf("mem://localhost/files-test/%s", t.Name()))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	apps := applications.New(store, store, nil)
	return New(blobs, apps, store, nil), apps
}

func fileFormData(t *testing.T, fileID, filename string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal([]map[string]any{
		{"type": "file", "label": "attachment", "value": map[string]string{"id": fileID, "filename": filename}},
	})
	if err != nil {
		t.Fatalf("marshal form data: %v", err)
	}
	return data
}

func TestUploadAndDownload(t *testing.T) {
	svc, apps := newTestService(t)
	ctx := context.Background()

	id, err := svc.Upload(ctx, "receipt.pdf", strings.NewReader("pdf bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated file id")
	}

	detail, err := apps.Create(ctx, applications.CreateInput{
		ApplicantID:  "alice",
		Title:        "with attachment",
		FormData:     fileFormData(t, id, "receipt.pdf"),
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	name, reader, err := svc.Download(ctx, id, detail.ID, "bob")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer reader.Close()
	if name != "receipt.pdf" {
		t.Fatalf("unexpected filename %q", name)
	}
	content, _ := io.ReadAll(reader)
	if string(content) != "pdf bytes" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestDownloadRequiresReadAccess(t *testing.T) {
	svc, apps := newTestService(t)
	ctx := context.Background()

	id, err := svc.Upload(ctx, "secret.txt", strings.NewReader("s"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	detail, err := apps.Create(ctx, applications.CreateInput{
		ApplicantID:  "alice",
		Title:        "private",
		FormData:     fileFormData(t, id, "secret.txt"),
		RecipientIDs: []string{"bob"},
		Private:      true,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	if _, _, err := svc.Download(ctx, id, detail.ID, "mallory"); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Fatalf("outsider download should be forbidden, got %v", err)
	}
	if _, _, err := svc.Download(ctx, id, detail.ID, "alice"); err != nil {
		t.Fatalf("applicant download: %v", err)
	}
}

func TestDownloadRequiresReference(t *testing.T) {
	svc, apps := newTestService(t)
	ctx := context.Background()

	id, err := svc.Upload(ctx, "a.txt", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	detail, err := apps.Create(ctx, applications.CreateInput{
		ApplicantID:  "alice",
		Title:        "no attachments",
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	// Readable application, but the form never references the file.
	if _, _, err := svc.Download(ctx, id, detail.ID, "bob"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("unreferenced file should be not found, got %v", err)
	}
}

func TestFindAndQuarantineUnused(t *testing.T) {
	svc, apps := newTestService(t)
	ctx := context.Background()

	used, err := svc.Upload(ctx, "used.txt", strings.NewReader("u"))
	if err != nil {
		t.Fatalf("upload used: %v", err)
	}
	orphanA, err := svc.Upload(ctx, "orphan-a.txt", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("upload orphan: %v", err)
	}
	deletedRef, err := svc.Upload(ctx, "deleted-ref.txt", strings.NewReader("d"))
	if err != nil {
		t.Fatalf("upload deleted-ref: %v", err)
	}

	if _, err := apps.Create(ctx, applications.CreateInput{
		ApplicantID:  "alice",
		Title:        "live",
		FormData:     fileFormData(t, used, "used.txt"),
		RecipientIDs: []string{"bob"},
	}); err != nil {
		t.Fatalf("create live application: %v", err)
	}

	// A soft-deleted application's references no longer pin the file.
	doomed, err := apps.Create(ctx, applications.CreateInput{
		ApplicantID:  "alice",
		Title:        "doomed",
		FormData:     fileFormData(t, deletedRef, "deleted-ref.txt"),
		RecipientIDs: []string{"bob"},
	})
	if err != nil {
		t.Fatalf("create doomed application: %v", err)
	}
	if err := apps.Delete(ctx, doomed.ID, "alice"); err != nil {
		t.Fatalf("delete application: %v", err)
	}

	orphans, err := svc.FindUnused(ctx)
	if err != nil {
		t.Fatalf("find unused: %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %v", orphans)
	}
	found := map[string]bool{}
	for _, id := range orphans {
		found[id] = true
	}
	if !found[orphanA] || !found[deletedRef] || found[used] {
		t.Fatalf("unexpected orphan set: %v", orphans)
	}

	moved, err := svc.QuarantineUnused(ctx)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if len(moved) != 2 {
		t.Fatalf("expected 2 quarantined, got %v", moved)
	}

	// Nothing left to quarantine on the second pass.
	orphans, err = svc.FindUnused(ctx)
	if err != nil {
		t.Fatalf("find unused again: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no orphans after quarantine, got %v", orphans)
	}
}
