package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/jtekt/approval-flow/internal/app"
	"github.com/jtekt/approval-flow/internal/app/domain/user"
	"github.com/jtekt/approval-flow/internal/middleware"
)

var testSecret = []byte("handler-test-secret")

func newTestHandler(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		BlobBaseURL: fmt.Sprintf("mem://localhost/httpapi-test/%s", t.Name()),
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	for _, u := range []user.User{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
	} {
		if _, err := application.Users.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}

	router := NewHandler(application, nil)
	auth := middleware.NewAuth(middleware.NewLocalVerifier(testSecret), nil, nil)
	router.Use(auth.Handler)
	return router, application
}

func tokenFor(t *testing.T, subject, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, subject string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, subject, ""))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Unauthenticated requests never reach the handlers.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/applications", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous request: got %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/applications", "alice", map[string]any{
		"title":          "expense report",
		"type":           "expense",
		"recipients_ids": []string{"bob", "carol"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	decodeBody(t, rec, &created)
	if created.ID == "" || created.State != "pending" {
		t.Fatalf("unexpected create response: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/applications/"+created.ID+"/approve", "bob", map[string]any{
		"comment": "fine by me",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: got %d: %s", rec.Code, rec.Body.String())
	}
	var approved struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &approved)
	if approved.ID == "" {
		t.Fatalf("expected a decision id: %s", rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/applications/"+created.ID+"/reject", "carol", map[string]any{
		"comment": "over budget",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/applications/"+created.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: got %d", rec.Code)
	}
	var detail struct {
		State      string `json:"state"`
		Recipients []struct {
			RecipientID string `json:"recipient_id"`
			Decision    *struct {
				Kind    string `json:"kind"`
				Comment string `json:"comment"`
			} `json:"decision"`
		} `json:"recipients"`
	}
	decodeBody(t, rec, &detail)
	if detail.State != "rejected" {
		t.Fatalf("expected rejected state, got %q", detail.State)
	}
	if len(detail.Recipients) != 2 || detail.Recipients[1].Decision == nil || detail.Recipients[1].Decision.Comment != "over budget" {
		t.Fatalf("unexpected recipients: %s", rec.Body.String())
	}

	// Listing for the applicant includes the rejected application.
	rec = doJSON(t, handler, http.MethodGet, "/applications?relationship=submitted_by&state=rejected", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: got %d", rec.Code)
	}
	var page struct {
		Count        int               `json:"count"`
		Applications []json.RawMessage `json:"applications"`
	}
	decodeBody(t, rec, &page)
	if page.Count != 1 || len(page.Applications) != 1 {
		t.Fatalf("unexpected page: %s", rec.Body.String())
	}

	// Filtering on the approval record id narrows the listing to its application.
	rec = doJSON(t, handler, http.MethodGet, "/applications?hanko_id="+approved.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list by hanko: got %d", rec.Code)
	}
	decodeBody(t, rec, &page)
	if page.Count != 1 {
		t.Fatalf("unexpected page for hanko filter: %s", rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications?hanko_id=unknown", "alice", nil)
	decodeBody(t, rec, &page)
	if page.Count != 0 {
		t.Fatalf("expected empty page for unknown hanko id: %s", rec.Body.String())
	}

	// Delete and confirm it is gone.
	rec = doJSON(t, handler, http.MethodDelete, "/applications/"+created.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications/"+created.ID, "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: got %d, want 404", rec.Code)
	}

	// Soft-deleted applications stay out of listings unless asked for.
	rec = doJSON(t, handler, http.MethodGet, "/applications?relationship=submitted_by", "alice", nil)
	decodeBody(t, rec, &page)
	if page.Count != 0 {
		t.Fatalf("expected deleted application hidden: %s", rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications?relationship=submitted_by&deleted=true", "alice", nil)
	decodeBody(t, rec, &page)
	if page.Count != 1 {
		t.Fatalf("expected deleted application listed with deleted=true: %s", rec.Body.String())
	}
}

func TestErrorStatuses(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Validation failures are 400.
	rec := doJSON(t, handler, http.MethodPost, "/applications", "alice", map[string]any{
		"title":          "no recipients",
		"recipients_ids": []string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty recipients: got %d, want 400", rec.Code)
	}

	// Unknown fields are rejected at decode time.
	rec = doJSON(t, handler, http.MethodPost, "/applications", "alice", map[string]any{
		"title":          "t",
		"recipients_ids": []string{"bob"},
		"bogus":          true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: got %d, want 400", rec.Code)
	}

	// Missing applications are 404.
	rec = doJSON(t, handler, http.MethodGet, "/applications/does-not-exist", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing application: got %d, want 404", rec.Code)
	}

	// Invalid list parameters are 400.
	rec = doJSON(t, handler, http.MethodGet, "/applications?relationship=sideways", "alice", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad relationship: got %d, want 400", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications?state=undecided", "alice", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad state: got %d, want 400", rec.Code)
	}
}

func TestPrivacyAndVisibilityEndpoints(t *testing.T) {
	handler, application := newTestHandler(t)

	if _, err := application.Users.UpsertUser(context.Background(), user.User{ID: "dave", GroupIDs: []string{"finance"}}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	rec := doJSON(t, handler, http.MethodPost, "/applications", "alice", map[string]any{
		"title":          "secret raise",
		"recipients_ids": []string{"bob"},
		"private":        true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: got %d", rec.Code)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	// Outsider sees only the redacted shell.
	rec = doJSON(t, handler, http.MethodGet, "/applications/"+created.ID, "dave", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get as dave: got %d", rec.Code)
	}
	var redacted struct {
		Title     string `json:"title"`
		Forbidden bool   `json:"forbidden"`
	}
	decodeBody(t, rec, &redacted)
	if !redacted.Forbidden || redacted.Title != "confidential" {
		t.Fatalf("expected redaction, got %s", rec.Body.String())
	}

	// Non-applicants may not change visibility.
	rec = doJSON(t, handler, http.MethodPost, "/applications/"+created.ID+"/visibility_to_group", "bob", map[string]any{
		"group_id": "finance",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("grant as bob: got %d, want 403", rec.Code)
	}

	// The applicant grants finance and dave can read.
	rec = doJSON(t, handler, http.MethodPost, "/applications/"+created.ID+"/visibility_to_group", "alice", map[string]any{
		"group_id": "finance",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications/"+created.ID, "dave", nil)
	decodeBody(t, rec, &redacted)
	if redacted.Forbidden {
		t.Fatalf("dave should read after grant, got %s", rec.Body.String())
	}

	// Revoke, then flip to public.
	rec = doJSON(t, handler, http.MethodDelete, "/applications/"+created.ID+"/visibility_to_group", "alice", map[string]any{
		"group_id": "finance",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPut, "/applications/"+created.ID+"/privacy", "alice", map[string]any{
		"private": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("privacy: got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/applications/"+created.ID, "dave", nil)
	decodeBody(t, rec, &redacted)
	if redacted.Forbidden {
		t.Fatalf("public application should be readable, got %s", rec.Body.String())
	}

	// privacy without a body is a 400.
	rec = doJSON(t, handler, http.MethodPut, "/applications/"+created.ID+"/privacy", "alice", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("privacy without flag: got %d, want 400", rec.Code)
	}
}

func TestFileEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	// Upload as multipart.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "receipt.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("pdf bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "alice", ""))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: got %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &uploaded)
	if uploaded.ID == "" {
		t.Fatalf("expected file id")
	}

	// Reference it from an application, then download.
	rec = doJSON(t, handler, http.MethodPost, "/applications", "alice", map[string]any{
		"title":          "with attachment",
		"recipients_ids": []string{"bob"},
		"form_data": []map[string]any{
			{"type": "file", "label": "receipt", "value": map[string]string{"id": uploaded.ID, "filename": "receipt.pdf"}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create: got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, handler, http.MethodGet, "/files/"+uploaded.ID+"?application_id="+created.ID, "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "pdf bytes" {
		t.Fatalf("unexpected download body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Fatalf("expected content disposition header")
	}

	// Download without application context is a 400.
	rec = doJSON(t, handler, http.MethodGet, "/files/"+uploaded.ID, "bob", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("download without application_id: got %d, want 400", rec.Code)
	}

	// The unused-file surface is admin only.
	rec = doJSON(t, handler, http.MethodGet, "/files/unused", "alice", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unused as plain user: got %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/files/unused", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "root", "admin"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unused as admin: got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTemplateEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/templates", "alice", map[string]any{
		"label":       "leave request",
		"description": "paid leave",
		"fields":      []map[string]any{{"type": "text", "label": "reason"}},
		"group_ids":   []string{"hr"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create template: got %d: %s", rec.Code, rec.Body.String())
	}
	var tpl struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &tpl)

	rec = doJSON(t, handler, http.MethodGet, "/templates/"+tpl.ID, "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get template: got %d", rec.Code)
	}

	// Only the creator updates or deletes.
	rec = doJSON(t, handler, http.MethodPut, "/templates/"+tpl.ID, "bob", map[string]any{
		"label": "hijacked",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("update as bob: got %d, want 403", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPut, "/templates/"+tpl.ID, "alice", map[string]any{
		"label": "annual leave",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/templates", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list templates: got %d", rec.Code)
	}
	var list []json.RawMessage
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 template, got %d", len(list))
	}

	rec = doJSON(t, handler, http.MethodDelete, "/templates/"+tpl.ID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete template: got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/templates/"+tpl.ID, "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted template: got %d, want 404", rec.Code)
	}
}
