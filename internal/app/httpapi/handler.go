// Package httpapi exposes the REST surface of the approval service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/jtekt/approval-flow/internal/app"
	"github.com/jtekt/approval-flow/internal/app/apperr"
	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/services/applications"
	"github.com/jtekt/approval-flow/internal/app/services/templates"
	"github.com/jtekt/approval-flow/internal/middleware"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// maxUploadBytes caps multipart upload memory buffering.
const maxUploadBytes = 32 << 20

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns a router exposing the REST API.
func NewHandler(application *app.Application, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/applications", h.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.deleteApplication).Methods(http.MethodDelete)
	r.HandleFunc("/applications/{id}/approve", h.approve).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/reject", h.reject).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/privacy", h.updatePrivacy).Methods(http.MethodPut)
	r.HandleFunc("/applications/{id}/visibility", h.updateVisibility).Methods(http.MethodPut)
	r.HandleFunc("/applications/{id}/visibility_to_group", h.addVisibleGroup).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/visibility_to_group", h.removeVisibleGroup).Methods(http.MethodDelete)

	r.HandleFunc("/files", h.uploadFile).Methods(http.MethodPost)
	r.HandleFunc("/files/unused", h.listUnusedFiles).Methods(http.MethodGet)
	r.HandleFunc("/files/unused/quarantine", h.quarantineUnusedFiles).Methods(http.MethodPost)
	r.HandleFunc("/files/{file_id}", h.downloadFile).Methods(http.MethodGet)

	r.HandleFunc("/templates", h.createTemplate).Methods(http.MethodPost)
	r.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id}", h.getTemplate).Methods(http.MethodGet)
	r.HandleFunc("/templates/{id}", h.updateTemplate).Methods(http.MethodPut)
	r.HandleFunc("/templates/{id}", h.deleteTemplate).Methods(http.MethodDelete)

	return r
}

// --- applications ------------------------------------------------------------

func (h *handler) createApplication(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var payload struct {
		Title         string          `json:"title"`
		Type          string          `json:"type"`
		FormData      json.RawMessage `json:"form_data"`
		RecipientsIDs []string        `json:"recipients_ids"`
		Private       bool            `json:"private"`
		GroupIDs      []string        `json:"group_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	detail, err := h.app.Applications.Create(r.Context(), applications.CreateInput{
		ApplicantID:  requester.ID,
		Title:        payload.Title,
		Type:         payload.Type,
		FormData:     payload.FormData,
		RecipientIDs: payload.RecipientsIDs,
		Private:      payload.Private,
		GroupIDs:     payload.GroupIDs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	detail, err := h.app.Applications.Get(r.Context(), mux.Vars(r)["id"], requester.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) deleteApplication(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.app.Applications.Delete(r.Context(), id, requester.ID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload struct {
		Comment          string          `json:"comment"`
		AttachmentHankos json.RawMessage `json:"attachment_hankos"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	decision, err := h.app.Applications.Approve(r.Context(), mux.Vars(r)["id"], requester.ID, payload.Comment, payload.AttachmentHankos)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *handler) reject(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload struct {
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	decision, err := h.app.Applications.Reject(r.Context(), mux.Vars(r)["id"], requester.ID, payload.Comment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *handler) updatePrivacy(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload struct {
		Private *bool `json:"private"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Private == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("private is required"))
		return
	}
	detail, err := h.app.Applications.UpdatePrivacy(r.Context(), mux.Vars(r)["id"], requester.ID, *payload.Private)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) updateVisibility(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload struct {
		GroupIDs []string `json:"group_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := h.app.Applications.UpdateVisibility(r.Context(), mux.Vars(r)["id"], requester.ID, payload.GroupIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) addVisibleGroup(w http.ResponseWriter, r *http.Request) {
	h.changeVisibleGroup(w, r, h.app.Applications.AddVisibleGroup)
}

func (h *handler) removeVisibleGroup(w http.ResponseWriter, r *http.Request) {
	h.changeVisibleGroup(w, r, h.app.Applications.RemoveVisibleGroup)
}

func (h *handler) changeVisibleGroup(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, applicationID, requesterID, groupID string) (approval.Detail, error)) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload struct {
		GroupID string `json:"group_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := op(r.Context(), mux.Vars(r)["id"], requester.ID, payload.GroupID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	filter, err := parseListFilter(r, requester.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := h.app.Applications.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// --- files -------------------------------------------------------------------

func (h *handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file is required"))
		return
	}
	defer file.Close()

	id, err := h.app.Files.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	applicationID := r.URL.Query().Get("application_id")
	if applicationID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("application_id is required"))
		return
	}

	filename, reader, err := h.app.Files.Download(r.Context(), mux.Vars(r)["file_id"], applicationID, requester.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	_, _ = io.Copy(w, reader)
}

func (h *handler) listUnusedFiles(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	orphans, err := h.app.Files.FindUnused(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unused": orphans})
}

func (h *handler) quarantineUnusedFiles(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	moved, err := h.app.Files.QuarantineUnused(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quarantined": moved})
}

// --- templates ---------------------------------------------------------------

type templatePayload struct {
	Label       string          `json:"label"`
	Description string          `json:"description"`
	Fields      json.RawMessage `json:"fields"`
	GroupIDs    []string        `json:"group_ids"`
}

func (h *handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload templatePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Templates.Create(r.Context(), requester.ID, templateInput(payload))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	list, err := h.app.Templates.ListVisible(r.Context(), requester.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	t, err := h.app.Templates.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload templatePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Templates.Update(r.Context(), mux.Vars(r)["id"], requester.ID, templateInput(payload))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	requester, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.app.Templates.Delete(r.Context(), id, requester.ID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// --- helpers -----------------------------------------------------------------

func parseListFilter(r *http.Request, requesterID string) (approval.ListFilter, error) {
	q := r.URL.Query()
	filter := approval.ListFilter{
		RequesterID:      requesterID,
		Type:             q.Get("type"),
		ApplicationID:    q.Get("application_id"),
		ApplicantGroupID: q.Get("group_id"),
		HankoID:          q.Get("hanko_id"),
	}

	switch rel := q.Get("relationship"); rel {
	case "", "submitted_by":
		filter.Relationship = approval.RelationshipSubmittedBy
	case "submitted_to":
		filter.Relationship = approval.RelationshipSubmittedTo
	default:
		return approval.ListFilter{}, fmt.Errorf("unsupported relationship %q", rel)
	}

	switch state := q.Get("state"); state {
	case "":
	case "pending", "approved", "rejected":
		filter.State = approval.State(state)
	default:
		return approval.ListFilter{}, fmt.Errorf("unsupported state %q", state)
	}

	var err error
	if filter.StartDate, err = parseDate(q.Get("start_date"), false); err != nil {
		return approval.ListFilter{}, err
	}
	if filter.EndDate, err = parseDate(q.Get("end_date"), true); err != nil {
		return approval.ListFilter{}, err
	}
	if filter.StartIndex, err = parseInt(q.Get("start_index")); err != nil {
		return approval.ListFilter{}, err
	}
	if filter.BatchSize, err = parseInt(q.Get("batch_size")); err != nil {
		return approval.ListFilter{}, err
	}
	filter.IncludeDeleted = q.Get("deleted") == "true"

	return filter, nil
}

// parseDate accepts RFC 3339 or a bare date. A bare end date covers the whole
// day.
func parseDate(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}

func templateInput(p templatePayload) templates.Input {
	return templates.Input{
		Label:       p.Label,
		Description: p.Description,
		Fields:      p.Fields,
		GroupIDs:    p.GroupIDs,
	}
}

type principal struct {
	ID string
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (principal, bool) {
	u, found := middleware.Principal(r.Context())
	if !found {
		writeError(w, http.StatusForbidden, fmt.Errorf("authentication required"))
		return principal{}, false
	}
	return principal{ID: u.ID}, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := requirePrincipal(w, r); !ok {
		return false
	}
	if middleware.Role(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
		return false
	}
	return true
}

func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("method", r.Method).
			Error("request failed")
	}
	writeError(w, status, errors.New(apperr.ClientMessage(err)))
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
