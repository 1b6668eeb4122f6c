package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jtekt/approval-flow/internal/app/domain/approval"
	"github.com/jtekt/approval-flow/internal/app/storage"
)

const formColumns = `f.id, f.title, f.type, f.form_data, f.private, f.applicant_id, f.created_at, f.deleted_at`

func (s *Store) CreateApplication(ctx context.Context, form approval.Form, subs []approval.Submission, groupIDs []string) (approval.Form, error) {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	if form.CreatedAt.IsZero() {
		form.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return approval.Form{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO application_forms (id, title, type, form_data, private, applicant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, form.ID, form.Title, form.Type, nullableJSON(form.FormData), form.Private, form.ApplicantID, form.CreatedAt)
	if err != nil {
		return approval.Form{}, err
	}

	for _, sub := range subs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (application_id, recipient_id, flow_index, notified)
			VALUES ($1, $2, $3, $4)
		`, form.ID, sub.RecipientID, sub.FlowIndex, sub.Notified)
		if err != nil {
			return approval.Form{}, err
		}
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO application_visibility (application_id, group_id)
			VALUES ($1, $2)
		`, form.ID, groupID)
		if err != nil {
			return approval.Form{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return approval.Form{}, err
	}
	return form, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (approval.Form, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+formColumns+`
		FROM application_forms f
		WHERE f.id = $1
	`, id)
	form, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return approval.Form{}, fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return form, err
}

func (s *Store) SetDeleted(ctx context.Context, id string, at time.Time) error {
	return s.updateForm(ctx, id, `UPDATE application_forms SET deleted_at = $2 WHERE id = $1`, at)
}

func (s *Store) SetPrivate(ctx context.Context, id string, private bool) error {
	return s.updateForm(ctx, id, `UPDATE application_forms SET private = $2 WHERE id = $1`, private)
}

func (s *Store) updateForm(ctx context.Context, id, query string, arg interface{}) error {
	result, err := s.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSubmissions(ctx context.Context, applicationID string) ([]approval.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT application_id, recipient_id, flow_index, notified
		FROM submissions
		WHERE application_id = $1
		ORDER BY flow_index
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []approval.Submission
	for rows.Next() {
		var sub approval.Submission
		if err := rows.Scan(&sub.ApplicationID, &sub.RecipientID, &sub.FlowIndex, &sub.Notified); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ListDecisions(ctx context.Context, applicationID string) ([]approval.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, recipient_id, kind, comment, attachment_hankos, decided_at
		FROM decisions
		WHERE application_id = $1
		ORDER BY decided_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []approval.Decision
	for rows.Next() {
		var (
			d      approval.Decision
			hankos []byte
		)
		if err := rows.Scan(&d.ID, &d.ApplicationID, &d.RecipientID, &d.Kind, &d.Comment, &hankos, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.AttachmentHankos = json.RawMessage(hankos)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDecision(ctx context.Context, d approval.Decision) (approval.Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	// the conflict clause leaves id alone so a re-decision keeps the
	// original identifier
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO decisions (id, application_id, recipient_id, kind, comment, attachment_hankos, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (application_id, recipient_id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    comment = EXCLUDED.comment,
		    attachment_hankos = EXCLUDED.attachment_hankos,
		    decided_at = EXCLUDED.decided_at
		RETURNING id
	`, d.ID, d.ApplicationID, d.RecipientID, d.Kind, d.Comment, nullableJSON(d.AttachmentHankos), d.DecidedAt).Scan(&d.ID)
	if err != nil {
		return approval.Decision{}, err
	}
	return d, nil
}

func (s *Store) ReplaceVisibility(ctx context.Context, applicationID string, groupIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM application_visibility WHERE application_id = $1
	`, applicationID); err != nil {
		return err
	}
	for _, groupID := range dedupeIDs(groupIDs) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO application_visibility (application_id, group_id)
			VALUES ($1, $2)
		`, applicationID, groupID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AddVisibleGroup(ctx context.Context, applicationID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_visibility (application_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, applicationID, groupID)
	return err
}

func (s *Store) RemoveVisibleGroup(ctx context.Context, applicationID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM application_visibility WHERE application_id = $1 AND group_id = $2
	`, applicationID, groupID)
	return err
}

func (s *Store) ListVisibleGroups(ctx context.Context, applicationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM application_visibility WHERE application_id = $1 ORDER BY group_id
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, err
		}
		out = append(out, groupID)
	}
	return out, rows.Err()
}

const (
	approvalCountExpr   = `(SELECT COUNT(*) FROM decisions d WHERE d.application_id = f.id AND d.kind = 'approved')`
	rejectionCountExpr  = `(SELECT COUNT(*) FROM decisions d WHERE d.application_id = f.id AND d.kind = 'rejected')`
	submissionCountExpr = `(SELECT COUNT(*) FROM submissions s WHERE s.application_id = f.id)`
)

// buildListQuery compiles a ListFilter into a WHERE clause with positional
// arguments. Every value is parameterized; no user input reaches the query
// text.
func buildListQuery(filter approval.ListFilter) (where string, args []interface{}) {
	var conds []string
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeDeleted {
		conds = append(conds, `f.deleted_at IS NULL`)
	}
	if filter.ApplicationID != "" {
		conds = append(conds, `f.id = `+arg(filter.ApplicationID))
	}
	if filter.Type != "" {
		conds = append(conds, `f.type = `+arg(filter.Type))
	}
	if !filter.StartDate.IsZero() {
		conds = append(conds, `f.created_at >= `+arg(filter.StartDate))
	}
	if !filter.EndDate.IsZero() {
		conds = append(conds, `f.created_at <= `+arg(filter.EndDate))
	}
	if filter.ApplicantGroupID != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM user_groups ug
			WHERE ug.user_id = f.applicant_id AND ug.group_id = `+arg(filter.ApplicantGroupID)+`
		)`)
	}
	if filter.HankoID != "" {
		conds = append(conds, `EXISTS (
			SELECT 1 FROM decisions d
			WHERE d.application_id = f.id AND d.id = `+arg(filter.HankoID)+`
		)`)
	}

	switch filter.Relationship {
	case approval.RelationshipSubmittedTo:
		requester := arg(filter.RequesterID)
		conds = append(conds, `EXISTS (
			SELECT 1 FROM submissions s
			WHERE s.application_id = f.id AND s.recipient_id = `+requester+`
		)`)
		switch filter.State {
		case approval.StatePending:
			conds = append(conds,
				rejectionCountExpr+` = 0`,
				`EXISTS (
					SELECT 1 FROM submissions s
					WHERE s.application_id = f.id
					  AND s.recipient_id = `+requester+`
					  AND s.flow_index = `+approvalCountExpr+`
				)`)
		case approval.StateApproved:
			conds = append(conds, `EXISTS (
				SELECT 1 FROM decisions d
				WHERE d.application_id = f.id AND d.recipient_id = `+requester+` AND d.kind = 'approved'
			)`)
		case approval.StateRejected:
			conds = append(conds, `EXISTS (
				SELECT 1 FROM decisions d
				WHERE d.application_id = f.id AND d.recipient_id = `+requester+` AND d.kind = 'rejected'
			)`)
		}
	default:
		conds = append(conds, `f.applicant_id = `+arg(filter.RequesterID))
		switch filter.State {
		case approval.StatePending:
			conds = append(conds,
				rejectionCountExpr+` = 0`,
				approvalCountExpr+` <> `+submissionCountExpr)
		case approval.StateApproved:
			conds = append(conds,
				rejectionCountExpr+` = 0`,
				approvalCountExpr+` = `+submissionCountExpr)
		case approval.StateRejected:
			conds = append(conds, rejectionCountExpr+` > 0`)
		}
	}

	return strings.Join(conds, " AND "), args
}

func (s *Store) ListApplications(ctx context.Context, filter approval.ListFilter) ([]approval.Form, int, error) {
	filter = filter.Normalize()
	where, args := buildListQuery(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM application_forms f WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageArgs := append(args, filter.BatchSize, filter.StartIndex)
	pageQuery := fmt.Sprintf(`
		SELECT %s
		FROM application_forms f
		WHERE %s
		ORDER BY f.created_at DESC
		LIMIT $%d OFFSET $%d
	`, formColumns, where, len(args)+1, len(args)+2)

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []approval.Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, form)
	}
	return out, total, rows.Err()
}

func (s *Store) ListActiveFormData(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT form_data
		FROM application_forms
		WHERE deleted_at IS NULL AND form_data IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			out = append(out, json.RawMessage(data))
		}
	}
	return out, rows.Err()
}

// helpers ---------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanForm(row rowScanner) (approval.Form, error) {
	var (
		form      approval.Form
		formData  []byte
		deletedAt sql.NullTime
	)
	err := row.Scan(&form.ID, &form.Title, &form.Type, &formData, &form.Private, &form.ApplicantID, &form.CreatedAt, &deletedAt)
	if err != nil {
		return approval.Form{}, err
	}
	form.FormData = json.RawMessage(formData)
	if deletedAt.Valid {
		t := deletedAt.Time
		form.DeletedAt = &t
	}
	return form, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func dedupeIDs(in []string) []string {
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
