package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jtekt/approval-flow/internal/app/domain/template"
	"github.com/jtekt/approval-flow/internal/app/storage"
)

func (s *Store) CreateTemplate(ctx context.Context, t template.Template) (template.Template, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return template.Template{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO form_templates (id, label, description, fields, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.Label, t.Description, nullableJSON(t.Fields), t.CreatorID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return template.Template{}, err
	}

	if err := insertTemplateVisibility(ctx, tx, t.ID, t.VisibleGroupIDs); err != nil {
		return template.Template{}, err
	}

	if err := tx.Commit(); err != nil {
		return template.Template{}, err
	}
	t.VisibleGroupIDs = dedupeIDs(t.VisibleGroupIDs)
	return t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (template.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, description, fields, creator_id, created_at, updated_at
		FROM form_templates
		WHERE id = $1
	`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return template.Template{}, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return template.Template{}, err
	}
	t.VisibleGroupIDs, err = s.templateGroups(ctx, id)
	return t, err
}

func (s *Store) UpdateTemplate(ctx context.Context, t template.Template) (template.Template, error) {
	existing, err := s.GetTemplate(ctx, t.ID)
	if err != nil {
		return template.Template{}, err
	}
	t.CreatorID = existing.CreatorID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return template.Template{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE form_templates
		SET label = $2, description = $3, fields = $4, updated_at = $5
		WHERE id = $1
	`, t.ID, t.Label, t.Description, nullableJSON(t.Fields), t.UpdatedAt)
	if err != nil {
		return template.Template{}, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM template_visibility WHERE template_id = $1`, t.ID); err != nil {
		return template.Template{}, err
	}
	if err := insertTemplateVisibility(ctx, tx, t.ID, t.VisibleGroupIDs); err != nil {
		return template.Template{}, err
	}

	if err := tx.Commit(); err != nil {
		return template.Template{}, err
	}
	t.VisibleGroupIDs = dedupeIDs(t.VisibleGroupIDs)
	return t, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM form_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListVisibleTemplates(ctx context.Context, userID string, groupIDs []string) ([]template.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label, description, fields, creator_id, created_at, updated_at
		FROM form_templates t
		WHERE t.creator_id = $1
		   OR EXISTS (
			SELECT 1 FROM template_visibility tv
			WHERE tv.template_id = t.id AND tv.group_id = ANY($2)
		   )
		ORDER BY created_at DESC
	`, userID, pq.Array(groupIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []template.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].VisibleGroupIDs, err = s.templateGroups(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) templateGroups(ctx context.Context, templateID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM template_visibility WHERE template_id = $1 ORDER BY group_id
	`, templateID)
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

func insertTemplateVisibility(ctx context.Context, tx *sql.Tx, templateID string, groupIDs []string) error {
	for _, groupID := range dedupeIDs(groupIDs) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO template_visibility (template_id, group_id)
			VALUES ($1, $2)
		`, templateID, groupID)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanTemplate(row rowScanner) (template.Template, error) {
	var (
		t      template.Template
		fields []byte
	)
	err := row.Scan(&t.ID, &t.Label, &t.Description, &fields, &t.CreatorID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return template.Template{}, err
	}
	t.Fields = json.RawMessage(fields)
	return t, nil
}
