// Package template defines reusable form templates. Fields are an opaque
// ordered list of descriptors; rendering and validation happen client-side.
package template

import (
	"encoding/json"
	"time"
)

// Template is a reusable field schema owned by its creator and visible to a
// set of groups.
type Template struct {
	ID              string          `json:"id"`
	Label           string          `json:"label"`
	Description     string          `json:"description,omitempty"`
	Fields          json.RawMessage `json:"fields,omitempty"`
	CreatorID       string          `json:"creator_id"`
	VisibleGroupIDs []string        `json:"group_ids"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
