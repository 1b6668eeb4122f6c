package approval

import "encoding/json"

// Field is one entry of a form's field list. Only the attributes this service
// inspects are typed; everything else stays in the raw payload.
type Field struct {
	Type  string          `json:"type"`
	Label string          `json:"label,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// fileValue is the shape of a file-type field's value.
type fileValue struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// FileReference is a file attachment referenced by a form.
type FileReference struct {
	ID       string
	Filename string
}

// FileReferences parses formData and returns the attachments referenced by
// file-type fields. Malformed payloads yield no references rather than an
// error: a form with unparseable data simply references nothing.
func FileReferences(formData json.RawMessage) []FileReference {
	if len(formData) == 0 {
		return nil
	}

	var fields []Field
	if err := json.Unmarshal(formData, &fields); err != nil {
		return nil
	}

	var refs []FileReference
	for _, field := range fields {
		if field.Type != "file" || len(field.Value) == 0 {
			continue
		}
		var v fileValue
		if err := json.Unmarshal(field.Value, &v); err != nil || v.ID == "" {
			// A file field may also hold a bare id string.
			var id string
			if err := json.Unmarshal(field.Value, &id); err != nil || id == "" {
				continue
			}
			refs = append(refs, FileReference{ID: id})
			continue
		}
		refs = append(refs, FileReference{ID: v.ID, Filename: v.Filename})
	}
	return refs
}

// ReferencesFile reports whether formData references fileID through a
// file-type field.
func ReferencesFile(formData json.RawMessage, fileID string) bool {
	for _, ref := range FileReferences(formData) {
		if ref.ID == fileID {
			return true
		}
	}
	return false
}
