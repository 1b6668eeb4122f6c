// Package user holds identity entities. Users and groups are created and
// managed by an external directory; this service only reads them.
package user

// User is an authenticated principal. GroupIDs carries the user's
// organizational group memberships.
type User struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email,omitempty"`
	GroupIDs []string `json:"group_ids,omitempty"`
}

// Group is an organizational unit. Private applications grant read access per
// group.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}
