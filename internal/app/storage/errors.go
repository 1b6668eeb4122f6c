package storage

import "errors"

// ErrNotFound is returned when a record does not exist. Implementations wrap
// it so callers can test with errors.Is.
var ErrNotFound = errors.New("record not found")
