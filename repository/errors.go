package repository

import "errors"

// ErrConflict is returned when a conditional write finds its
// precondition no longer holds (another session got there first).
var ErrConflict = errors.New("repository: conditional write precondition failed")
