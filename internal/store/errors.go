package store

import "errors"

// ErrConflict reports a unique constraint violation other than a folder
// sibling name clash, which surfaces as core.ErrDuplicateName.
var ErrConflict = errors.New("store: conflicting row")
