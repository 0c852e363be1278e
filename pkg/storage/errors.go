package storage

import "errors"

// ErrNotFound is returned by every Find/Get operation when no record with
// the given identity exists.
var ErrNotFound = errors.New("record not found")
