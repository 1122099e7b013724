package domain

import "errors"

// ErrNotFound is returned by repositories when a board, card, or column does
// not exist in the caller's organization.
var ErrNotFound = errors.New("domain: not found")
