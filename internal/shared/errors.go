package shared

import "errors"

// ErrNotFound is the root of every package's not-found sentinel so callers at
// the edge can match missing resources with a single errors.Is.
var ErrNotFound = errors.New("not found")
