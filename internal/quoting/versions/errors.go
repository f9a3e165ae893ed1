package versions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/quoting/internal/shared"
)

var (
	ErrNotFound = fmt.Errorf("versions: %w", shared.ErrNotFound)
	// ErrConcurrentVersionCreation is returned when another creator claimed the
	// next version number and retries were exhausted.
	ErrConcurrentVersionCreation = errors.New("versions: concurrent version creation, please retry")
	// ErrStaleActivation is returned when the active version changed underneath
	// every activation attempt.
	ErrStaleActivation  = errors.New("versions: stale activation, please retry")
	ErrInvalidState     = errors.New("versions: invalid state transition")
	ErrVersionImmutable = errors.New("versions: version is immutable")
	ErrActiveVersion    = errors.New("versions: version is active")
	ErrInvalidRequest   = errors.New("versions: invalid request")
)

// errStaleCompare marks a lost compare-and-set inside one activation attempt.
var errStaleCompare = errors.New("versions: active version changed")

// IncompleteQuoteError lists the mandatory fields a version is missing.
type IncompleteQuoteError struct {
	VersionID int64
	Missing   []string
}

func (e *IncompleteQuoteError) Error() string {
	return fmt.Sprintf("versions: version %d is incomplete: missing %s", e.VersionID, strings.Join(e.Missing, ", "))
}
