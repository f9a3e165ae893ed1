package totals

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/quoting/internal/shared"
)

var (
	ErrNotFound         = fmt.Errorf("totals: source version %w", shared.ErrNotFound)
	ErrUnknownDimension = errors.New("totals: unknown dimension")
	ErrNotActivated     = errors.New("totals: version has no activation time")
)

// MaterializationFailedError carries the version to retry.
type MaterializationFailedError struct {
	VersionID int64
	Err       error
}

func (e *MaterializationFailedError) Error() string {
	return fmt.Sprintf("totals: materialize version %d: %v", e.VersionID, e.Err)
}

func (e *MaterializationFailedError) Unwrap() error {
	return e.Err
}
