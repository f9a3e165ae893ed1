// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/currency"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
	"github.com/odyssey-erp/quoting/internal/quoting/totals"
	"github.com/odyssey-erp/quoting/internal/quoting/versions"
	"github.com/odyssey-erp/quoting/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("validation failed")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		incomplete *versions.IncompleteQuoteError
		badRate    *currency.InvalidRateError
		badValue   *discount.InvalidDiscountValueError
		failed     *totals.MaterializationFailedError
	)
	switch {
	case errors.As(err, &incomplete):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Type:    "incomplete-quote",
			Title:   "Incomplete Quote",
			Status:  http.StatusUnprocessableEntity,
			Detail:  err.Error(),
			Missing: incomplete.Missing,
		})
	case errors.As(err, &badRate), errors.As(err, &badValue):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Pricing Input", err.Error())
	case errors.As(err, &failed):
		Problem(w, http.StatusServiceUnavailable, "Totals Unavailable", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, versions.ErrConcurrentVersionCreation),
		errors.Is(err, versions.ErrStaleActivation):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, versions.ErrInvalidState),
		errors.Is(err, versions.ErrVersionImmutable),
		errors.Is(err, versions.ErrActiveVersion):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, versions.ErrInvalidRequest),
		errors.Is(err, aggregate.ErrInvalidSort),
		errors.Is(err, totals.ErrUnknownDimension),
		errors.Is(err, currency.ErrInvalidCode):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, currency.ErrRateNotFound):
		Problem(w, http.StatusUnprocessableEntity, "Missing Exchange Rate", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
