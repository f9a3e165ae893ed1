package quotinghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/quoting/internal/platform/httpx"
	"github.com/odyssey-erp/quoting/internal/quoting/totals"
	"github.com/odyssey-erp/quoting/internal/quoting/versions"
)

// ActorHeader carries the id of the user performing a mutation.
const ActorHeader = "X-Actor-ID"

// VersionService is the subset of versions.Manager the handler drives.
type VersionService interface {
	CreateQuote(ctx context.Context, req versions.CreateQuoteRequest) (versions.Quote, versions.Version, error)
	GetQuote(ctx context.Context, quoteID int64) (versions.Quote, error)
	DeleteQuote(ctx context.Context, quoteID, actorID int64) error
	CreateVersion(ctx context.Context, quoteID int64, req versions.CreateVersionRequest) (versions.Version, error)
	ListVersions(ctx context.Context, quoteID int64) ([]versions.Version, error)
	Get(ctx context.Context, versionID int64) (versions.Version, error)
	UpdateDraft(ctx context.Context, versionID int64, req versions.UpdateDraftRequest) (versions.Version, error)
	Submit(ctx context.Context, versionID, actorID int64) (versions.Version, error)
	Activate(ctx context.Context, versionID, actorID int64) (versions.Version, error)
	Discard(ctx context.Context, versionID, actorID int64) error
	Pricing(ctx context.Context, versionID int64) (versions.PricingSummary, error)
}

// TotalsReader lists materialized totals.
type TotalsReader interface {
	List(ctx context.Context, dim totals.Dimension, filter totals.Filter) (totals.Page, error)
	Rollup(ctx context.Context, dim totals.Dimension, filter totals.Filter) (totals.RollupPage, error)
}

// StatusReader reports whether a quote's totals are fresh.
type StatusReader interface {
	Get(ctx context.Context, quoteID int64) (totals.Status, error)
}

// Handler serves the quoting JSON API.
type Handler struct {
	logger    *slog.Logger
	versions  VersionService
	totals    TotalsReader
	status    StatusReader
	validator *validator.Validate
}

// NewHandler builds a Handler. totals and status may be nil, in which case the
// totals endpoints answer 503.
func NewHandler(logger *slog.Logger, service VersionService, totalsReader TotalsReader, status StatusReader) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		versions:  service,
		totals:    totalsReader,
		status:    status,
		validator: validator.New(),
	}
}

type versionResponse struct {
	Quote   *versions.Quote   `json:"quote,omitempty"`
	Version *versions.Version `json:"version,omitempty"`
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	var req versions.CreateQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	quote, version, err := h.versions.CreateQuote(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, versionResponse{Quote: &quote, Version: &version})
}

func (h *Handler) showQuote(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathID(w, r, "quoteID")
	if !ok {
		return
	}
	quote, err := h.versions.GetQuote(r.Context(), quoteID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

func (h *Handler) deleteQuote(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathID(w, r, "quoteID")
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.versions.DeleteQuote(r.Context(), quoteID, actorID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathID(w, r, "quoteID")
	if !ok {
		return
	}
	list, err := h.versions.ListVersions(r.Context(), quoteID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []versions.Version{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": list})
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathID(w, r, "quoteID")
	if !ok {
		return
	}
	var req versions.CreateVersionRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	if req.ActorID == 0 {
		req.ActorID = optionalActor(r)
	}
	version, err := h.versions.CreateVersion(r.Context(), quoteID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, versionResponse{Version: &version})
}

func (h *Handler) showVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	version, err := h.versions.Get(r.Context(), versionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, versionResponse{Version: &version})
}

func (h *Handler) updateVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	var req versions.UpdateDraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ActorID == 0 {
		req.ActorID = optionalActor(r)
	}
	version, err := h.versions.UpdateDraft(r.Context(), versionID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, versionResponse{Version: &version})
}

func (h *Handler) transition(op func(ctx context.Context, versionID, actorID int64) (versions.Version, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID, ok := pathID(w, r, "versionID")
		if !ok {
			return
		}
		actorID, ok := actor(w, r)
		if !ok {
			return
		}
		version, err := op(r.Context(), versionID, actorID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, versionResponse{Version: &version})
	}
}

func (h *Handler) discardVersion(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.versions.Discard(r.Context(), versionID, actorID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pricing(w http.ResponseWriter, r *http.Request) {
	versionID, ok := pathID(w, r, "versionID")
	if !ok {
		return
	}
	summary, err := h.versions.Pricing(r.Context(), versionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": summary})
}

func (h *Handler) listTotals(w http.ResponseWriter, r *http.Request) {
	if h.totals == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Totals Unavailable", "totals are not configured")
		return
	}
	dim, err := totals.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.totals.List(r.Context(), dim, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if page.Rows == nil {
		page.Rows = []totals.Row{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": page.Rows, "pagination": page.Pagination})
}

func (h *Handler) rollupTotals(w http.ResponseWriter, r *http.Request) {
	if h.totals == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Totals Unavailable", "totals are not configured")
		return
	}
	dim, err := totals.ParseDimension(chi.URLParam(r, "dimension"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.totals.Rollup(r.Context(), dim, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if page.Totals == nil {
		page.Totals = []totals.KeyTotal{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": page.Totals, "pagination": page.Pagination})
}

func (h *Handler) totalsStatus(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := pathID(w, r, "quoteID")
	if !ok {
		return
	}
	if h.status == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"data": totals.Status{QuoteID: quoteID, State: totals.StateUnknown}})
		return
	}
	st, err := h.status.Get(r.Context(), quoteID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": st})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fieldErr := range verrs {
				fields[fieldErr.Namespace()] = fieldErr.Tag()
			}
			httpx.ValidationProblem(w, fields)
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("quoting request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id := optionalActor(r)
	if id == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", ActorHeader+" header is required")
		return 0, false
	}
	return id, true
}

func optionalActor(r *http.Request) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(ActorHeader)), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func parseFilter(r *http.Request) (totals.Filter, error) {
	q := r.URL.Query()
	var filter totals.Filter
	ints := []struct {
		name   string
		target *int64
	}{
		{"company_id", &filter.CompanyID},
		{"country_id", &filter.CountryID},
		{"user_id", &filter.UserID},
		{"customer_id", &filter.CustomerID},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return totals.Filter{}, fmt.Errorf("%w: %s", httpx.ErrValidation, p.name)
		}
		*p.target = v
	}
	if raw := q.Get("page"); raw != "" {
		filter.Page, _ = strconv.Atoi(raw)
	}
	if raw := q.Get("per_page"); raw != "" {
		filter.PerPage, _ = strconv.Atoi(raw)
	}
	return filter, nil
}
