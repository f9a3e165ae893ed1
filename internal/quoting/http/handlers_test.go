package quotinghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/internal/platform/httpx"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
	"github.com/odyssey-erp/quoting/internal/quoting/totals"
	"github.com/odyssey-erp/quoting/internal/quoting/versions"
)

type stubVersions struct {
	created     versions.CreateQuoteRequest
	lastActor   int64
	lastVersion int64
	err         error
}

func (s *stubVersions) CreateQuote(_ context.Context, req versions.CreateQuoteRequest) (versions.Quote, versions.Version, error) {
	s.created = req
	if s.err != nil {
		return versions.Quote{}, versions.Version{}, s.err
	}
	return versions.Quote{ID: 1, Name: req.Name}, versions.Version{ID: 10, QuoteID: 1, VersionNumber: 1, State: versions.StateDraft}, nil
}

func (s *stubVersions) GetQuote(_ context.Context, quoteID int64) (versions.Quote, error) {
	return versions.Quote{ID: quoteID}, s.err
}

func (s *stubVersions) DeleteQuote(_ context.Context, _, actorID int64) error {
	s.lastActor = actorID
	return s.err
}

func (s *stubVersions) CreateVersion(_ context.Context, quoteID int64, req versions.CreateVersionRequest) (versions.Version, error) {
	s.lastActor = req.ActorID
	return versions.Version{ID: 11, QuoteID: quoteID, VersionNumber: 2, State: versions.StateDraft}, s.err
}

func (s *stubVersions) ListVersions(_ context.Context, _ int64) ([]versions.Version, error) {
	return nil, s.err
}

func (s *stubVersions) Get(_ context.Context, versionID int64) (versions.Version, error) {
	return versions.Version{ID: versionID}, s.err
}

func (s *stubVersions) UpdateDraft(_ context.Context, versionID int64, req versions.UpdateDraftRequest) (versions.Version, error) {
	s.lastActor = req.ActorID
	return versions.Version{ID: versionID, Pricing: req.Pricing.Apply(versions.Pricing{})}, s.err
}

func (s *stubVersions) Submit(_ context.Context, versionID, actorID int64) (versions.Version, error) {
	s.lastVersion, s.lastActor = versionID, actorID
	return versions.Version{ID: versionID, State: versions.StateSubmitted}, s.err
}

func (s *stubVersions) Activate(_ context.Context, versionID, actorID int64) (versions.Version, error) {
	s.lastVersion, s.lastActor = versionID, actorID
	if s.err != nil {
		return versions.Version{}, s.err
	}
	return versions.Version{ID: versionID, State: versions.StateActivated}, nil
}

func (s *stubVersions) Discard(_ context.Context, versionID, actorID int64) error {
	s.lastVersion, s.lastActor = versionID, actorID
	return s.err
}

func (s *stubVersions) Pricing(_ context.Context, _ int64) (versions.PricingSummary, error) {
	return versions.PricingSummary{Currency: "EUR", NetSubtotal: decimal.RequireFromString("680.4")}, s.err
}

type stubTotals struct {
	lastDim    totals.Dimension
	lastFilter totals.Filter
}

func (s *stubTotals) List(_ context.Context, dim totals.Dimension, filter totals.Filter) (totals.Page, error) {
	s.lastDim, s.lastFilter = dim, filter
	return totals.Page{}, nil
}

func (s *stubTotals) Rollup(_ context.Context, dim totals.Dimension, filter totals.Filter) (totals.RollupPage, error) {
	s.lastDim, s.lastFilter = dim, filter
	return totals.RollupPage{Totals: []totals.KeyTotal{{
		Dimension: dim,
		Key:       refs.New(dim.Kind(), 30),
		Currency:  "EUR",
		Quotes:    2,
		Subtotal:  decimal.RequireFromString("1512"),
	}}}, nil
}

type stubStatus struct{}

func (stubStatus) Get(_ context.Context, quoteID int64) (totals.Status, error) {
	return totals.Status{QuoteID: quoteID, State: totals.StateRecalculating}, nil
}

func newTestRouter(service *stubVersions, list *stubTotals) http.Handler {
	h := NewHandler(nil, service, list, stubStatus{})
	r := chi.NewRouter()
	r.Route("/quotes", h.MountRoutes)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string, actor int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != 0 {
		req.Header.Set(ActorHeader, fmt.Sprint(actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	return p
}

func TestCreateQuote(t *testing.T) {
	service := &stubVersions{}
	router := newTestRouter(service, &stubTotals{})
	body := `{"name":"Renewal","opportunity_id":1,"customer_id":2,"company_id":3,"user_id":4,"pricing":{"currency":"EUR"}}`

	rr := do(t, router, http.MethodPost, "/quotes/", body, 4)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "Renewal", service.created.Name)
	assert.Equal(t, "EUR", *service.created.Pricing.Currency)
	assert.Contains(t, rr.Body.String(), `"version_number":1`)
}

func TestCreateQuoteValidatesBody(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})

	rr := do(t, router, http.MethodPost, "/quotes/", `{"name":"x","pricing":{"currency":"EURO"}}`, 4)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	p := decodeProblem(t, rr)
	assert.Contains(t, p.Fields, "CreateQuoteRequest.OpportunityID")
	assert.Equal(t, "len", p.Fields["CreateQuoteRequest.Pricing.Currency"])
}

func TestCreateQuoteRejectsUnknownFields(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodPost, "/quotes/", `{"title":"x"}`, 4)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActivateRequiresActor(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodPost, "/quotes/versions/10/activate", "", 0)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestActivatePassesActor(t *testing.T) {
	service := &stubVersions{}
	router := newTestRouter(service, &stubTotals{})
	rr := do(t, router, http.MethodPost, "/quotes/versions/10/activate", "", 9)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(10), service.lastVersion)
	assert.Equal(t, int64(9), service.lastActor)
	assert.Contains(t, rr.Body.String(), `"state":"activated"`)
}

func TestDomainErrorsMapToProblems(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("%w: version 10", versions.ErrNotFound), http.StatusNotFound},
		{"stale", versions.ErrStaleActivation, http.StatusConflict},
		{"concurrent", versions.ErrConcurrentVersionCreation, http.StatusConflict},
		{"state", versions.ErrInvalidState, http.StatusConflict},
		{"incomplete", &versions.IncompleteQuoteError{VersionID: 10, Missing: []string{"currency"}}, http.StatusUnprocessableEntity},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubVersions{err: tc.err}, &stubTotals{})
			rr := do(t, router, http.MethodPost, "/quotes/versions/10/activate", "", 9)
			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.code, decodeProblem(t, rr).Status)
		})
	}
}

func TestIncompleteQuoteListsMissingFields(t *testing.T) {
	err := &versions.IncompleteQuoteError{VersionID: 10, Missing: []string{"currency", "lines"}}
	router := newTestRouter(&stubVersions{err: err}, &stubTotals{})
	rr := do(t, router, http.MethodPost, "/quotes/versions/10/submit", "", 9)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, []string{"currency", "lines"}, decodeProblem(t, rr).Missing)
}

func TestDiscardReturnsNoContent(t *testing.T) {
	service := &stubVersions{}
	router := newTestRouter(service, &stubTotals{})
	rr := do(t, router, http.MethodPost, "/quotes/versions/12/discard", "", 3)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, int64(12), service.lastVersion)
}

func TestListVersionsReturnsEmptyArray(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/1/versions", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
}

func TestPricingPreview(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/versions/10/pricing", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"680.4"`)
}

func TestListTotalsParsesFilter(t *testing.T) {
	list := &stubTotals{}
	router := newTestRouter(&stubVersions{}, list)
	rr := do(t, router, http.MethodGet, "/quotes/totals/customer?company_id=3&page=2&per_page=50", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, totals.DimensionCustomer, list.lastDim)
	assert.Equal(t, totals.Filter{CompanyID: 3, Page: 2, PerPage: 50}, list.lastFilter)
}

func TestRollupTotalsSumsPerKey(t *testing.T) {
	list := &stubTotals{}
	router := newTestRouter(&stubVersions{}, list)
	rr := do(t, router, http.MethodGet, "/quotes/totals/customer/rollup?country_id=5", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, totals.DimensionCustomer, list.lastDim)
	assert.Equal(t, totals.Filter{CountryID: 5}, list.lastFilter)
	assert.Contains(t, rr.Body.String(), `"quotes":2`)
	assert.Contains(t, rr.Body.String(), `"subtotal":"1512"`)
}

func TestRollupTotalsRejectsUnknownDimension(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/totals/region/rollup", "", 0)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListTotalsRejectsUnknownDimension(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/totals/region", "", 0)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTotalsStatus(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/7/totals", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"state":"recalculating"`)
}

func TestInvalidPathID(t *testing.T) {
	router := newTestRouter(&stubVersions{}, &stubTotals{})
	rr := do(t, router, http.MethodGet, "/quotes/versions/abc", "", 0)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
