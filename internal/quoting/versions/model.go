package versions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
	"github.com/odyssey-erp/quoting/internal/quoting/refs"
)

// State is the lifecycle state of a quote version.
type State string

const (
	StateDraft      State = "draft"
	StateSubmitted  State = "submitted"
	StateActivated  State = "activated"
	StateSuperseded State = "superseded"
	StateDiscarded  State = "discarded"
)

var transitions = map[State][]State{
	StateDraft:     {StateSubmitted, StateDiscarded},
	StateSubmitted: {StateActivated},
	StateActivated: {StateSuperseded},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Frozen reports whether priced fields may no longer change.
func (s State) Frozen() bool {
	return s != StateDraft
}

// MarginMethod selects how the sell price is derived from cost.
type MarginMethod string

const (
	MarginMarkup MarginMethod = "markup"
	MarginMargin MarginMethod = "margin"
)

// Quote is the aggregate root. ActiveVersionID is the only mutable pointer.
type Quote struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	OpportunityID   int64      `json:"opportunity_id"`
	CustomerID      int64      `json:"customer_id"`
	CompanyID       int64      `json:"company_id"`
	LocationID      int64      `json:"location_id"`
	CountryID       int64      `json:"country_id"`
	UserID          int64      `json:"user_id"`
	ActiveVersionID *int64     `json:"active_version_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Ref returns the entity reference of the quote.
func (q Quote) Ref() refs.EntityRef {
	return refs.New(refs.KindQuote, q.ID)
}

// IsActive reports whether versionID is the quote's active version.
func (q Quote) IsActive(versionID int64) bool {
	return q.ActiveVersionID != nil && *q.ActiveVersionID == versionID
}

// Pricing holds the priced fields of a version. They are cloned into new
// versions and frozen once a version is submitted.
type Pricing struct {
	TemplateID      *int64              `json:"template_id,omitempty"`
	Currency        string              `json:"currency"`
	BuyCurrency     string              `json:"buy_currency,omitempty"`
	VendorID        int64               `json:"vendor_id"`
	CountryID       int64               `json:"country_id"`
	CompanyID       int64               `json:"company_id"`
	Discounts       discount.Refs       `json:"discounts"`
	CustomDiscount  decimal.NullDecimal `json:"custom_discount"`
	BuyPrice        decimal.NullDecimal `json:"buy_price"`
	BuyExchangeRate decimal.NullDecimal `json:"buy_exchange_rate"`
	MarginValue     decimal.Decimal     `json:"margin_value"`
	MarginMethod    MarginMethod        `json:"margin_method"`
	SortColumn      string              `json:"sort_column,omitempty"`
	SortDirection   string              `json:"sort_direction,omitempty"`
	GroupBy         string              `json:"group_by,omitempty"`
}

// Version is a numbered snapshot of a quote's priced state.
type Version struct {
	ID               int64           `json:"id"`
	QuoteID          int64           `json:"quote_id"`
	VersionNumber    int             `json:"version_number"`
	State            State           `json:"state"`
	BasedOnVersionID *int64          `json:"based_on_version_id,omitempty"`
	Pricing          Pricing         `json:"pricing"`
	Summary          *PricingSummary `json:"summary,omitempty"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	ActivatedAt      *time.Time      `json:"activated_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
}

// Ref returns the entity reference of the version.
func (v Version) Ref() refs.EntityRef {
	return refs.New(refs.KindVersion, v.ID)
}

// MissingFields lists the mandatory fields a version lacks before submission.
func (v Version) MissingFields(lineCount int) []string {
	var missing []string
	p := v.Pricing
	if p.Currency == "" {
		missing = append(missing, "currency")
	}
	if p.CompanyID == 0 {
		missing = append(missing, "company_id")
	}
	if p.VendorID == 0 {
		missing = append(missing, "vendor_id")
	}
	if p.CountryID == 0 {
		missing = append(missing, "country_id")
	}
	if p.MarginMethod == "" {
		missing = append(missing, "margin_method")
	}
	if p.BuyPrice.Valid && p.BuyCurrency == "" {
		missing = append(missing, "buy_currency")
	}
	if lineCount == 0 {
		missing = append(missing, "lines")
	}
	return missing
}

// Scope is the discount scope implied by the version.
func (v Version) Scope() discount.Scope {
	return discount.Scope{VendorID: v.Pricing.VendorID, CountryID: v.Pricing.CountryID, Currency: v.Pricing.Currency}
}

// Group is a row or asset group owned by one version.
type Group struct {
	ID             int64              `json:"id"`
	VersionID      int64              `json:"version_id"`
	Kind           aggregate.LineKind `json:"kind"`
	Name           string             `json:"name"`
	ReplicatedFrom *int64             `json:"replicated_from,omitempty"`
}

// Contents are the lines and groups of a version.
type Contents struct {
	Lines  []aggregate.Line
	Groups []Group
}

// AggregateGroups converts version groups into aggregation groups.
func (c Contents) AggregateGroups() []aggregate.Group {
	out := make([]aggregate.Group, 0, len(c.Groups))
	for _, g := range c.Groups {
		out = append(out, aggregate.Group{ID: g.ID, Name: g.Name, SourceGroupID: g.ReplicatedFrom})
	}
	return out
}

// AuditEntry records a state change together with the state it replaced.
type AuditEntry struct {
	ActorID       int64
	Action        string
	Entity        refs.EntityRef
	CorrelationID string
	PreviousState map[string]any
	NewState      map[string]any
	At            time.Time
}
