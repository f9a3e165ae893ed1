// Package refs models discriminated references to entities that can be
// attached to, tagged by, or totalled over. A reference is a kind plus an id,
// never a pointer to a concrete record.
package refs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the entity kinds a reference can point at.
type Kind string

const (
	KindQuote         Kind = "quote"
	KindVersion       Kind = "version"
	KindCustomer      Kind = "customer"
	KindCompany       Kind = "company"
	KindLocation      Kind = "location"
	KindCountry       Kind = "country"
	KindUser          Kind = "user"
	KindOpportunity   Kind = "opportunity"
	KindAssetCategory Kind = "asset_category"
	KindVendor        Kind = "vendor"
)

var knownKinds = map[Kind]struct{}{
	KindQuote:         {},
	KindVersion:       {},
	KindCustomer:      {},
	KindCompany:       {},
	KindLocation:      {},
	KindCountry:       {},
	KindUser:          {},
	KindOpportunity:   {},
	KindAssetCategory: {},
	KindVendor:        {},
}

// ErrInvalidRef is returned when a reference cannot be parsed or validated.
var ErrInvalidRef = errors.New("refs: invalid entity reference")

// Valid reports whether the kind is one of the known entity kinds.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// EntityRef identifies one entity of a given kind.
type EntityRef struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// New builds a reference.
func New(kind Kind, id int64) EntityRef {
	return EntityRef{Kind: kind, ID: id}
}

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// Validate checks the kind and id.
func (r EntityRef) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRef, r.Kind)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidRef)
	}
	return nil
}

// String renders the reference as "kind:id".
func (r EntityRef) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// Parse reads a "kind:id" reference.
func Parse(raw string) (EntityRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return EntityRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}
	ref := EntityRef{Kind: Kind(strings.ToLower(kind)), ID: n}
	if err := ref.Validate(); err != nil {
		return EntityRef{}, err
	}
	return ref, nil
}

// Attachment links an attachable item (a note, a task, a company) to any
// entity through a reference.
type Attachment struct {
	ItemKind Kind      `json:"item_kind"`
	ItemID   int64     `json:"item_id"`
	Target   EntityRef `json:"target"`
}

// Index groups attachments by target reference.
type Index map[EntityRef][]Attachment

// Add records an attachment.
func (idx Index) Add(a Attachment) {
	idx[a.Target] = append(idx[a.Target], a)
}

// For returns the attachments on the target.
func (idx Index) For(target EntityRef) []Attachment {
	return idx[target]
}
