package totals

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/quoting/internal/shared"
)

// State tells readers whether a quote's totals are authoritative.
type State string

const (
	StateUnknown       State = "unknown"
	StateRecalculating State = "recalculating"
	StateFresh         State = "fresh"
	StateFailed        State = "failed"
)

// Status is the stored totals state of one quote.
type Status struct {
	QuoteID   int64     `json:"quote_id"`
	State     State     `json:"state"`
	VersionID int64     `json:"version_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusStore keeps totals state in Redis.
type StatusStore struct {
	client *redis.Client
	now    func() time.Time
	reads  singleflight.Group
}

// NewStatusStore constructs the store.
func NewStatusStore(client *redis.Client) *StatusStore {
	return &StatusStore{client: client, now: time.Now}
}

// MarkRecalculating flags totals as stale until the next successful run.
func (s *StatusStore) MarkRecalculating(ctx context.Context, quoteID int64) error {
	return s.put(ctx, Status{QuoteID: quoteID, State: StateRecalculating})
}

// MarkFresh records a successful materialization of versionID.
func (s *StatusStore) MarkFresh(ctx context.Context, quoteID, versionID int64) error {
	return s.put(ctx, Status{QuoteID: quoteID, State: StateFresh, VersionID: versionID})
}

// MarkFailed records a failed materialization.
func (s *StatusStore) MarkFailed(ctx context.Context, quoteID, versionID int64, cause error) error {
	st := Status{QuoteID: quoteID, State: StateFailed, VersionID: versionID}
	if cause != nil {
		st.Error = cause.Error()
	}
	return s.put(ctx, st)
}

// Clear forgets the state of a quote whose totals were retracted.
func (s *StatusStore) Clear(ctx context.Context, quoteID int64) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, shared.TotalsStatusKey(quoteID)).Err()
}

// Get returns the state of a quote. Missing entries report StateUnknown.
// Concurrent reads of the same quote share one round trip.
func (s *StatusStore) Get(ctx context.Context, quoteID int64) (Status, error) {
	if s == nil || s.client == nil {
		return Status{QuoteID: quoteID, State: StateUnknown}, nil
	}
	v, err, _ := s.reads.Do(strconv.FormatInt(quoteID, 10), func() (interface{}, error) {
		payload, err := s.client.Get(ctx, shared.TotalsStatusKey(quoteID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return Status{QuoteID: quoteID, State: StateUnknown}, nil
		}
		if err != nil {
			return Status{}, err
		}
		var st Status
		if err := json.Unmarshal(payload, &st); err != nil {
			return Status{}, err
		}
		return st, nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

func (s *StatusStore) put(ctx context.Context, st Status) error {
	if s == nil || s.client == nil {
		return nil
	}
	st.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, shared.TotalsStatusKey(st.QuoteID), payload, 0).Err()
}
