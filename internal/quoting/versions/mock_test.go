package versions

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/quoting/discount"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

// memRepository emulates the quote tables. Row locks are per-quote mutexes held
// until the transaction ends and the (quote_id, version_number) uniqueness is
// enforced on insert. Writes apply immediately; the service validates before
// its first write in every path.
type memRepository struct {
	mu       sync.Mutex
	nextID   int64
	quotes   map[int64]*Quote
	versions map[int64]*Version
	groups   map[int64][]Group
	lines    map[int64][]aggregate.Line
	audits   []AuditEntry

	quoteLocks map[int64]*sync.Mutex
	discounts  stubDiscounts

	// lockFree skips the quote row lock so creators race on version numbers.
	lockFree bool
	// forcedConflicts makes the next N version inserts fail as duplicates.
	forcedConflicts int
	// forcedStale makes the next N compare-and-set calls lose.
	forcedStale int
	txCount     int
}

func newMemRepository() *memRepository {
	return &memRepository{
		nextID:     1,
		quotes:     make(map[int64]*Quote),
		versions:   make(map[int64]*Version),
		groups:     make(map[int64][]Group),
		lines:      make(map[int64][]aggregate.Line),
		quoteLocks: make(map[int64]*sync.Mutex),
		discounts:  stubDiscounts{},
	}
}

func (r *memRepository) id() int64 {
	id := r.nextID
	r.nextID++
	return id
}

func (r *memRepository) WithTx(ctx context.Context, _ pgx.TxIsoLevel, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	r.txCount++
	r.mu.Unlock()
	tx := &memTx{repo: r}
	defer tx.release()
	return fn(ctx, tx)
}

func (r *memRepository) GetQuote(_ context.Context, id int64) (Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok || q.DeletedAt != nil {
		return Quote{}, fmt.Errorf("%w: quote %d", ErrNotFound, id)
	}
	return *q, nil
}

func (r *memRepository) GetVersion(_ context.Context, id int64) (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versionLocked(id)
}

func (r *memRepository) versionLocked(id int64) (Version, error) {
	v, ok := r.versions[id]
	if !ok || v.DeletedAt != nil {
		return Version{}, fmt.Errorf("%w: version %d", ErrNotFound, id)
	}
	return *v, nil
}

func (r *memRepository) ListVersions(_ context.Context, quoteID int64) ([]Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Version
	for _, v := range r.versions {
		if v.QuoteID == quoteID && v.DeletedAt == nil {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (r *memRepository) Contents(_ context.Context, versionID int64) (Contents, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contentsLocked(versionID), nil
}

func (r *memRepository) contentsLocked(versionID int64) Contents {
	c := Contents{
		Groups: append([]Group(nil), r.groups[versionID]...),
		Lines:  append([]aggregate.Line(nil), r.lines[versionID]...),
	}
	return c
}

func (r *memRepository) Discounts() discount.Lookup {
	return r.discounts
}

// allVersions includes discarded versions.
func (r *memRepository) allVersions(quoteID int64) []Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Version
	for _, v := range r.versions {
		if v.QuoteID == quoteID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out
}

func (r *memRepository) addGroup(versionID int64, name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.id()
	r.groups[versionID] = append(r.groups[versionID], Group{ID: id, VersionID: versionID, Kind: aggregate.KindRow, Name: name})
	return id
}

func (r *memRepository) addLines(versionID int64, lines ...aggregate.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range lines {
		l.ID = r.id()
		r.lines[versionID] = append(r.lines[versionID], l)
	}
}

type memTx struct {
	repo *memRepository
	held []*sync.Mutex
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

func (t *memTx) LockQuote(ctx context.Context, id int64) (Quote, error) {
	r := t.repo
	if !r.lockFree {
		r.mu.Lock()
		lock, ok := r.quoteLocks[id]
		if !ok {
			lock = &sync.Mutex{}
			r.quoteLocks[id] = lock
		}
		r.mu.Unlock()
		lock.Lock()
		t.held = append(t.held, lock)
	}
	return r.GetQuote(ctx, id)
}

func (t *memTx) LockVersion(ctx context.Context, id int64) (Version, error) {
	return t.repo.GetVersion(ctx, id)
}

func (t *memTx) GetVersion(ctx context.Context, id int64) (Version, error) {
	return t.repo.GetVersion(ctx, id)
}

func (t *memTx) LatestVersion(_ context.Context, quoteID int64) (Version, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *Version
	for _, v := range r.versions {
		if v.QuoteID != quoteID || v.DeletedAt != nil {
			continue
		}
		if latest == nil || v.VersionNumber > latest.VersionNumber {
			latest = v
		}
	}
	if latest == nil {
		return Version{}, fmt.Errorf("%w: quote %d has no versions", ErrNotFound, quoteID)
	}
	return *latest, nil
}

func (t *memTx) MaxVersionNumber(_ context.Context, quoteID int64) (int, error) {
	r := t.repo
	r.mu.Lock()
	latest := 0
	for _, v := range r.versions {
		if v.QuoteID == quoteID && v.VersionNumber > latest {
			latest = v.VersionNumber
		}
	}
	r.mu.Unlock()
	if r.lockFree {
		runtime.Gosched()
	}
	return latest, nil
}

func (t *memTx) Contents(ctx context.Context, versionID int64) (Contents, error) {
	return t.repo.Contents(ctx, versionID)
}

func (t *memTx) Discounts() discount.Lookup {
	return t.repo.discounts
}

func (t *memTx) InsertQuote(_ context.Context, q Quote) (int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	q.ID = r.id()
	r.quotes[q.ID] = &q
	return q.ID, nil
}

func (t *memTx) InsertVersion(_ context.Context, v Version) (int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedConflicts > 0 {
		r.forcedConflicts--
		return 0, fmt.Errorf("%w: forced", ErrConcurrentVersionCreation)
	}
	for _, existing := range r.versions {
		if existing.QuoteID == v.QuoteID && existing.VersionNumber == v.VersionNumber {
			return 0, fmt.Errorf("%w: quote %d version %d", ErrConcurrentVersionCreation, v.QuoteID, v.VersionNumber)
		}
	}
	v.ID = r.id()
	r.versions[v.ID] = &v
	return v.ID, nil
}

func (t *memTx) CloneContents(_ context.Context, fromVersionID, toVersionID int64) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping := make(map[int64]int64)
	for _, g := range r.groups[fromVersionID] {
		source := g.ID
		clone := g
		clone.ID = r.id()
		clone.VersionID = toVersionID
		clone.ReplicatedFrom = &source
		mapping[source] = clone.ID
		r.groups[toVersionID] = append(r.groups[toVersionID], clone)
	}
	for _, l := range r.lines[fromVersionID] {
		clone := l
		clone.ID = r.id()
		if l.GroupID != nil {
			mapped := mapping[*l.GroupID]
			clone.GroupID = &mapped
		}
		r.lines[toVersionID] = append(r.lines[toVersionID], clone)
	}
	return nil
}

func (t *memTx) UpdatePricing(_ context.Context, versionID int64, p Pricing, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[versionID]
	if !ok || v.State != StateDraft {
		return ErrVersionImmutable
	}
	v.Pricing = p
	v.UpdatedAt = at
	return nil
}

func (t *memTx) MarkSubmitted(_ context.Context, versionID int64, summary PricingSummary, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[versionID]
	if !ok || v.State != StateDraft {
		return ErrInvalidState
	}
	v.State = StateSubmitted
	v.Summary = &summary
	v.SubmittedAt = &at
	return nil
}

func (t *memTx) CompareAndSetActive(_ context.Context, quoteID int64, expected *int64, next int64, at time.Time) (bool, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forcedStale > 0 {
		r.forcedStale--
		return false, nil
	}
	q, ok := r.quotes[quoteID]
	if !ok {
		return false, nil
	}
	if !sameID(q.ActiveVersionID, expected) {
		return false, nil
	}
	q.ActiveVersionID = &next
	q.UpdatedAt = at
	return true, nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (t *memTx) MarkActivated(_ context.Context, versionID int64, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[versionID]
	if !ok || v.State != StateSubmitted {
		return ErrInvalidState
	}
	v.State = StateActivated
	v.ActivatedAt = &at
	return nil
}

func (t *memTx) MarkSuperseded(_ context.Context, versionID int64, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.versions[versionID]; ok && v.State == StateActivated {
		v.State = StateSuperseded
		v.UpdatedAt = at
	}
	return nil
}

func (t *memTx) SoftDeleteVersion(_ context.Context, versionID int64, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.versions[versionID]; ok {
		v.State = StateDiscarded
		v.DeletedAt = &at
	}
	delete(r.lines, versionID)
	delete(r.groups, versionID)
	return nil
}

func (t *memTx) SoftDeleteQuote(_ context.Context, quoteID int64, at time.Time) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.quotes[quoteID]; ok {
		q.DeletedAt = &at
	}
	for _, v := range r.versions {
		if v.QuoteID == quoteID && v.DeletedAt == nil {
			v.DeletedAt = &at
		}
	}
	return nil
}

func (t *memTx) RecordAudit(_ context.Context, entry AuditEntry) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, entry)
	return nil
}

// ============================================================================
// COLLABORATORS
// ============================================================================

type stubDiscounts map[discount.Type]map[int64]discount.Discount

func (s stubDiscounts) Discount(_ context.Context, t discount.Type, id int64) (discount.Discount, error) {
	if d, ok := s[t][id]; ok {
		return d, nil
	}
	return discount.Discount{}, discount.ErrNotFound
}

type scheduled struct {
	quoteID   int64
	versionID int64
	retract   bool
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (s *recordingScheduler) ScheduleMaterialize(_ context.Context, quoteID, versionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduled{quoteID: quoteID, versionID: versionID})
	return s.err
}

func (s *recordingScheduler) ScheduleRetract(_ context.Context, quoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, scheduled{quoteID: quoteID, retract: true})
	return s.err
}

type recordingStatus struct {
	mu     sync.Mutex
	marked []int64
}

func (s *recordingStatus) MarkRecalculating(_ context.Context, quoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, quoteID)
	return nil
}

type countingMetrics struct {
	mu      sync.Mutex
	ops     map[string]int
	retries map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{ops: map[string]int{}, retries: map[string]int{}}
}

func (m *countingMetrics) VersionOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+":"+outcome]++
}

func (m *countingMetrics) VersionRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

// steppingClock returns strictly increasing instants.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
