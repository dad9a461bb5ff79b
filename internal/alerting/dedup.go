package alerting

import (
	"context"
	"sync"
	"time"
)

// RecordStore persists live alert records for deduplication. CreateOrTouch
// must be atomic per dedup key: concurrent evaluations for the same key must
// never both observe "created".
type RecordStore interface {
	// CreateOrTouch creates the record if no live one exists within the
	// dedup window, returning created=true. Otherwise it bumps the existing
	// record's LastAttempted and returns created=false.
	CreateOrTouch(ctx context.Context, rec AlertRecord, window time.Duration) (created bool, err error)
	// MarkDelivered records the sink outcome for the given key.
	MarkDelivered(ctx context.Context, dedupKey string, delivered bool) error
	// ListParked returns undelivered records for the dead-letter path.
	ListParked(ctx context.Context) ([]AlertRecord, error)
	// Sweep evicts delivered records whose dedup window has elapsed.
	Sweep(ctx context.Context, olderThan time.Time) error
}

// MemoryRecordStore is the in-process record store. Suitable for a single
// pipeline instance; multi-process deployments use the redis store.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[string]*AlertRecord
	// parked holds records displaced from the live map with their delivery
	// still outstanding; they stay listed until an operator collects them.
	parked []AlertRecord
	now    func() time.Time
}

// NewMemoryRecordStore creates an empty in-memory store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]*AlertRecord),
		now:     time.Now,
	}
}

// SetNow overrides the clock. Test seam.
func (m *MemoryRecordStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// CreateOrTouch implements RecordStore.
func (m *MemoryRecordStore) CreateOrTouch(ctx context.Context, rec AlertRecord, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	existing, ok := m.records[rec.DedupKey]
	if ok {
		if now.Sub(existing.FirstSeen) < window {
			existing.LastAttempted = now
			existing.RiskScore = rec.RiskScore
			return false, nil
		}
		// Window elapsed: the key frees up for a fresh alert. A record whose
		// delivery is still outstanding moves to the parked list first so
		// the dead-letter trail survives the overwrite.
		if existing.Delivered {
			delete(m.records, rec.DedupKey)
		} else {
			m.parked = append(m.parked, *existing)
		}
	}

	created := rec
	created.FirstSeen = now
	created.LastAttempted = now
	m.records[rec.DedupKey] = &created
	return true, nil
}

// MarkDelivered implements RecordStore.
func (m *MemoryRecordStore) MarkDelivered(ctx context.Context, dedupKey string, delivered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[dedupKey]; ok {
		rec.Delivered = delivered
	}
	return nil
}

// ListParked implements RecordStore.
func (m *MemoryRecordStore) ListParked(ctx context.Context) ([]AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parked := append([]AlertRecord(nil), m.parked...)
	for _, rec := range m.records {
		if !rec.Delivered {
			parked = append(parked, *rec)
		}
	}
	return parked, nil
}

// Sweep implements RecordStore.
func (m *MemoryRecordStore) Sweep(ctx context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		if rec.Delivered && rec.FirstSeen.Before(olderThan) {
			delete(m.records, key)
		}
	}
	return nil
}

// Get returns the live record for a key, if any. Used by tests and the
// show command.
func (m *MemoryRecordStore) Get(dedupKey string) (AlertRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[dedupKey]
	if !ok {
		return AlertRecord{}, false
	}
	return *rec, true
}

var _ RecordStore = (*MemoryRecordStore)(nil)
