package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

// fakeDocStore is an in-memory document.Store keyed by collection.
type fakeDocStore struct {
	mu   sync.Mutex
	docs map[string][]document.Document
}

func newFakeDocStore(docs map[string][]document.Document) *fakeDocStore {
	return &fakeDocStore{docs: docs}
}

func (f *fakeDocStore) Ping(ctx context.Context) error { return nil }
func (f *fakeDocStore) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.docs {
		names = append(names, name)
	}
	return names, nil
}
func (f *fakeDocStore) DumpCollection(ctx context.Context, collection string, since time.Time) ([]document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[collection], nil
}
func (f *fakeDocStore) Restore(ctx context.Context, docs []document.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		existing := f.docs[d.Collection]
		replaced := false
		for i, e := range existing {
			if e.ID == d.ID {
				existing[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, d)
		}
		f.docs[d.Collection] = existing
	}
	return nil
}
func (f *fakeDocStore) Close(ctx context.Context) error { return nil }

type fakeTSStore struct{}

func (fakeTSStore) Ping(ctx context.Context) error { return nil }
func (fakeTSStore) DumpRange(ctx context.Context, since, until time.Time) ([]timeseries.Point, error) {
	return nil, nil
}
func (fakeTSStore) Restore(ctx context.Context, points []timeseries.Point) error { return nil }
func (fakeTSStore) Close()                                                      {}

type fakeKVStore struct{}

func (fakeKVStore) Ping(ctx context.Context) error                  { return nil }
func (fakeKVStore) DumpAll(ctx context.Context) ([]kv.Entry, error) { return nil, nil }
func (fakeKVStore) Restore(ctx context.Context, entries []kv.Entry) error { return nil }
func (fakeKVStore) BackgroundSave(ctx context.Context) error              { return nil }
func (fakeKVStore) Close() error                                          { return nil }

type fakeConflictStore struct {
	mu      sync.Mutex
	records map[string]*models.ConflictRecord
}

func newFakeConflictStore() *fakeConflictStore {
	return &fakeConflictStore{records: make(map[string]*models.ConflictRecord)}
}

func (s *fakeConflictStore) SaveConflict(ctx context.Context, c *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.records[c.ID] = &cp
	return nil
}
func (s *fakeConflictStore) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}
func (s *fakeConflictStore) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ConflictRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
func (s *fakeConflictStore) ListPending(ctx context.Context) ([]*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ConflictRecord
	for _, r := range s.records {
		if r.Resolution == models.ConflictPending {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *fakeConflictStore) ResolveConflict(ctx context.Context, id string, resolvedWith string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	r.Resolution = models.ConflictResolved
	r.ResolvedWith = resolvedWith
	return nil
}

// TestSyncDocumentsDetectsConflictWhenSourceIsNewer covers the
// scenario where the source, not the target, holds the newer write:
// a naive "target newer than source" check would miss this entirely.
func TestSyncDocumentsDetectsConflictWhenSourceIsNewer(t *testing.T) {
	now := time.Now().UTC()
	primary := newFakeDocStore(map[string][]document.Document{
		"widgets": {{Collection: "widgets", ID: "a", UpdatedAt: now.Add(10 * time.Second), Raw: bson.M{"v": "P"}}},
	})
	target := newFakeDocStore(map[string][]document.Document{
		"widgets": {{Collection: "widgets", ID: "a", UpdatedAt: now.Add(5 * time.Second), Raw: bson.M{"v": "S"}}},
	})
	conflicts := newFakeConflictStore()

	rs := &regionSync{
		region:    "us-west",
		primary:   RegionStores{Document: primary, TimeSeries: fakeTSStore{}, KV: fakeKVStore{}},
		target:    RegionStores{Document: target, TimeSeries: fakeTSStore{}, KV: fakeKVStore{}},
		policy:    models.PolicyLastWriteWins,
		conflicts: conflicts,
		log:       zerolog.Nop(),
	}

	synced, err := rs.syncDocuments(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if synced != 1 {
		t.Errorf("expected 1 document synced, got %d", synced)
	}

	got := target.docs["widgets"][0]
	if got.Raw["v"] != "P" {
		t.Errorf("expected source to win, target now holds %v", got.Raw["v"])
	}

	all, err := conflicts.ListConflicts(context.Background())
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one conflict record, got %d", len(all))
	}
	if all[0].Resolution != models.ConflictResolved {
		t.Errorf("expected resolution=resolved, got %s", all[0].Resolution)
	}
	if all[0].ResolvedWith != "source" {
		t.Errorf("expected source to be recorded as the winner, got %s", all[0].ResolvedWith)
	}
}

func TestSyncDocumentsManualPolicyLeavesTargetUntouched(t *testing.T) {
	now := time.Now().UTC()
	primary := newFakeDocStore(map[string][]document.Document{
		"widgets": {{Collection: "widgets", ID: "a", UpdatedAt: now, Raw: bson.M{"v": "P"}}},
	})
	target := newFakeDocStore(map[string][]document.Document{
		"widgets": {{Collection: "widgets", ID: "a", UpdatedAt: now.Add(-5 * time.Second), Raw: bson.M{"v": "S"}}},
	})
	conflicts := newFakeConflictStore()

	rs := &regionSync{
		region:    "us-west",
		primary:   RegionStores{Document: primary, TimeSeries: fakeTSStore{}, KV: fakeKVStore{}},
		target:    RegionStores{Document: target, TimeSeries: fakeTSStore{}, KV: fakeKVStore{}},
		policy:    models.PolicyManual,
		conflicts: conflicts,
		log:       zerolog.Nop(),
	}

	if _, err := rs.syncDocuments(context.Background(), time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := target.docs["widgets"][0]
	if got.Raw["v"] != "S" {
		t.Errorf("expected target untouched under manual policy, got %v", got.Raw["v"])
	}

	pending, err := conflicts.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending conflict, got %d", len(pending))
	}
}

func TestSyncOnceFailsWhenTimeSeriesDumpFails(t *testing.T) {
	primary := newFakeDocStore(map[string][]document.Document{})
	target := newFakeDocStore(map[string][]document.Document{})

	rs := &regionSync{
		region:    "us-west",
		primary:   RegionStores{Document: primary, TimeSeries: failingTSStore{}, KV: fakeKVStore{}},
		target:    RegionStores{Document: target, TimeSeries: fakeTSStore{}, KV: fakeKVStore{}},
		policy:    models.PolicyLastWriteWins,
		conflicts: newFakeConflictStore(),
		log:       zerolog.Nop(),
	}

	if _, err := rs.syncOnce(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected sync round to fail")
	}
}

type failingTSStore struct{}

func (failingTSStore) Ping(ctx context.Context) error { return nil }
func (failingTSStore) DumpRange(ctx context.Context, since, until time.Time) ([]timeseries.Point, error) {
	return nil, context.DeadlineExceeded
}
func (failingTSStore) Restore(ctx context.Context, points []timeseries.Point) error { return nil }
func (failingTSStore) Close()                                                      {}
