package backup

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
	"github.com/rs/zerolog"
)

// fakeDocStore is an in-memory document.Store for tests.
type fakeDocStore struct {
	docs map[string][]document.Document
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[string][]document.Document{
		"widgets": {
			{Collection: "widgets", ID: "1", UpdatedAt: time.Now(), Raw: map[string]interface{}{"_id": "1", "v": "a"}},
			{Collection: "widgets", ID: "2", UpdatedAt: time.Now(), Raw: map[string]interface{}{"_id": "2", "v": "b"}},
		},
	}}
}

func (f *fakeDocStore) Ping(ctx context.Context) error { return nil }
func (f *fakeDocStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.docs {
		names = append(names, name)
	}
	return names, nil
}
func (f *fakeDocStore) DumpCollection(ctx context.Context, collection string, since time.Time) ([]document.Document, error) {
	return f.docs[collection], nil
}
func (f *fakeDocStore) Restore(ctx context.Context, docs []document.Document) error { return nil }
func (f *fakeDocStore) Close(ctx context.Context) error                            { return nil }

// fakeTSStore is an in-memory timeseries.Store for tests.
type fakeTSStore struct {
	points []timeseries.Point
}

func newFakeTSStore() *fakeTSStore {
	return &fakeTSStore{points: []timeseries.Point{
		{Measurement: "cpu", Fields: map[string]interface{}{"value": 0.1}, Timestamp: time.Unix(100, 0)},
		{Measurement: "cpu", Fields: map[string]interface{}{"value": 0.2}, Timestamp: time.Unix(200, 0)},
	}}
}

func (f *fakeTSStore) Ping(ctx context.Context) error { return nil }
func (f *fakeTSStore) DumpRange(ctx context.Context, since, until time.Time) ([]timeseries.Point, error) {
	var out []timeseries.Point
	for _, p := range f.points {
		if p.Timestamp.After(since) {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeTSStore) Restore(ctx context.Context, points []timeseries.Point) error { return nil }
func (f *fakeTSStore) Close()                                                      {}

// fakeKVStore is an in-memory kv.Store for tests.
type fakeKVStore struct {
	entries []kv.Entry
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{entries: []kv.Entry{{Key: "session:1", Value: "abc"}}}
}

func (f *fakeKVStore) Ping(ctx context.Context) error                         { return nil }
func (f *fakeKVStore) DumpAll(ctx context.Context) ([]kv.Entry, error)        { return f.entries, nil }
func (f *fakeKVStore) Restore(ctx context.Context, entries []kv.Entry) error  { return nil }
func (f *fakeKVStore) BackgroundSave(ctx context.Context) error               { return nil }
func (f *fakeKVStore) Close() error                                          { return nil }

// fakeBackupStore is an in-memory BackupStore for tests.
type fakeBackupStore struct {
	mu      sync.Mutex
	records map[string]*models.BackupRecord
}

func newFakeBackupStore() *fakeBackupStore {
	return &fakeBackupStore{records: make(map[string]*models.BackupRecord)}
}

func (s *fakeBackupStore) SaveRecord(ctx context.Context, r *models.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.ID] = &cp
	return nil
}
func (s *fakeBackupStore) GetRecord(ctx context.Context, id string) (*models.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id], nil
}
func (s *fakeBackupStore) ListAllRecords(ctx context.Context) ([]*models.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BackupRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
func (s *fakeBackupStore) ListByKind(ctx context.Context, kind models.BackupKind) ([]*models.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.BackupRecord
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *fakeBackupStore) LatestBackupID(ctx context.Context, kind models.BackupKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.BackupRecord
	for _, r := range s.records {
		if r.Kind != kind || !r.Success {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.ID, nil
}
func (s *fakeBackupStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "aegis-backup-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	storage, err := NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	m, err := NewManager(Config{
		Storage:          storage,
		Records:          newFakeBackupStore(),
		DocStore:         newFakeDocStore(),
		TimeSeries:       newFakeTSStore(),
		KV:               newFakeKVStore(),
		RetentionDaily:   7,
		RetentionWeekly:  4,
		RetentionMonthly: 12,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestFullBackupSucceedsAcrossAllStores(t *testing.T) {
	m := newTestManager(t)

	record, err := m.FullBackup(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !record.Success {
		t.Errorf("expected success, got errors: %v", record.Errors)
	}
	if len(record.Stores) != 3 {
		t.Errorf("expected 3 sub-results, got %d", len(record.Stores))
	}
	for _, r := range record.Stores {
		if !r.Success {
			t.Errorf("store %s failed: %s", r.Store, r.Error)
		}
	}
	if record.SizeBytes <= 0 {
		t.Error("expected positive total size")
	}
}

func TestIncrementalBackupRequiresPriorFull(t *testing.T) {
	m := newTestManager(t)

	_, err := m.IncrementalBackup(context.Background())
	if err == nil {
		t.Error("expected error when no full backup has run yet")
	}

	if _, err := m.FullBackup(context.Background()); err != nil {
		t.Fatalf("full backup failed: %v", err)
	}

	record, err := m.IncrementalBackup(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if record.SinceBackupID == "" {
		t.Error("expected incremental to carry a SinceBackupID")
	}
}

func TestPartialStoreFailureDoesNotAbortOthers(t *testing.T) {
	m := newTestManager(t)
	m.tsStore = failingTSStore{}

	record, err := m.FullBackup(context.Background())
	if err != nil {
		t.Fatalf("expected no top-level error, got: %v", err)
	}
	if record.Success {
		t.Error("expected aggregate success=false when one store fails")
	}

	var docSucceeded, kvSucceeded bool
	for _, r := range record.Stores {
		switch r.Store {
		case models.StoreDocument:
			docSucceeded = r.Success
		case models.StoreKV:
			kvSucceeded = r.Success
		}
	}
	if !docSucceeded || !kvSucceeded {
		t.Error("expected document and kv sub-results to still succeed")
	}
}

type failingTSStore struct{}

func (failingTSStore) Ping(ctx context.Context) error { return nil }
func (failingTSStore) DumpRange(ctx context.Context, since, until time.Time) ([]timeseries.Point, error) {
	return nil, context.DeadlineExceeded
}
func (failingTSStore) Restore(ctx context.Context, points []timeseries.Point) error { return nil }
func (failingTSStore) Close()                                                      {}

func TestRetentionSweepKeepsMostRecentFull(t *testing.T) {
	m := newTestManager(t)
	m.retentionDaily = 0

	record, err := m.FullBackup(context.Background())
	if err != nil {
		t.Fatalf("full backup failed: %v", err)
	}

	records, err := m.records.ListByKind(context.Background(), models.BackupFull)
	if err != nil {
		t.Fatalf("list by kind failed: %v", err)
	}
	found := false
	for _, r := range records {
		if r.ID == record.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected the most recent full backup to survive retention with a zero-count tier")
	}
}
