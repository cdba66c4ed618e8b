package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

type fakeDocStore struct{ restored []document.Document }

func (f *fakeDocStore) Ping(ctx context.Context) error { return nil }
func (f *fakeDocStore) ListCollections(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeDocStore) DumpCollection(ctx context.Context, collection string, since time.Time) ([]document.Document, error) {
	return nil, nil
}
func (f *fakeDocStore) Restore(ctx context.Context, docs []document.Document) error {
	f.restored = append(f.restored, docs...)
	return nil
}
func (f *fakeDocStore) Close(ctx context.Context) error { return nil }

type fakeTSStore struct{ restored []timeseries.Point }

func (f *fakeTSStore) Ping(ctx context.Context) error { return nil }
func (f *fakeTSStore) DumpRange(ctx context.Context, since, until time.Time) ([]timeseries.Point, error) {
	return nil, nil
}
func (f *fakeTSStore) Restore(ctx context.Context, points []timeseries.Point) error {
	f.restored = append(f.restored, points...)
	return nil
}
func (f *fakeTSStore) Close() {}

type fakeKVStore struct{ restored []kv.Entry }

func (f *fakeKVStore) Ping(ctx context.Context) error              { return nil }
func (f *fakeKVStore) BackgroundSave(ctx context.Context) error    { return nil }
func (f *fakeKVStore) DumpAll(ctx context.Context) ([]kv.Entry, error) {
	return nil, nil
}
func (f *fakeKVStore) Restore(ctx context.Context, entries []kv.Entry) error {
	f.restored = append(f.restored, entries...)
	return nil
}
func (f *fakeKVStore) Close() error { return nil }

type fakeBackupStore struct {
	records map[string]*models.BackupRecord
}

func (s *fakeBackupStore) SaveRecord(ctx context.Context, r *models.BackupRecord) error { return nil }
func (s *fakeBackupStore) GetRecord(ctx context.Context, id string) (*models.BackupRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return r, nil
}
func (s *fakeBackupStore) ListAllRecords(ctx context.Context) ([]*models.BackupRecord, error) {
	var out []*models.BackupRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
func (s *fakeBackupStore) ListByKind(ctx context.Context, kind models.BackupKind) ([]*models.BackupRecord, error) {
	return nil, nil
}
func (s *fakeBackupStore) LatestBackupID(ctx context.Context, kind models.BackupKind) (string, error) {
	return "", nil
}
func (s *fakeBackupStore) DeleteRecord(ctx context.Context, id string) error { return nil }

func TestGeneratePlanFullBuildsCanonicalFourSteps(t *testing.T) {
	store := &fakeBackupStore{records: map[string]*models.BackupRecord{
		"b1": {ID: "b1", Kind: models.BackupFull, Timestamp: time.Now(), Success: true},
	}}
	m := NewManager(nil, store, &fakeDocStore{}, &fakeTSStore{}, &fakeKVStore{}, zerolog.Nop())

	plan, err := m.GeneratePlan(context.Background(), models.RecoveryFull, Options{BackupID: "b1", TargetRegion: "west"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 4 {
		t.Fatalf("expected 4 steps for a full plan, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Category != models.CategoryDatabase || plan.Steps[3].Category != models.CategoryValidation {
		t.Errorf("unexpected step category ordering: %+v", plan.Steps)
	}
}

func TestGeneratePlanPointInTimeNoCoverageFails(t *testing.T) {
	store := &fakeBackupStore{records: map[string]*models.BackupRecord{}}
	m := NewManager(nil, store, &fakeDocStore{}, &fakeTSStore{}, &fakeKVStore{}, zerolog.Nop())

	pit := time.Now()
	_, err := m.GeneratePlan(context.Background(), models.RecoveryPointInTime, Options{PointInTime: &pit})
	if err == nil {
		t.Fatal("expected no-coverage error with no full backups present")
	}
}

func TestGeneratePlanPointInTimeOrdersIncrementalsAfterFull(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	store := &fakeBackupStore{records: map[string]*models.BackupRecord{
		"full":  {ID: "full", Kind: models.BackupFull, Timestamp: base, Success: true},
		"inc-2": {ID: "inc-2", Kind: models.BackupIncremental, Timestamp: base.Add(20 * time.Minute), Success: true},
		"inc-1": {ID: "inc-1", Kind: models.BackupIncremental, Timestamp: base.Add(10 * time.Minute), Success: true},
	}}
	m := NewManager(nil, store, &fakeDocStore{}, &fakeTSStore{}, &fakeKVStore{}, zerolog.Nop())

	pit := base.Add(30 * time.Minute)
	chain, err := m.resolvePointInTimeChain(context.Background(), pit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) != 3 || chain[0].ID != "full" || chain[1].ID != "inc-1" || chain[2].ID != "inc-2" {
		t.Fatalf("expected [full, inc-1, inc-2] in order, got %+v", chain)
	}
}

func TestExecutePlanCompletesEveryStep(t *testing.T) {
	store := &fakeBackupStore{records: map[string]*models.BackupRecord{
		"b1": {ID: "b1", Kind: models.BackupFull, Timestamp: time.Now(), Success: true, Stores: nil},
	}}
	docs, ts, kvs := &fakeDocStore{}, &fakeTSStore{}, &fakeKVStore{}
	m := NewManager(nil, store, docs, ts, kvs, zerolog.Nop())

	plan, err := m.GeneratePlan(context.Background(), models.RecoveryFull, Options{BackupID: "b1", TargetRegion: "west"})
	if err != nil {
		t.Fatalf("unexpected error generating plan: %v", err)
	}

	if err := m.ExecutePlan(context.Background(), plan.ID, false); err != nil {
		t.Fatalf("unexpected execution error: %v", err)
	}

	got, _ := m.GetPlan(plan.ID)
	for _, s := range got.Steps {
		if s.State != models.StepCompleted {
			t.Errorf("step %s expected completed, got %s", s.ID, s.State)
		}
	}
}
