// Package backup implements Aegis's backup engine: consistent full and
// incremental backups of the document, time-series, and key-value
// stores, uploaded to object storage under a tiered retention policy.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/errs"
	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

// archiveFormatVersion is recorded in every archive's backup-version
// metadata; bump it when writeArchive/readArchive's on-disk framing
// changes in a way that makes older archives unreadable by a newer
// build.
const archiveFormatVersion = "1"

// Manager orchestrates full and incremental backups across the three
// stores of a single region, and enforces the tiered retention policy
// against the objects it has written.
type Manager struct {
	storage StorageBackend
	records BackupStore

	docStore document.Store
	tsStore  timeseries.Store
	kvStore  kv.Store

	encryptor *archiveEncryptor // nil when encryption is disabled

	retentionDaily, retentionWeekly, retentionMonthly int

	log zerolog.Logger

	mu        sync.Mutex // serializes every backup run, full and incremental alike (they never overlap); guards lastFull/lastDelta
	lastFull  time.Time
	lastDelta time.Time
}

// Config bundles the Manager's tunables so NewManager's signature stays
// readable as stores and policy fields grow.
type Config struct {
	Storage        StorageBackend
	Records        BackupStore
	DocStore       document.Store
	TimeSeries     timeseries.Store
	KV             kv.Store
	EncryptionKey  string // empty disables encryption
	RetentionDaily int
	RetentionWeekly int
	RetentionMonthly int
}

// NewManager builds a Manager. EncryptionKey, when non-empty, derives an
// AES-256-GCM key via HKDF; archives are encrypted after compression.
func NewManager(cfg Config, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		storage:          cfg.Storage,
		records:          cfg.Records,
		docStore:         cfg.DocStore,
		tsStore:          cfg.TimeSeries,
		kvStore:          cfg.KV,
		retentionDaily:   cfg.RetentionDaily,
		retentionWeekly:  cfg.RetentionWeekly,
		retentionMonthly: cfg.RetentionMonthly,
		log:              log,
	}
	if cfg.EncryptionKey != "" {
		enc, err := newArchiveEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		m.encryptor = enc
	}
	return m, nil
}

// FullBackup takes a self-contained snapshot of all three stores.
// A retention sweep runs at the end of a successful full backup.
func (m *Manager) FullBackup(ctx context.Context) (*models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.runBackup(ctx, models.BackupFull, time.Time{}, "")
	if record != nil && record.Success {
		m.lastFull = record.Timestamp
		if sweepErr := m.EnforceRetention(ctx); sweepErr != nil {
			m.log.Warn().Err(sweepErr).Msg("retention sweep failed after full backup")
		}
	}
	return record, err
}

// IncrementalBackup takes a delta since the most recent successful
// backup of either kind, so it is always composable with the nearest
// preceding full backup.
func (m *Manager) IncrementalBackup(ctx context.Context) (*models.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	since := m.lastDelta
	if since.Before(m.lastFull) {
		since = m.lastFull
	}
	if since.IsZero() {
		return nil, fmt.Errorf("backup: no prior full backup to base an incremental on")
	}

	baseKind := models.BackupFull
	if m.lastDelta.After(m.lastFull) {
		baseKind = models.BackupIncremental
	}
	sinceID, err := m.records.LatestBackupID(ctx, baseKind)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve incremental base: %w", err)
	}

	record, err := m.runBackup(ctx, models.BackupIncremental, since, sinceID)
	if record != nil && record.Success {
		m.lastDelta = record.Timestamp
	}
	return record, err
}

func (m *Manager) runBackup(ctx context.Context, kind models.BackupKind, since time.Time, sinceID string) (*models.BackupRecord, error) {
	start := time.Now().UTC()
	id := newBackupID(kind, start)

	record := &models.BackupRecord{
		ID:            id,
		Kind:          kind,
		Timestamp:     start,
		SinceBackupID: sinceID,
		Locator:       StorageLocatorFor(id),
	}

	type job struct {
		store models.StoreKind
		run   func() (models.StoreBackupResult, error)
	}
	jobs := []job{
		{models.StoreDocument, func() (models.StoreBackupResult, error) { return m.backupDocument(ctx, id, since) }},
		{models.StoreTimeSeries, func() (models.StoreBackupResult, error) { return m.backupTimeSeries(ctx, id, since) }},
		{models.StoreKV, func() (models.StoreBackupResult, error) { return m.backupKV(ctx, id) }},
	}

	results := make([]models.StoreBackupResult, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			res, err := j.run()
			if err != nil {
				res.Store = j.store
				res.Success = false
				res.Error = errs.NewData(string(j.store), err).Error()
			}
			results[i] = res
		}(i, j)
	}
	wg.Wait()

	record.Stores = results
	record.Success = true
	for _, r := range results {
		record.SizeBytes += r.SizeBytes
		if !r.Success {
			record.Success = false
			record.Errors = append(record.Errors, fmt.Sprintf("%s: %s", r.Store, r.Error))
		}
		metrics.BackupSizeBytes.WithLabelValues(string(r.Store)).Set(float64(r.SizeBytes))
	}
	record.Duration = time.Since(start)

	metrics.BackupTotal.WithLabelValues(string(kind)).Inc()
	if record.Success {
		metrics.BackupSuccessTotal.WithLabelValues(string(kind)).Inc()
	}

	if err := m.records.SaveRecord(ctx, record); err != nil {
		m.log.Warn().Err(err).Str("backupId", id).Msg("failed to persist backup record")
	}

	m.log.Info().
		Str("backupId", id).
		Str("kind", string(kind)).
		Bool("success", record.Success).
		Int64("sizeBytes", record.SizeBytes).
		Dur("duration", record.Duration).
		Msg("backup completed")

	return record, nil
}

// backupDocument dumps every collection, optionally filtered by since,
// gzip-compresses and optionally encrypts the result, and uploads it
// under backups/mongodb/<backupId>.
func (m *Manager) backupDocument(ctx context.Context, backupID string, since time.Time) (models.StoreBackupResult, error) {
	res := models.StoreBackupResult{Store: models.StoreDocument}

	collections, err := m.docStore.ListCollections(ctx)
	if err != nil {
		return res, err
	}

	var all []document.Document
	for _, c := range collections {
		docs, err := m.docStore.DumpCollection(ctx, c, since)
		if err != nil {
			return res, fmt.Errorf("dump collection %s: %w", c, err)
		}
		all = append(all, docs...)
		res.Collections = append(res.Collections, c)
	}

	payload, err := json.Marshal(all)
	if err != nil {
		return res, fmt.Errorf("marshal documents: %w", err)
	}
	size, err := m.writeArchive(ctx, objectKey(models.StoreDocument, backupID), payload)
	if err != nil {
		return res, err
	}
	res.SizeBytes = size
	res.Success = true
	return res, nil
}

// backupTimeSeries dumps points with timestamp in (since, now], gzips
// and optionally encrypts, and uploads under backups/influxdb/<backupId>.
func (m *Manager) backupTimeSeries(ctx context.Context, backupID string, since time.Time) (models.StoreBackupResult, error) {
	res := models.StoreBackupResult{Store: models.StoreTimeSeries}

	points, err := m.tsStore.DumpRange(ctx, since, time.Now().UTC())
	if err != nil {
		return res, err
	}

	payload, err := json.Marshal(points)
	if err != nil {
		return res, fmt.Errorf("marshal points: %w", err)
	}
	size, err := m.writeArchive(ctx, objectKey(models.StoreTimeSeries, backupID), payload)
	if err != nil {
		return res, err
	}
	res.SizeBytes = size
	res.Success = true
	return res, nil
}

// backupKV triggers a background save and uploads the resulting dump
// under backups/redis/<backupId>. Incremental KV backups are a tagged
// full re-dump: Redis offers no cheaper "changed since" primitive.
func (m *Manager) backupKV(ctx context.Context, backupID string) (models.StoreBackupResult, error) {
	res := models.StoreBackupResult{Store: models.StoreKV}

	if err := m.kvStore.BackgroundSave(ctx); err != nil {
		return res, err
	}
	entries, err := m.kvStore.DumpAll(ctx)
	if err != nil {
		return res, err
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return res, fmt.Errorf("marshal entries: %w", err)
	}
	size, err := m.writeArchive(ctx, objectKey(models.StoreKV, backupID), payload)
	if err != nil {
		return res, err
	}
	res.SizeBytes = size
	res.Success = true
	return res, nil
}

// writeArchive gzip-compresses payload, optionally encrypts it, and
// writes it to storage at key along with the object metadata every
// backup archive carries: whether it's encrypted, when it was
// written, and the archive format version. An encrypted archive also
// carries the key id its server-side encryption (where supported) and
// payload encryption both reference.
func (m *Manager) writeArchive(ctx context.Context, key string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(payload); err != nil {
		return 0, fmt.Errorf("gzip: %w", err)
	}
	if err := gw.Close(); err != nil {
		return 0, fmt.Errorf("gzip close: %w", err)
	}
	data := buf.Bytes()

	metadata := map[string]string{
		"backup-encrypted": "false",
		"backup-timestamp": time.Now().UTC().Format(time.RFC3339),
		"backup-version":   archiveFormatVersion,
	}

	if m.encryptor != nil {
		sealed, err := m.encryptor.seal(data)
		if err != nil {
			return 0, err
		}
		data = sealed
		metadata["backup-encrypted"] = "true"
		metadata["backup-encryption-key-id"] = m.encryptor.keyID
	}

	if err := m.storage.Write(ctx, key, data, metadata); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return int64(len(data)), nil
}

// LoadStorePayload decompresses (and decrypts, if enabled) the raw
// document/point/entry payload for one store of a given backup. The
// recovery executor calls this once per store while applying a plan.
func (m *Manager) LoadStorePayload(ctx context.Context, store models.StoreKind, backupID string) ([]byte, error) {
	return m.readArchive(ctx, objectKey(store, backupID))
}

// readArchive is the inverse of writeArchive.
func (m *Manager) readArchive(ctx context.Context, key string) ([]byte, error) {
	data, err := m.storage.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.encryptor != nil {
		data, err = m.encryptor.open(data)
		if err != nil {
			return nil, err
		}
	}
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(gr); err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out.Bytes(), nil
}

// EnforceRetention groups backed-up full backups into daily/weekly/
// monthly tiers by age and deletes the oldest within each tier beyond
// its configured count. The most recent full backup is never deleted,
// even when its tier's count is zero.
func (m *Manager) EnforceRetention(ctx context.Context) error {
	records, err := m.records.ListByKind(ctx, models.BackupFull)
	if err != nil {
		return fmt.Errorf("retention: list full backups: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	// Newest first.
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	mostRecent := records[0].ID

	now := time.Now().UTC()
	tiers := map[string][]*models.BackupRecord{"daily": nil, "weekly": nil, "monthly": nil}
	for _, r := range records {
		age := now.Sub(r.Timestamp)
		switch {
		case age <= 7*24*time.Hour:
			tiers["daily"] = append(tiers["daily"], r)
		case age <= 35*24*time.Hour:
			tiers["weekly"] = append(tiers["weekly"], r)
		default:
			tiers["monthly"] = append(tiers["monthly"], r)
		}
	}

	limits := map[string]int{"daily": m.retentionDaily, "weekly": m.retentionWeekly, "monthly": m.retentionMonthly}

	for tier, recs := range tiers {
		limit := limits[tier]
		if len(recs) <= limit {
			continue
		}
		for _, r := range recs[limit:] {
			if r.ID == mostRecent {
				continue
			}
			if err := m.deleteBackup(ctx, r); err != nil {
				m.log.Warn().Err(err).Str("backupId", r.ID).Msg("retention: failed to delete expired backup")
			}
		}
	}
	return nil
}

func (m *Manager) deleteBackup(ctx context.Context, r *models.BackupRecord) error {
	for _, store := range []models.StoreKind{models.StoreDocument, models.StoreTimeSeries, models.StoreKV} {
		if err := m.storage.Delete(ctx, objectKey(store, r.ID)); err != nil {
			m.log.Warn().Err(err).Str("key", objectKey(store, r.ID)).Msg("retention: failed to delete object")
		}
	}
	return m.records.DeleteRecord(ctx, r.ID)
}

// ListBackups returns every persisted backup record, newest first.
func (m *Manager) ListBackups(ctx context.Context) ([]*models.BackupRecord, error) {
	return m.records.ListAllRecords(ctx)
}

// GetBackupRecord retrieves one backup record by ID.
func (m *Manager) GetBackupRecord(ctx context.Context, id string) (*models.BackupRecord, error) {
	return m.records.GetRecord(ctx, id)
}

// ValidateBackup confirms every successful store sub-archive of a
// backup record still decompresses (and decrypts) cleanly and
// unmarshals as valid JSON. It does not restore anything.
func (m *Manager) ValidateBackup(ctx context.Context, backupID string) error {
	record, err := m.records.GetRecord(ctx, backupID)
	if err != nil {
		return fmt.Errorf("validate backup: %w", err)
	}
	if !record.Success {
		return fmt.Errorf("validate backup: %s did not complete successfully", backupID)
	}
	for _, res := range record.Stores {
		if !res.Success {
			continue
		}
		payload, err := m.LoadStorePayload(ctx, res.Store, backupID)
		if err != nil {
			return fmt.Errorf("validate backup: load %s archive: %w", res.Store, err)
		}
		if !json.Valid(payload) {
			return fmt.Errorf("validate backup: %s archive is not valid JSON", res.Store)
		}
	}
	return nil
}

// objectKey implements the storage layout: backups/<store>/<backupId>.
func objectKey(store models.StoreKind, backupID string) string {
	return fmt.Sprintf("backups/%s/%s", store, backupID)
}

// StorageLocatorFor builds the locator embedded in a BackupRecord.
func StorageLocatorFor(backupID string) models.StorageLocator {
	return models.StorageLocator{KeyPrefix: fmt.Sprintf("backups/*/%s", backupID)}
}

// newBackupID produces an ID matching
// (full|incremental)-<iso-timestamp-with-colons-replaced>-<9charnonce>.
func newBackupID(kind models.BackupKind, at time.Time) string {
	ts := strings.ReplaceAll(at.Format(time.RFC3339), ":", "-")
	nonce := make([]byte, 5)
	_, _ = rand.Read(nonce)
	return fmt.Sprintf("%s-%s-%s", kind, ts, hex.EncodeToString(nonce)[:9])
}
