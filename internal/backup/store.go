package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-dr/aegis/pkg/models"
)

func durationMsToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// BackupStore persists BackupRecords to the control-plane metadata
// store. Implementations must be safe for concurrent use.
type BackupStore interface {
	SaveRecord(ctx context.Context, r *models.BackupRecord) error
	GetRecord(ctx context.Context, id string) (*models.BackupRecord, error)
	ListAllRecords(ctx context.Context) ([]*models.BackupRecord, error)
	ListByKind(ctx context.Context, kind models.BackupKind) ([]*models.BackupRecord, error)
	LatestBackupID(ctx context.Context, kind models.BackupKind) (string, error)
	DeleteRecord(ctx context.Context, id string) error
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore implements BackupStore using PostgreSQL via pgxpool. Stores,
// errors, and the locator are marshaled to JSON since they carry
// variable shape per backup (BackupRecord has no fixed sub-result
// count).
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL-backed backup store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const recordCols = `id, kind, timestamp, stores, size_bytes, duration_ms,
	success, errors, locator, since_backup_id`

// SaveRecord inserts or updates a backup record.
func (s *PgStore) SaveRecord(ctx context.Context, r *models.BackupRecord) error {
	stores, err := json.Marshal(r.Stores)
	if err != nil {
		return fmt.Errorf("pgstore: marshal stores: %w", err)
	}
	errs, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("pgstore: marshal errors: %w", err)
	}
	locator, err := json.Marshal(r.Locator)
	if err != nil {
		return fmt.Errorf("pgstore: marshal locator: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backup_records (`+recordCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			stores=$4, size_bytes=$5, duration_ms=$6, success=$7, errors=$8`,
		r.ID, string(r.Kind), r.Timestamp, stores, r.SizeBytes,
		r.Duration.Milliseconds(), r.Success, errs, locator, r.SinceBackupID)
	if err != nil {
		return fmt.Errorf("pgstore: save record: %w", err)
	}
	return nil
}

// GetRecord retrieves a backup record by ID.
func (s *PgStore) GetRecord(ctx context.Context, id string) (*models.BackupRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordCols+` FROM backup_records WHERE id = $1`, id)
	return scanRecord(row)
}

// ListAllRecords returns all backup records across all stores, newest first.
func (s *PgStore) ListAllRecords(ctx context.Context) ([]*models.BackupRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordCols+` FROM backup_records ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list all records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByKind returns all backup records of the given kind, newest first.
func (s *PgStore) ListByKind(ctx context.Context, kind models.BackupKind) ([]*models.BackupRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordCols+` FROM backup_records WHERE kind = $1 ORDER BY timestamp DESC`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("pgstore: list records by kind: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestBackupID returns the ID of the most recent successful record of
// the given kind, used to stamp an incremental's SinceBackupID.
func (s *PgStore) LatestBackupID(ctx context.Context, kind models.BackupKind) (string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id FROM backup_records WHERE kind = $1 AND success = true ORDER BY timestamp DESC LIMIT 1`,
		string(kind))
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("pgstore: no successful %s backup found", kind)
		}
		return "", fmt.Errorf("pgstore: latest backup id: %w", err)
	}
	return id, nil
}

// DeleteRecord removes a backup record by ID.
func (s *PgStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backup_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete record: %w", err)
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]*models.BackupRecord, error) {
	var records []*models.BackupRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(s scannable) (*models.BackupRecord, error) {
	var r models.BackupRecord
	var kind string
	var durationMs int64
	var stores, errs, locator []byte

	err := s.Scan(&r.ID, &kind, &r.Timestamp, &stores, &r.SizeBytes,
		&durationMs, &r.Success, &errs, &locator, &r.SinceBackupID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("pgstore: record not found")
		}
		return nil, fmt.Errorf("pgstore: scan record: %w", err)
	}

	r.Kind = models.BackupKind(kind)
	r.Duration = durationMsToDuration(durationMs)
	if err := json.Unmarshal(stores, &r.Stores); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal stores: %w", err)
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &r.Errors); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal errors: %w", err)
		}
	}
	if len(locator) > 0 {
		if err := json.Unmarshal(locator, &r.Locator); err != nil {
			return nil, fmt.Errorf("pgstore: unmarshal locator: %w", err)
		}
	}
	return &r, nil
}
