package replication

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-dr/aegis/pkg/models"
)

// ConflictStore persists ConflictRecords to the control-plane metadata
// store. Records are append-only until resolved: SaveConflict both
// inserts new records and updates the Resolution/ResolvedWith of an
// existing one, since a manual-policy conflict is recorded pending and
// later resolved in place by the CLI's resolve-conflict command.
type ConflictStore interface {
	SaveConflict(ctx context.Context, c *models.ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error)
	ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error)
	ListPending(ctx context.Context) ([]*models.ConflictRecord, error)
	ResolveConflict(ctx context.Context, id string, resolvedWith string) error
}

// PgStore implements ConflictStore using PostgreSQL via pgxpool.
// Source/target payloads are stored as raw JSON bytes since their
// shape depends on the store kind the conflict came from.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL-backed conflict store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const conflictCols = `id, detected_at, store, container, entity_id, source_region,
	target_region, kind, source_payload, target_payload, resolution, resolved_with`

// SaveConflict inserts a new conflict record or updates an existing
// one's resolution state.
func (s *PgStore) SaveConflict(ctx context.Context, c *models.ConflictRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conflict_records (`+conflictCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			resolution=$11, resolved_with=$12`,
		c.ID, c.DetectedAt, string(c.Store), c.Container, c.EntityID, c.SourceRegion,
		c.TargetRegion, string(c.Kind), c.SourcePayload, c.TargetPayload,
		string(c.Resolution), c.ResolvedWith)
	if err != nil {
		return fmt.Errorf("pgstore: save conflict: %w", err)
	}
	return nil
}

// GetConflict retrieves a conflict record by ID.
func (s *PgStore) GetConflict(ctx context.Context, id string) (*models.ConflictRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conflictCols+` FROM conflict_records WHERE id = $1`, id)
	return scanConflict(row)
}

// ListConflicts returns every conflict record, newest first.
func (s *PgStore) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+conflictCols+` FROM conflict_records ORDER BY detected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list conflicts: %w", err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ListPending returns conflicts awaiting manual resolution.
func (s *PgStore) ListPending(ctx context.Context) ([]*models.ConflictRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conflictCols+` FROM conflict_records WHERE resolution = $1 ORDER BY detected_at ASC`,
		string(models.ConflictPending))
	if err != nil {
		return nil, fmt.Errorf("pgstore: list pending conflicts: %w", err)
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// ResolveConflict marks a pending conflict resolved with the given
// winning side ("source", "target", or a literal payload tag supplied
// by the operator).
func (s *PgStore) ResolveConflict(ctx context.Context, id string, resolvedWith string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conflict_records SET resolution = $1, resolved_with = $2 WHERE id = $3`,
		string(models.ConflictResolved), resolvedWith, id)
	if err != nil {
		return fmt.Errorf("pgstore: resolve conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: conflict %s not found", id)
	}
	return nil
}

func scanConflicts(rows pgx.Rows) ([]*models.ConflictRecord, error) {
	var out []*models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConflict(s scannable) (*models.ConflictRecord, error) {
	var c models.ConflictRecord
	var store, kind, resolution string

	err := s.Scan(&c.ID, &c.DetectedAt, &store, &c.Container, &c.EntityID, &c.SourceRegion,
		&c.TargetRegion, &kind, &c.SourcePayload, &c.TargetPayload, &resolution, &c.ResolvedWith)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("pgstore: conflict not found")
		}
		return nil, fmt.Errorf("pgstore: scan conflict: %w", err)
	}

	c.Store = models.StoreKind(store)
	c.Kind = models.ConflictKind(kind)
	c.Resolution = models.ConflictResolutionState(resolution)
	return &c, nil
}

// scannable is satisfied by both pgx.Row and pgx.Rows. Mirrors
// internal/backup's own scannable — kept package-local since the two
// packages have no shared dependency to hang a common definition on.
type scannable interface {
	Scan(dest ...any) error
}
