package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-dr/aegis/pkg/models"
)

// scannable is satisfied by both pgx.Row and pgx.Rows. Duplicated from
// internal/backup's identical interface: the two packages share no
// common dependency to hang one definition on.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore implements Store using PostgreSQL via pgxpool, following
// internal/backup's PgStore pattern: duration stored as milliseconds,
// plain columns since FailoverEvent carries no variable-shape fields.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL-backed failover-event store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const eventCols = `id, timestamp, from_region, to_region, reason, duration_ms, success, rolled_back`

// SaveEvent inserts or updates a failover event, keyed by ID so a
// rollback that happens after the initial commit record was written
// can flip rolled_back without a second row.
func (s *PgStore) SaveEvent(ctx context.Context, ev *models.FailoverEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO failover_events (`+eventCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			success=$7, rolled_back=$8`,
		ev.ID, ev.Timestamp, ev.FromRegion, ev.ToRegion, ev.Reason,
		ev.Duration.Milliseconds(), ev.Success, ev.RolledBack)
	if err != nil {
		return fmt.Errorf("pgstore: save failover event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent failover events, newest first,
// capped at limit.
func (s *PgStore) ListEvents(ctx context.Context, limit int) ([]*models.FailoverEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventCols+` FROM failover_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list failover events: %w", err)
	}
	defer rows.Close()

	var events []*models.FailoverEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(s scannable) (*models.FailoverEvent, error) {
	var ev models.FailoverEvent
	var durationMs int64
	if err := s.Scan(&ev.ID, &ev.Timestamp, &ev.FromRegion, &ev.ToRegion, &ev.Reason,
		&durationMs, &ev.Success, &ev.RolledBack); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("pgstore: failover event not found")
		}
		return nil, fmt.Errorf("pgstore: scan failover event: %w", err)
	}
	ev.Duration = time.Duration(durationMs) * time.Millisecond
	return &ev, nil
}
