package replication

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/pkg/models"
)

// resolveConflict decides the winning payload between a changed source
// and target document per the configured policy, records the
// ConflictRecord, and returns the document to write to the target.
// Manual policy leaves the target's content as it was: resolveConflict
// returns the target's own current value unchanged, and the caller
// writes that value back.
func (s *regionSync) resolveConflict(ctx context.Context, store models.StoreKind, container string, source, target document.Document) (document.Document, error) {
	metrics.ConflictsDetectedTotal.WithLabelValues(string(store)).Inc()

	sourcePayload, err := json.Marshal(source.Raw)
	if err != nil {
		return target, err
	}
	targetPayload, err := json.Marshal(target.Raw)
	if err != nil {
		return target, err
	}

	record := &models.ConflictRecord{
		ID:            newConflictID(),
		DetectedAt:    time.Now().UTC(),
		Store:         store,
		Container:     container,
		EntityID:      source.ID,
		SourceRegion:  "primary",
		TargetRegion:  s.region,
		Kind:          models.ConflictUpdate,
		SourcePayload: sourcePayload,
		TargetPayload: targetPayload,
		Resolution:    models.ConflictPending,
	}

	if s.policy == models.PolicyManual {
		record.Resolution = models.ConflictPending
		if err := s.conflicts.SaveConflict(ctx, record); err != nil {
			return target, err
		}
		if s.bus != nil {
			_ = s.bus.Publish(events.TopicConflict, record)
		}
		return target, nil
	}

	sourceWins := winningSide(s.policy, source, target)
	if sourceWins {
		record.ResolvedWith = "source"
	} else {
		record.ResolvedWith = "target"
	}
	record.Resolution = models.ConflictResolved

	if err := s.conflicts.SaveConflict(ctx, record); err != nil {
		return target, err
	}
	if s.bus != nil {
		_ = s.bus.Publish(events.TopicConflict, record)
	}

	if sourceWins {
		return source, nil
	}
	return target, nil
}

// winningSide implements the two automatic resolution policies:
// last-write-wins compares updatedAt directly with source winning
// ties; timestamp-based walks a field hierarchy before falling back to
// the same tie-break.
func winningSide(policy models.ConflictPolicy, source, target document.Document) bool {
	sourceTime := resolveTimestamp(policy, source)
	targetTime := resolveTimestamp(policy, target)

	if sourceTime.After(targetTime) {
		return true
	}
	if targetTime.After(sourceTime) {
		return false
	}
	return true // equality: source wins, keeping resolution deterministic
}

func resolveTimestamp(policy models.ConflictPolicy, d document.Document) time.Time {
	if policy != models.PolicyTimestampBased {
		return d.UpdatedAt
	}
	if !d.UpdatedAt.IsZero() {
		return d.UpdatedAt
	}
	for _, field := range []string{"createdAt", "timestamp"} {
		switch v := d.Raw[field].(type) {
		case time.Time:
			return v
		case bson.DateTime:
			return v.Time()
		}
	}
	return time.Time{}
}

func newConflictID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "conflict-" + hex.EncodeToString(b)
}
