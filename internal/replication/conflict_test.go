package replication

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/pkg/models"
)

func TestWinningSideLastWriteWinsPrefersNewerUpdatedAt(t *testing.T) {
	now := time.Now()
	source := document.Document{ID: "a", UpdatedAt: now.Add(10 * time.Second)}
	target := document.Document{ID: "a", UpdatedAt: now}

	if !winningSide(models.PolicyLastWriteWins, source, target) {
		t.Error("expected source to win when its updatedAt is later")
	}
	if winningSide(models.PolicyLastWriteWins, target, source) {
		t.Error("expected target to win when source's updatedAt is earlier, i.e. source loses")
	}
}

func TestWinningSideTiesGoToSource(t *testing.T) {
	now := time.Now()
	source := document.Document{ID: "a", UpdatedAt: now}
	target := document.Document{ID: "a", UpdatedAt: now}

	if !winningSide(models.PolicyLastWriteWins, source, target) {
		t.Error("expected source to win on an exact timestamp tie")
	}
}

func TestResolveTimestampWalksFieldHierarchy(t *testing.T) {
	createdAt := time.Now().Add(-time.Hour)
	d := document.Document{
		Raw: bson.M{"createdAt": createdAt},
	}

	got := resolveTimestamp(models.PolicyTimestampBased, d)
	if !got.Equal(createdAt) {
		t.Errorf("expected createdAt fallback %v, got %v", createdAt, got)
	}
}

func TestResolveTimestampPrefersUpdatedAtOverCreatedAt(t *testing.T) {
	updatedAt := time.Now()
	createdAt := updatedAt.Add(-time.Hour)
	d := document.Document{
		UpdatedAt: updatedAt,
		Raw:       bson.M{"createdAt": createdAt},
	}

	got := resolveTimestamp(models.PolicyTimestampBased, d)
	if !got.Equal(updatedAt) {
		t.Errorf("expected updatedAt to take priority, got %v", got)
	}
}
