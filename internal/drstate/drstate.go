// Package drstate owns the single process-wide DisasterRecoveryStatus
// value: mutated only by the Failover Orchestrator, read by everyone
// else as an immutable snapshot.
package drstate

import (
	"sync"
	"time"

	"github.com/aegis-dr/aegis/pkg/models"
)

// Store holds the live DisasterRecoveryStatus behind a RWMutex. The
// zero value is not usable; construct with New.
type Store struct {
	mu     sync.RWMutex
	status models.DisasterRecoveryStatus
}

// New seeds a Store with the configured primary region as the
// initially active one.
func New(primaryRegion string) *Store {
	return &Store{
		status: models.DisasterRecoveryStatus{
			Primary:      primaryRegion,
			ActiveRegion: primaryRegion,
			Replication:  make(map[string]models.ReplicationStatus),
			Healthy:      true,
		},
	}
}

// Snapshot returns a deep-enough copy of the current status for
// read-only use; mutating it has no effect on the Store.
func (s *Store) Snapshot() models.DisasterRecoveryStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.status
	cp.Replication = make(map[string]models.ReplicationStatus, len(s.status.Replication))
	for k, v := range s.status.Replication {
		cp.Replication[k] = v
	}
	cp.RecentFailovers = append([]models.FailoverEvent(nil), s.status.RecentFailovers...)
	return cp
}

// SetActiveRegion is called by the Orchestrator once a failover
// commits (after verification).
func (s *Store) SetActiveRegion(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ActiveRegion = region
}

// SetPrimary records region as the new primary. Called by the
// Orchestrator alongside SetActiveRegion once a failover commits, so
// Primary and ActiveRegion converge on the same region after a
// successful failover.
func (s *Store) SetPrimary(region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Primary = region
}

// RecordFailover appends ev to the recent-failovers log, keeping at
// most the last 100 entries, and is the Orchestrator's only path for
// mutating that field.
func (s *Store) RecordFailover(ev models.FailoverEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.RecentFailovers = append(s.status.RecentFailovers, ev)
	if len(s.status.RecentFailovers) > 100 {
		s.status.RecentFailovers = s.status.RecentFailovers[len(s.status.RecentFailovers)-100:]
	}
}

// SetReplicationStatus updates one region's entry in the replication
// map. No component calls it: the Replicator keeps its own per-region
// status, so the map in a snapshot stays empty.
func (s *Store) SetReplicationStatus(region string, rs models.ReplicationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Replication[region] = rs
}

// SetHealth updates the overall healthy flag and the last-checked
// timestamp. No component calls it: the Health Monitor keeps its own
// status, so Healthy stays true and LastHealthCheck stays zero.
func (s *Store) SetHealth(healthy bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Healthy = healthy
	s.status.LastHealthCheck = at
}
