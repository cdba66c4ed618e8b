// Package replication implements Aegis's cross-region replicator: one
// long-running sync task per secondary region, each continuously
// copying document/time-series/key-value deltas from the primary and
// recording conflicts when both sides changed the same entity.
//
// Unlike the backup engine's scheduled point-in-time dumps, replication
// is an ongoing pipeline: each region's task is a suture.Service, so a
// crashed sync restarts without taking down the others or the process.
// Region status lives behind a mutex-guarded region-keyed map, and
// every region's task is supervised by a suture tree.
package replication

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/thejerf/suture/v4"

	"github.com/aegis-dr/aegis/internal/errs"
	"github.com/aegis-dr/aegis/internal/events"
	applog "github.com/aegis-dr/aegis/internal/log"
	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/internal/store/document"
	"github.com/aegis-dr/aegis/internal/store/kv"
	"github.com/aegis-dr/aegis/internal/store/timeseries"
	"github.com/aegis-dr/aegis/pkg/models"
)

// RegionStores bundles one region's three store drivers. The primary
// region and every secondary region each get one.
type RegionStores struct {
	Document   document.Store
	TimeSeries timeseries.Store
	KV         kv.Store
}

// Replicator owns one sync task per secondary region and the
// mutex-guarded ReplicationStatus each task reports into.
type Replicator struct {
	primary    RegionStores
	secondary  map[string]RegionStores
	syncEvery  time.Duration
	policy     models.ConflictPolicy
	conflicts  ConflictStore
	bus        *events.Bus
	log        zerolog.Logger

	mu     sync.RWMutex
	status map[string]models.ReplicationStatus

	supervisor *suture.Supervisor
}

// New builds a Replicator. secondary maps each secondary region name
// to its store handles; one sync task is started per entry.
func New(primary RegionStores, secondary map[string]RegionStores, syncEvery time.Duration, policy models.ConflictPolicy, conflicts ConflictStore, bus *events.Bus, log zerolog.Logger) *Replicator {
	r := &Replicator{
		primary:   primary,
		secondary: secondary,
		syncEvery: syncEvery,
		policy:    policy,
		conflicts: conflicts,
		bus:       bus,
		log:       log,
		status:    make(map[string]models.ReplicationStatus, len(secondary)),
		supervisor: suture.New("replication", suture.Spec{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
		}),
	}
	for name, stores := range secondary {
		r.status[name] = models.ReplicationStatus{Region: name, State: models.ReplicationDegraded}
		r.supervisor.Add(&regionSync{
			region:    name,
			primary:   primary,
			target:    stores,
			every:     syncEvery,
			policy:    policy,
			conflicts: conflicts,
			bus:       bus,
			log:       applog.WithRegion(log, name),
			onStatus:  r.setStatus,
			breaker:   newSyncBreaker(name),
		})
	}
	return r
}

// newSyncBreaker builds a circuit breaker around one region's sync
// rounds, tripping once at least three rounds have run and every one
// of them failed, so a
// persistently unreachable secondary stops being hammered every tick
// instead of retrying at full frequency. Uses a smaller trip window
// than a typical polled-API breaker since sync rounds run far less
// frequently.
func newSyncBreaker(region string) *gobreaker.CircuitBreaker[models.ReplicationStatus] {
	return gobreaker.NewCircuitBreaker[models.ReplicationStatus](gobreaker.Settings{
		Name:        "replication-sync-" + region,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && counts.TotalFailures == counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// Serve runs every region's sync task until ctx is canceled. Each
// secondary region's task is independent: one crashing and restarting
// never blocks another.
func (r *Replicator) Serve(ctx context.Context) error {
	return r.supervisor.Serve(ctx)
}

func (r *Replicator) setStatus(s models.ReplicationStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[s.Region] = s
}

// Status returns a point-in-time copy of every secondary region's
// replication status.
func (r *Replicator) Status() map[string]models.ReplicationStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]models.ReplicationStatus, len(r.status))
	for k, v := range r.status {
		out[k] = v
	}
	return out
}

// regionSync is the suture.Service driving one secondary region's
// continuous sync loop.
type regionSync struct {
	region    string
	primary   RegionStores
	target    RegionStores
	every     time.Duration
	policy    models.ConflictPolicy
	conflicts ConflictStore
	bus       *events.Bus
	log       zerolog.Logger
	onStatus  func(models.ReplicationStatus)
	breaker   *gobreaker.CircuitBreaker[models.ReplicationStatus]
}

// Serve implements suture.Service. It loops until ctx is canceled,
// running one sync round every r.every and reporting the result.
func (s *regionSync) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	lastSync := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now().UTC()
			status, err := s.runSyncOnce(ctx, lastSync)
			if err != nil {
				s.log.Warn().Err(err).Bool("transient", errs.IsTransient(err)).Msg("replication sync round failed")
				status.State = models.ReplicationFailed
				status.LastError = err.Error()
				// lastSync intentionally left unchanged: a failed round
				// must not advance the watermark, or a subsequent retry
				// would skip the interval that failed.
			} else {
				lastSync = start
				status.State = models.ReplicationHealthy
				status.LastSync = lastSync
			}
			status.Region = s.region
			status.LagMs = time.Since(start).Milliseconds()
			s.onStatus(status)
			if s.bus != nil {
				if pubErr := s.bus.Publish(events.TopicReplication, status); pubErr != nil {
					s.log.Warn().Err(pubErr).Msg("failed to publish replication status")
				}
			}
			metrics.ReplicationLagSeconds.WithLabelValues(s.region).Set(float64(status.LagMs) / 1000.0)
		}
	}
}

// String satisfies suture's optional Stringer for clearer logs.
func (s *regionSync) String() string {
	return fmt.Sprintf("replication-sync[%s]", s.region)
}

// runSyncOnce drives syncOnce through the region's circuit breaker
// when one is configured, so an open breaker short-circuits the round
// without touching any store. Tests that build a regionSync directly
// leave breaker nil and call syncOnce itself instead.
func (s *regionSync) runSyncOnce(ctx context.Context, since time.Time) (models.ReplicationStatus, error) {
	if s.breaker == nil {
		return s.syncOnce(ctx, since)
	}
	return s.breaker.Execute(func() (models.ReplicationStatus, error) {
		return s.syncOnce(ctx, since)
	})
}

// syncOnce runs one delta sync of all three stores from primary to
// this region's target, detecting and resolving conflicts along the
// way. On error the returned status carries the counters of the stores
// that finished before the failure; lagMs/region are always filled in
// by the caller.
func (s *regionSync) syncOnce(ctx context.Context, since time.Time) (models.ReplicationStatus, error) {
	var status models.ReplicationStatus

	docsSynced, err := s.syncDocuments(ctx, since)
	if err != nil {
		return status, errs.NewTransient("documents", err)
	}
	status.DocumentsSynced = docsSynced

	pointsSynced, err := s.syncTimeSeries(ctx, since)
	if err != nil {
		return status, errs.NewTransient("timeseries", err)
	}
	status.PointsSynced = pointsSynced

	keysSynced, err := s.syncKV(ctx)
	if err != nil {
		return status, errs.NewTransient("kv", err)
	}
	status.KeysSynced = keysSynced

	return status, nil
}

func (s *regionSync) syncDocuments(ctx context.Context, since time.Time) (int64, error) {
	collections, err := s.primary.Document.ListCollections(ctx)
	if err != nil {
		return 0, err
	}

	var synced int64
	for _, collection := range collections {
		sourceDocs, err := s.primary.Document.DumpCollection(ctx, collection, since)
		if err != nil {
			return synced, err
		}
		if len(sourceDocs) == 0 {
			continue
		}

		targetDocs, err := s.target.Document.DumpCollection(ctx, collection, since)
		if err != nil {
			return synced, err
		}
		targetByID := make(map[string]document.Document, len(targetDocs))
		for _, d := range targetDocs {
			targetByID[d.ID] = d
		}

		toApply := make([]document.Document, 0, len(sourceDocs))
		for _, src := range sourceDocs {
			if tgt, present := targetByID[src.ID]; present && documentsDiffer(src, tgt) {
				resolved, err := s.resolveConflict(ctx, models.StoreDocument, collection, src, tgt)
				if err != nil {
					return synced, err
				}
				toApply = append(toApply, resolved)
				continue
			}
			toApply = append(toApply, src)
		}

		if err := s.target.Document.Restore(ctx, toApply); err != nil {
			return synced, err
		}
		synced += int64(len(toApply))
	}
	return synced, nil
}

// documentsDiffer reports whether source and target have each been
// independently modified: the primary signal is a timestamp
// comparison, and when timestamps are absent or equal a structural
// comparison of the payload is the
// tie-breaker. Either side being ahead of the other, not just the
// target being newer, makes this a conflict to resolve.
func documentsDiffer(source, target document.Document) bool {
	if !source.UpdatedAt.IsZero() && !target.UpdatedAt.IsZero() {
		if !source.UpdatedAt.Equal(target.UpdatedAt) {
			return true
		}
	}
	return !reflect.DeepEqual(source.Raw, target.Raw)
}

func (s *regionSync) syncTimeSeries(ctx context.Context, since time.Time) (int64, error) {
	points, err := s.primary.TimeSeries.DumpRange(ctx, since, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := s.target.TimeSeries.Restore(ctx, points); err != nil {
		return 0, err
	}
	return int64(len(points)), nil
}

func (s *regionSync) syncKV(ctx context.Context) (int64, error) {
	entries, err := s.primary.KV.DumpAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := s.target.KV.Restore(ctx, entries); err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}
