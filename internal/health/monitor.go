package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/events"
	"github.com/aegis-dr/aegis/internal/metrics"
	"github.com/aegis-dr/aegis/pkg/models"
)

// regionState tracks the consecutive-failure counter: a probe must
// fail two successive rounds before the region it speaks for
// transitions to unhealthy; a single miss is warn.
type regionState struct {
	consecutiveFailures int
	state               models.HealthState
}

// Monitor runs a fixed probe set on a fixed interval and maintains the
// two-consecutive-failure rule per probe. It keeps its own last status
// rather than writing into DisasterRecoveryStatus; callers read
// Status()/RegionHealthy() instead of holding their own copy.
type Monitor struct {
	probes   []Probe
	interval time.Duration
	bus      *events.Bus
	log      zerolog.Logger

	mu      sync.RWMutex
	states  map[string]*regionState // key: probe name
	regions map[string]models.HealthState
	last    models.HealthStatus
}

// NewMonitor builds a Monitor over the given probe set.
func NewMonitor(probes []Probe, interval time.Duration, bus *events.Bus, log zerolog.Logger) *Monitor {
	return &Monitor{
		probes:   probes,
		interval: interval,
		bus:      bus,
		log:      log,
		states:   make(map[string]*regionState, len(probes)),
		regions:  make(map[string]models.HealthState),
	}
}

// Serve runs probe rounds on m.interval until ctx is canceled.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce executes every probe concurrently, applies the
// consecutive-failure rule, and publishes the resulting aggregate
// HealthStatus. It never returns an error: a probe that cannot run is
// itself recorded as a failed check.
func (m *Monitor) RunOnce(ctx context.Context) models.HealthStatus {
	checks := make([]models.HealthCheck, len(m.probes))

	var wg sync.WaitGroup
	for i, p := range m.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				checks[i] = models.HealthCheck{Name: p.Name, Status: models.HealthFail, Message: "canceled", Timestamp: time.Now().UTC()}
			default:
				checks[i] = p.run(ctx)
			}
		}(i, p)
	}
	wg.Wait()

	m.mu.Lock()
	overallHealthy := true
	m.regions = make(map[string]models.HealthState, len(m.regions))
	for i, check := range checks {
		region := m.probes[i].Region
		st, ok := m.states[check.Name]
		if !ok {
			st = &regionState{state: models.HealthPass}
			m.states[check.Name] = st
		}

		if check.Status == models.HealthFail || check.Status == models.HealthWarn {
			st.consecutiveFailures++
			if st.consecutiveFailures >= 2 {
				st.state = models.HealthFail
				checks[i].Status = models.HealthFail
			} else {
				st.state = models.HealthWarn
				checks[i].Status = models.HealthWarn
			}
			metrics.HealthCheckFailuresTotal.WithLabelValues(region).Inc()
		} else {
			st.consecutiveFailures = 0
			st.state = models.HealthPass
		}

		if st.state != models.HealthPass {
			overallHealthy = false
		}
		m.regions[region] = worstOf(m.regions[region], st.state)
	}

	status := models.HealthStatus{
		Healthy:   overallHealthy,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	}
	m.last = status
	m.mu.Unlock()

	if m.bus != nil {
		if err := m.bus.Publish(events.TopicHealthChange, status); err != nil {
			m.log.Warn().Err(err).Msg("failed to publish health status")
		}
	}
	return status
}

// worstOf returns whichever of a, b is the more severe HealthState,
// treating the zero value as pass.
func worstOf(a, b models.HealthState) models.HealthState {
	rank := map[models.HealthState]int{models.HealthPass: 0, "": 0, models.HealthWarn: 1, models.HealthFail: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Status returns the most recently computed aggregate HealthStatus.
func (m *Monitor) Status() models.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// RegionHealthy reports whether region currently has no probe stuck
// at two-consecutive-failures. Unknown regions (no probe registered
// yet) are reported healthy.
func (m *Monitor) RegionHealthy(region string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.regions[region]
	return !ok || state != models.HealthFail
}
