// Package health implements Aegis's health monitor: periodic probes
// against each region's stores and replication pipeline, aggregated
// into the HealthCheck/HealthStatus envelope the rest of the system
// consumes.
//
// Built around a small Probe interface (Checker-style run method,
// Result envelope, consecutive-failure tracking) driven by a
// ticker-based monitor loop, generalized from simulated
// infrastructure-resource checks to direct store connectivity pings.
package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/aegis-dr/aegis/pkg/models"
)

// ProbeKind identifies which capability category a Probe belongs to.
// Purely descriptive — Probe.Check decides pass/warn/fail.
type ProbeKind string

const (
	ProbeService  ProbeKind = "service"  // HTTP reachability with an expected status
	ProbeDatabase ProbeKind = "database" // document/time-series store ping
	ProbeCache    ProbeKind = "cache"    // key-value store ping
	ProbeResource ProbeKind = "resource" // local resource utilization
)

// Probe is one named, timed health check. Region is the region the
// probe speaks for, used to label metrics and to let the Failover
// Orchestrator ask "is region X healthy".
type Probe struct {
	Name    string
	Region  string
	Kind    ProbeKind
	Timeout time.Duration
	Check   func(ctx context.Context) (models.HealthState, string)
}

// run executes the probe with its timeout applied and wraps the
// result in the HealthCheck envelope every probe kind must preserve.
func (p Probe) run(ctx context.Context) models.HealthCheck {
	start := time.Now().UTC()
	checkCtx := ctx
	var cancel context.CancelFunc
	if p.Timeout > 0 {
		checkCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	state, message := p.Check(checkCtx)
	return models.HealthCheck{
		Name:      p.Name,
		Status:    state,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: start,
	}
}

// NewHTTPProbe builds a service-reachability probe: a GET to url is
// healthy when the response status falls in [200,399].
func NewHTTPProbe(name, region, url string, timeout time.Duration, client *http.Client) Probe {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return Probe{
		Name:    name,
		Region:  region,
		Kind:    ProbeService,
		Timeout: timeout,
		Check: func(ctx context.Context) (models.HealthState, string) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return models.HealthFail, fmt.Sprintf("failed to build request: %v", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return models.HealthFail, fmt.Sprintf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode <= 399 {
				return models.HealthPass, fmt.Sprintf("HTTP %d", resp.StatusCode)
			}
			return models.HealthFail, fmt.Sprintf("HTTP %d (expected 200-399)", resp.StatusCode)
		},
	}
}

// NewPingProbe wraps any store driver's Ping(ctx) error method — the
// document, time-series, and key-value drivers all expose one — as a
// database or cache probe.
func NewPingProbe(name, region string, kind ProbeKind, timeout time.Duration, ping func(ctx context.Context) error) Probe {
	return Probe{
		Name:    name,
		Region:  region,
		Kind:    kind,
		Timeout: timeout,
		Check: func(ctx context.Context) (models.HealthState, string) {
			if err := ping(ctx); err != nil {
				return models.HealthFail, fmt.Sprintf("ping failed: %v", err)
			}
			return models.HealthPass, "ping ok"
		},
	}
}

// NewResourceProbe reports warn when the process's live goroutine
// count exceeds maxGoroutines, a coarse stand-in for a local resource
// utilization check when no CPU/memory sampler is wired up; it is the
// simplest signal the standard library can give cheaply on every
// round.
func NewResourceProbe(name, region string, maxGoroutines int) Probe {
	return Probe{
		Name:   name,
		Region: region,
		Kind:   ProbeResource,
		Check: func(ctx context.Context) (models.HealthState, string) {
			n := runtime.NumGoroutine()
			if n > maxGoroutines {
				return models.HealthWarn, fmt.Sprintf("%d goroutines (warn above %d)", n, maxGoroutines)
			}
			return models.HealthPass, fmt.Sprintf("%d goroutines", n)
		},
	}
}
