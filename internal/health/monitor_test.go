package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/pkg/models"
)

func alwaysPass(name, region string) Probe {
	return Probe{Name: name, Region: region, Kind: ProbeDatabase, Check: func(ctx context.Context) (models.HealthState, string) {
		return models.HealthPass, "ok"
	}}
}

func alwaysFail(name, region string) Probe {
	return Probe{Name: name, Region: region, Kind: ProbeDatabase, Check: func(ctx context.Context) (models.HealthState, string) {
		return models.HealthFail, "down"
	}}
}

func TestRunOnceSingleFailureReportsWarn(t *testing.T) {
	m := NewMonitor([]Probe{alwaysFail("db", "east")}, time.Minute, nil, zerolog.Nop())

	status := m.RunOnce(context.Background())
	if status.Healthy {
		t.Error("expected status unhealthy after first failure")
	}
	if status.Checks[0].Status != models.HealthWarn {
		t.Errorf("expected warn on first failure, got %s", status.Checks[0].Status)
	}
	if !m.RegionHealthy("east") {
		t.Error("a single warn must not flip the region to unhealthy")
	}
}

func TestRunOnceTwoConsecutiveFailuresMarksRegionUnhealthy(t *testing.T) {
	m := NewMonitor([]Probe{alwaysFail("db", "east")}, time.Minute, nil, zerolog.Nop())

	m.RunOnce(context.Background())
	status := m.RunOnce(context.Background())

	if status.Checks[0].Status != models.HealthFail {
		t.Errorf("expected fail on second consecutive failure, got %s", status.Checks[0].Status)
	}
	if m.RegionHealthy("east") {
		t.Error("expected region unhealthy after two consecutive failures")
	}
}

func TestRunOnceSuccessResetsConsecutiveFailures(t *testing.T) {
	failing := true
	p := Probe{Name: "db", Region: "east", Check: func(ctx context.Context) (models.HealthState, string) {
		if failing {
			return models.HealthFail, "down"
		}
		return models.HealthPass, "ok"
	}}
	m := NewMonitor([]Probe{p}, time.Minute, nil, zerolog.Nop())

	m.RunOnce(context.Background())
	failing = false
	m.RunOnce(context.Background())

	if !m.RegionHealthy("east") {
		t.Error("expected a success round to clear the failure streak")
	}
}

func TestPingProbeWrapsStoreError(t *testing.T) {
	p := NewPingProbe("mongo", "east", ProbeDatabase, time.Second, func(ctx context.Context) error {
		return errors.New("connection refused")
	})
	check := p.run(context.Background())
	if check.Status != models.HealthFail {
		t.Errorf("expected fail status, got %s", check.Status)
	}
}
