package compliance

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/config"
	"github.com/aegis-dr/aegis/pkg/models"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Regions: []models.Region{
			{Name: "east", Primary: true},
			{Name: "west"},
		},
	}
	cfg.DisasterRecovery.Recovery.RPOMinutes = 15
	cfg.DisasterRecovery.Recovery.RTOMinutes = 60
	cfg.DisasterRecovery.Backup.Encryption.Enabled = false
	return cfg
}

func TestEvaluatePassesWhenPolicyIsNoStricterThanConfiguration(t *testing.T) {
	e := NewEngine(testConfig(), zerolog.Nop())
	_, err := e.CreatePolicy(context.Background(), models.DRPolicy{
		Name: "standard-soc2", Standard: models.StandardSOC2,
		RPOMinutes: 30, RTOMinutes: 120, Regions: []string{"east", "west"}, Enabled: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := e.Evaluate(context.Background())
	if !report.OverallCompliant {
		t.Errorf("expected overall compliant, got report: %+v", report)
	}
}

func TestEvaluateFailsOnMissingRegion(t *testing.T) {
	e := NewEngine(testConfig(), zerolog.Nop())
	e.CreatePolicy(context.Background(), models.DRPolicy{
		Name: "needs-north", Standard: models.StandardSOC2,
		RPOMinutes: 30, RTOMinutes: 120, Regions: []string{"east", "north"}, Enabled: true,
	})

	report := e.Evaluate(context.Background())
	if report.OverallCompliant {
		t.Error("expected non-compliant due to missing region")
	}
}

func TestEvaluateRequiresEncryptionForHIPAA(t *testing.T) {
	e := NewEngine(testConfig(), zerolog.Nop())
	e.CreatePolicy(context.Background(), models.DRPolicy{
		Name: "hipaa-policy", Standard: models.StandardHIPAA,
		RPOMinutes: 30, RTOMinutes: 120, Regions: []string{"east"}, Enabled: true,
	})

	report := e.Evaluate(context.Background())
	found := false
	for _, req := range report.Requirements {
		if strings.Contains(req.Name, "encrypted") {
			found = true
			if req.Pass {
				t.Error("expected encryption requirement to fail when encryption is disabled")
			}
		}
	}
	if !found {
		t.Fatal("expected an encryption requirement for a HIPAA policy")
	}
}

func TestRenderMarkdownIncludesOverallStatus(t *testing.T) {
	e := NewEngine(testConfig(), zerolog.Nop())
	e.CreatePolicy(context.Background(), models.DRPolicy{
		Name: "soc2", Standard: models.StandardSOC2,
		RPOMinutes: 30, RTOMinutes: 120, Regions: []string{"east"}, Enabled: true,
	})
	report := e.Evaluate(context.Background())

	md := RenderMarkdown(report)
	if !strings.Contains(md, "Overall compliant") {
		t.Error("expected rendered report to include overall compliance line")
	}
	if !strings.Contains(md, "soc2") {
		t.Error("expected rendered report to include the policy name")
	}
}
