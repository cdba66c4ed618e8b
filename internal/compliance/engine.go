// Package compliance implements Aegis's Compliance Evaluator: it holds
// a set of declarative DRPolicy requirements and checks them against
// the loaded configuration, never against live backup/replication
// runtime state — it evaluates declarative rules over its own
// configuration, not live infrastructure state.
//
// Keeps its predecessor's in-memory policy CRUD
// (`map[string]*models.DRPolicy` behind a `sync.RWMutex`) and its
// pass/fail-with-severity report shape, retargeted from live
// Kubernetes BackupJob state to this system's own configuration.
package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegis-dr/aegis/internal/config"
	"github.com/aegis-dr/aegis/pkg/models"
)

// standardsRequiringEncryption lists the ComplianceStandards this
// evaluator treats as requiring backup archives encrypted at rest.
var standardsRequiringEncryption = map[models.ComplianceStandard]bool{
	models.StandardHIPAA:  true,
	models.StandardPCIDSS: true,
	models.StandardGDPR:   true,
}

// Engine manages DR compliance policies and evaluates them against
// loaded configuration.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	mu       sync.RWMutex
	policies map[string]*models.DRPolicy
}

// NewEngine builds an Engine bound to cfg. Policies are evaluated
// against this snapshot; a changed configuration requires a new Engine
// or a process restart, matching how the rest of Aegis treats loaded
// config as immutable for the process lifetime.
func NewEngine(cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      log,
		policies: make(map[string]*models.DRPolicy),
	}
}

// CreatePolicy registers a new DR policy after validating its shape.
func (e *Engine) CreatePolicy(ctx context.Context, policy models.DRPolicy) (*models.DRPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("compliance: policy name is required")
	}
	if policy.RPOMinutes <= 0 {
		return nil, fmt.Errorf("compliance: rpoMinutes must be positive")
	}
	if policy.RTOMinutes <= 0 {
		return nil, fmt.Errorf("compliance: rtoMinutes must be positive")
	}
	if len(policy.Regions) == 0 {
		return nil, fmt.Errorf("compliance: at least one region is required")
	}
	switch policy.Standard {
	case models.StandardGDPR, models.StandardSOC2, models.StandardISO27001, models.StandardHIPAA, models.StandardPCIDSS:
	default:
		return nil, fmt.Errorf("compliance: unknown standard %q", policy.Standard)
	}

	if policy.ID == "" {
		policy.ID = fmt.Sprintf("policy-%d", time.Now().UTC().UnixNano())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[policy.ID] = &policy

	e.log.Info().Str("policyId", policy.ID).Str("standard", string(policy.Standard)).Msg("compliance policy created")
	return &policy, nil
}

// GetPolicy retrieves a policy by ID.
func (e *Engine) GetPolicy(policyID string) (*models.DRPolicy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[policyID]
	if !ok {
		return nil, fmt.Errorf("compliance: policy %q not found", policyID)
	}
	return p, nil
}

// ListPolicies returns every registered policy.
func (e *Engine) ListPolicies() []*models.DRPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.DRPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// DeletePolicy removes a policy by ID.
func (e *Engine) DeletePolicy(policyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.policies[policyID]; !ok {
		return fmt.Errorf("compliance: policy %q not found", policyID)
	}
	delete(e.policies, policyID)
	return nil
}

// Evaluate checks every enabled policy against the loaded
// configuration and returns the aggregate report.
func (e *Engine) Evaluate(ctx context.Context) *models.ComplianceReport {
	e.mu.RLock()
	defer e.mu.RUnlock()

	report := &models.ComplianceReport{
		GeneratedAt: time.Now().UTC(),
		ByStandard:  make(map[models.ComplianceStandard]int),
	}

	configuredRegions := make(map[string]bool, len(e.cfg.Regions))
	for _, r := range e.cfg.Regions {
		configuredRegions[r.Name] = true
	}

	for _, policy := range e.policies {
		if !policy.Enabled {
			continue
		}
		for _, req := range e.evaluatePolicy(policy, configuredRegions) {
			report.Requirements = append(report.Requirements, req)
			report.TotalChecked++
			if req.Pass {
				report.PassCount++
				report.ByStandard[policy.Standard]++
			}
		}
	}

	report.OverallCompliant = report.TotalChecked == report.PassCount
	return report
}

// evaluatePolicy produces one ComplianceRequirement per declarative
// rule this evaluator knows how to check against configuration.
func (e *Engine) evaluatePolicy(policy *models.DRPolicy, configuredRegions map[string]bool) []models.ComplianceRequirement {
	var reqs []models.ComplianceRequirement

	missing := missingRegions(policy.Regions, configuredRegions)
	reqs = append(reqs, models.ComplianceRequirement{
		Name:     fmt.Sprintf("%s: regions replicated", policy.Name),
		Standard: policy.Standard,
		Severity: policy.Severity,
		Pass:     len(missing) == 0,
		Details:  regionsDetail(policy, missing),
		Recommendations: recommendationsIf(len(missing) > 0,
			fmt.Sprintf("add %v to replication.regions before this policy can be satisfied", missing)),
	})

	systemRPO := e.cfg.DisasterRecovery.Recovery.RPOMinutes
	rpoPass := policy.RPOMinutes >= systemRPO
	reqs = append(reqs, models.ComplianceRequirement{
		Name:     fmt.Sprintf("%s: RPO achievable", policy.Name),
		Standard: policy.Standard,
		Severity: policy.Severity,
		Pass:     rpoPass,
		Details: fmt.Sprintf("policy requires RPO <= %dm; system is configured for %dm",
			policy.RPOMinutes, systemRPO),
		Recommendations: recommendationsIf(!rpoPass,
			fmt.Sprintf("lower disasterRecovery.recovery.rpo below %d minutes or relax the policy", policy.RPOMinutes)),
	})

	systemRTO := e.cfg.DisasterRecovery.Recovery.RTOMinutes
	rtoPass := policy.RTOMinutes >= systemRTO
	reqs = append(reqs, models.ComplianceRequirement{
		Name:     fmt.Sprintf("%s: RTO achievable", policy.Name),
		Standard: policy.Standard,
		Severity: policy.Severity,
		Pass:     rtoPass,
		Details: fmt.Sprintf("policy requires RTO <= %dm; system is configured for %dm",
			policy.RTOMinutes, systemRTO),
		Recommendations: recommendationsIf(!rtoPass,
			fmt.Sprintf("lower disasterRecovery.recovery.rto below %d minutes or relax the policy", policy.RTOMinutes)),
	})

	if standardsRequiringEncryption[policy.Standard] {
		encPass := e.cfg.DisasterRecovery.Backup.Encryption.Enabled
		reqs = append(reqs, models.ComplianceRequirement{
			Name:     fmt.Sprintf("%s: backups encrypted at rest", policy.Name),
			Standard: policy.Standard,
			Severity: "critical",
			Pass:     encPass,
			Details:  fmt.Sprintf("disasterRecovery.backup.encryption.enabled=%v", encPass),
			Recommendations: recommendationsIf(!encPass,
				"enable disasterRecovery.backup.encryption for standards requiring encryption at rest"),
		})
	}

	return reqs
}

func missingRegions(required []string, configured map[string]bool) []string {
	var missing []string
	for _, r := range required {
		if !configured[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

func regionsDetail(policy *models.DRPolicy, missing []string) string {
	if len(missing) == 0 {
		return fmt.Sprintf("all of %v are configured for replication", policy.Regions)
	}
	return fmt.Sprintf("required regions %v are missing from replication.regions: %v", policy.Regions, missing)
}

func recommendationsIf(cond bool, rec string) []string {
	if !cond {
		return nil
	}
	return []string{rec}
}
