package failover

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingRouter is the default RoutingCollaborator. Aegis has no DNS or
// load-balancer API of its own to bind to, so it simulates the
// drain/reroute calls the way the backup engine's original Kubernetes
// client simulated cluster operations it had no real backend for:
// logged, instantaneous, and always successful.
type LoggingRouter struct {
	log zerolog.Logger
}

// NewLoggingRouter builds a LoggingRouter.
func NewLoggingRouter(log zerolog.Logger) *LoggingRouter {
	return &LoggingRouter{log: log}
}

// Drain logs that region has stopped accepting new traffic.
func (r *LoggingRouter) Drain(ctx context.Context, region string) error {
	r.log.Info().Str("region", region).Msg("routing: drained")
	return nil
}

// Reroute logs that traffic now targets region.
func (r *LoggingRouter) Reroute(ctx context.Context, region string) error {
	r.log.Info().Str("region", region).Msg("routing: rerouted")
	return nil
}

// LoggingPromoter is the default Promoter, simulating read-replica
// promotion/demotion for the same reason LoggingRouter simulates
// traffic cutover: no real replica-topology API exists in this stack
// to call.
type LoggingPromoter struct {
	log zerolog.Logger
}

// NewLoggingPromoter builds a LoggingPromoter.
func NewLoggingPromoter(log zerolog.Logger) *LoggingPromoter {
	return &LoggingPromoter{log: log}
}

// Promote logs that region is now writable.
func (p *LoggingPromoter) Promote(ctx context.Context, region string) error {
	p.log.Info().Str("region", region).Msg("promotion: region promoted to writable")
	return nil
}

// Demote logs that region has reverted to a read replica.
func (p *LoggingPromoter) Demote(ctx context.Context, region string) error {
	p.log.Info().Str("region", region).Msg("promotion: region demoted to read replica")
	return nil
}
