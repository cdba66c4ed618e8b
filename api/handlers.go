// Package api implements Aegis's minimal HTTP control surface: a
// liveness probe, a read-only mirror of DisasterRecoveryStatus, and
// the Prometheus scrape endpoint. Everything else — triggering a
// backup, initiating a failover, generating a recovery plan — goes
// through the cobra CLI: the HTTP surface is read-only and must never
// have side effects.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegis-dr/aegis/internal/drstate"
	"github.com/aegis-dr/aegis/internal/metrics"
)

// Handler serves the three interface-visible endpoints this process
// exposes: GET /healthz, GET /status, GET /metrics.
type Handler struct {
	state     *drstate.Store
	startTime time.Time
}

// NewHandler builds a Handler reading from state. state is never
// mutated by any handler here.
func NewHandler(state *drstate.Store) *Handler {
	return &Handler{state: state, startTime: time.Now().UTC()}
}

// RegisterRoutes mounts the control surface on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/status", h.Status)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// Healthz reports process liveness only; it never inspects
// DisasterRecoveryStatus or any store.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Status returns a read-only snapshot of DisasterRecoveryStatus: the
// active region, per-region replication state, and recent failover
// history. It triggers nothing.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.state.Snapshot())
}
