package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readinessTimeout = 2 * time.Second

type metricsExporter interface {
	Handler() http.Handler
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// ProbeHandler serves liveness, readiness and the Prometheus scrape endpoint.
type ProbeHandler struct {
	metrics    metricsExporter
	dependents map[string]Pinger
}

// NewProbeHandler builds the probe handler. Each named dependency is pinged on /ready.
func NewProbeHandler(metrics metricsExporter, dependents map[string]Pinger) *ProbeHandler {
	return &ProbeHandler{metrics: metrics, dependents: dependents}
}

// Prometheus serves the collector registry.
func (h *ProbeHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports that the process is alive.
func (h *ProbeHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings every dependency and lists the ones that failed.
func (h *ProbeHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	failing := make([]string, 0)
	for name, dep := range h.dependents {
		if dep == nil {
			continue
		}
		if err := dep.PingContext(ctx); err != nil {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": failing})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
