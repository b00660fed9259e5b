package handler

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
	"github.com/SyedDaiam9101/fundus-service/internal/metrics"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	classifier *classifier.Classifier
	serving    atomic.Bool
}

// NewHealthHandler creates a health handler that starts out serving.
func NewHealthHandler(c *classifier.Classifier) *HealthHandler {
	h := &HealthHandler{classifier: c}
	h.SetServing(true)
	return h
}

// SetServing flips both probes, e.g. at the start of shutdown.
func (h *HealthHandler) SetServing(serving bool) {
	h.serving.Store(serving)
	if serving {
		metrics.SetHealthy()
	} else {
		metrics.SetUnhealthy()
	}
}

// Healthz handles GET /healthz. A degraded model does not fail liveness.
func (h *HealthHandler) Healthz(c *gin.Context) {
	if !h.serving.Load() {
		c.String(http.StatusServiceUnavailable, "Service Unavailable")
		return
	}
	c.String(http.StatusOK, "OK")
}

// Readyz handles GET /readyz
func (h *HealthHandler) Readyz(c *gin.Context) {
	if !h.serving.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "shutting down"})
		return
	}
	if err := h.classifier.LoadError(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
