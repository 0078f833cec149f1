package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// HealthChecker reports backend reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db      HealthChecker // nil in memory mode
	storage string
	version string
}

// NewHealthHandler creates a new health handler. db may be nil when the
// service runs on in-memory stores.
func NewHealthHandler(db HealthChecker, storage, version string) *HealthHandler {
	return &HealthHandler{
		db:      db,
		storage: storage,
		version: version,
	}
}

// HandleHealth returns health status with a storage check
func (hh *HealthHandler) HandleHealth(c *gin.Context) {
	if hh.db == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"storage": hh.storage,
			"uptime":  time.Since(startTime).String(),
		})
		return
	}

	start := time.Now()
	err := hh.db.Health(c.Request.Context())
	dbLatency := time.Since(start)

	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"storage":  hh.storage,
			"database": "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"storage":    hh.storage,
		"database":   "connected",
		"db_latency": dbLatency.String(),
		"uptime":     time.Since(startTime).String(),
	})
}

// HandleInfo returns service information
func (hh *HealthHandler) HandleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "keygate",
		"version": hh.version,
		"storage": hh.storage,
		"status":  "running",
		"uptime":  time.Since(startTime).String(),
	})
}

// HandleReady returns readiness status (for load balancers)
func (hh *HealthHandler) HandleReady(c *gin.Context) {
	if hh.db != nil {
		if err := hh.db.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
