package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/services"
)

// StatsHandler serves usage summaries
type StatsHandler struct {
	stats *services.StatsService
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(stats *services.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// HandleSummary returns totals and 7-day counts
func (sh *StatsHandler) HandleSummary(c *gin.Context) {
	summary, err := sh.stats.Summary(c.Request.Context())
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to build stats summary")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleAdminStats returns the summary plus a per-day series over ?range=
// days, clamped to 1..30.
func (sh *StatsHandler) HandleAdminStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("range", "7"))
	if err != nil {
		days = 7
	}
	days = services.ClampDays(days)

	ctx := c.Request.Context()
	summary, err := sh.stats.Summary(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to build stats summary")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	series, err := sh.stats.Daily(ctx, days)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to build daily stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"range":   days,
		"summary": summary,
		"daily":   series,
	})
}
