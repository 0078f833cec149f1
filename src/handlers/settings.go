package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/services"
)

// SettingsHandler exposes the runtime settings to operators
type SettingsHandler struct {
	settings *services.SettingsService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// HandleGetConfig returns the settings in effect
func (sh *SettingsHandler) HandleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, sh.settings.Current())
}

// HandleUpdateConfig patches the runtime links and webhook. Changes apply
// without a restart.
func (sh *SettingsHandler) HandleUpdateConfig(c *gin.Context) {
	var patch services.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	updated, err := sh.settings.Update(c.Request.Context(), patch)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, updated)
	case errors.Is(err, services.ErrInvalidSetting):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Failed to save settings")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to save settings"})
	}
}
