package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/services"
)

// CheckHandler serves the key validation endpoint used by remote scripts
type CheckHandler struct {
	validation *services.ValidationService
}

// NewCheckHandler creates a new check handler
func NewCheckHandler(validation *services.ValidationService) *CheckHandler {
	return &CheckHandler{validation: validation}
}

// HandleCheck validates a key or funnel token. Rejections are answered with
// 200 and a reason code; only a store failure produces an error status.
func (ch *CheckHandler) HandleCheck(c *gin.Context) {
	res, err := ch.validation.Validate(c.Request.Context(), services.ValidateRequest{
		Key:         c.Query("key"),
		Token:       c.Query("token"),
		DeviceID:    c.Query("hwid"),
		AccountID:   c.Query("userId"),
		AccountName: c.Query("username"),
	})
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Validation failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"valid": false,
			"error": "temporarily unavailable",
		})
		return
	}

	if res.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  false,
		"reason": res.Reason,
	})
}
