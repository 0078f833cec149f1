package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
	"github.com/keygate/keygate-server/src/services"
)

// FunnelTokenCookie remembers the redeemed work.ink token in the browser
const FunnelTokenCookie = "wik_token"

const funnelCookieTTL = time.Hour

// FunnelHandler serves the public key funnel
type FunnelHandler struct {
	funnel    *services.FunnelService
	issuance  *services.IssuanceService
	analytics *services.AnalyticsService
	settings  *services.SettingsService
}

// NewFunnelHandler creates a new funnel handler. The work.ink link from
// settings is where the visitor goes once every checkpoint is satisfied.
func NewFunnelHandler(funnel *services.FunnelService, issuance *services.IssuanceService, analytics *services.AnalyticsService, settings *services.SettingsService) *FunnelHandler {
	return &FunnelHandler{
		funnel:    funnel,
		issuance:  issuance,
		analytics: analytics,
		settings:  settings,
	}
}

// keyResponse is the public view of an issued key
type keyResponse struct {
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Created   bool       `json:"created"`
}

// stepItemView adds the derived category to an item
type stepItemView struct {
	models.StepItem
	Category models.StepCategory `json:"category"`
}

// stepGroupView is a group as shown to visitors
type stepGroupView struct {
	models.StepGroup
	Items []stepItemView `json:"items"`
}

func toGroupViews(groups []models.StepGroup) []stepGroupView {
	out := make([]stepGroupView, 0, len(groups))
	for _, g := range groups {
		v := stepGroupView{StepGroup: g, Items: make([]stepItemView, 0, len(g.Items))}
		for _, item := range g.Items {
			v.Items = append(v.Items, stepItemView{StepItem: item, Category: item.Kind.Category()})
		}
		out = append(out, v)
	}
	return out
}

// AdvanceRequest carries client-reported checkpoint progress
type AdvanceRequest struct {
	Progress models.FunnelProgress `json:"progress"`
}

// HandleGate returns the funnel entry URL
func (fh *FunnelHandler) HandleGate(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": baseURL(c) + "/get-key"})
}

// HandleGetKey enters the funnel. A visitor who already redeemed a token gets
// their key back; everyone else gets the checkpoint configuration.
func (fh *FunnelHandler) HandleGetKey(c *gin.Context) {
	ctx := c.Request.Context()
	fh.funnel.RecordEntry(ctx)
	fh.analytics.TrackFunnelEntry(ctx, services.HashClient(c.ClientIP()))

	if token, err := c.Cookie(FunnelTokenCookie); err == nil && token != "" {
		rec, err := fh.issuance.Lookup(ctx, token)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"key": toKeyResponse(rec, false)})
			return
		case !errors.Is(err, repositories.ErrRecordNotFound):
			zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to resolve funnel cookie")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
			return
		}
	}

	cfg, err := fh.funnel.Get(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to load funnel configuration")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups":  toGroupViews(cfg.Groups),
		"taskUrl": fh.settings.Current().WorkinkLink,
	})
}

// HandleAdvance evaluates posted progress against the checkpoints
func (fh *FunnelHandler) HandleAdvance(c *gin.Context) {
	var req AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	eval, err := fh.funnel.Evaluate(ctx, req.Progress)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to evaluate funnel progress")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	fh.analytics.TrackCheckpointAdvance(ctx, services.HashClient(c.ClientIP()), eval.Satisfied, eval.NextGroup)

	resp := gin.H{
		"satisfied": eval.Satisfied,
		"groups":    eval.Groups,
		"nextGroup": eval.NextGroup,
	}
	if eval.Satisfied {
		resp["taskUrl"] = fh.settings.Current().WorkinkLink
	}
	c.JSON(http.StatusOK, resp)
}

// HandleWorkinkReturn redeems a work.ink token for a key and remembers the
// token in a cookie so revisits return the same key.
func (fh *FunnelHandler) HandleWorkinkReturn(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	ctx := c.Request.Context()

	result, err := fh.issuance.RedeemToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		case errors.Is(err, services.ErrTokenRejected):
			c.JSON(http.StatusForbidden, gin.H{"error": "token was not validated"})
		case errors.Is(err, services.ErrVerifierUnavailable):
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Token verifier unavailable")
			c.JSON(http.StatusBadGateway, gin.H{"error": "verification failed"})
		default:
			zerolog.Ctx(ctx).Error().Err(err).Msg("Token redemption failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		}
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		FunnelTokenCookie,
		token,
		int(funnelCookieTTL.Seconds()),
		"/",
		"",
		isSecure(c),
		true, // HttpOnly
	)

	c.JSON(http.StatusOK, gin.H{"key": toKeyResponse(result.Record, result.Created)})
}

func toKeyResponse(rec *models.KeyRecord, created bool) keyResponse {
	return keyResponse{Key: rec.Key, ExpiresAt: rec.ExpiresAt, Created: created}
}

// baseURL rebuilds the public origin, honouring a TLS-terminating proxy
func baseURL(c *gin.Context) string {
	scheme := "http"
	if isSecure(c) {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func isSecure(c *gin.Context) bool {
	return c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
}
