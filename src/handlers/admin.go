package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/middleware"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/services"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// AdminHandler handles operator commands
type AdminHandler struct {
	keyService   *services.KeyService
	issuance     *services.IssuanceService
	funnel       *services.FunnelService
	adminService *services.AdminService
	auth         *middleware.AdminAuth
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(keyService *services.KeyService, issuance *services.IssuanceService, funnel *services.FunnelService, adminService *services.AdminService, auth *middleware.AdminAuth) *AdminHandler {
	return &AdminHandler{
		keyService:   keyService,
		issuance:     issuance,
		funnel:       funnel,
		adminService: adminService,
		auth:         auth,
	}
}

// AdminLoginRequest represents the login request body
type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminLoginResponse represents the login response
type AdminLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// HandleAdminLogin authenticates the operator and returns a JWT token
func (ah *AdminHandler) HandleAdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	if err := ah.adminService.Authenticate(req.Username, req.Password); err != nil {
		zerolog.Ctx(c.Request.Context()).Warn().Str("username", req.Username).Msg("Admin login failed")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid username or password",
		})
		return
	}

	token, err := ah.auth.IssueToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to generate token",
		})
		return
	}

	expiresAt := time.Now().Add(ah.auth.TTL())
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		middleware.AdminCookieName,
		token,
		int(ah.auth.TTL().Seconds()),
		"/",
		"",
		isSecure(c),
		true, // HttpOnly
	)

	c.JSON(http.StatusOK, AdminLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

// HandleAdminLogout clears the admin token cookie
func (ah *AdminHandler) HandleAdminLogout(c *gin.Context) {
	c.SetCookie(
		middleware.AdminCookieName,
		"",
		-1,
		"/",
		"",
		isSecure(c),
		true, // HttpOnly
	)

	c.JSON(http.StatusOK, gin.H{
		"status": "logged out",
	})
}

// AdminStatusResponse represents the response for admin status check
type AdminStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	LoginEnabled  bool   `json:"login_enabled"`
}

// HandleAdminStatus reports whether the caller holds a valid session. It is
// served without the auth middleware so the UI can decide to show a login.
func (ah *AdminHandler) HandleAdminStatus(c *gin.Context) {
	resp := AdminStatusResponse{LoginEnabled: ah.adminService.Enabled()}
	if claims, ok := ah.auth.Authenticated(c); ok {
		resp.Authenticated = true
		resp.Username = claims.Username
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListKeys returns a filtered, sorted page of keys
func (ah *AdminHandler) HandleListKeys(c *gin.Context) {
	filter := models.KeyFilter(c.DefaultQuery("filter", string(models.FilterAll)))
	switch filter {
	case models.FilterAll, models.FilterActive, models.FilterExpired, models.FilterFunnel, models.FilterAdmin:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter"})
		return
	}

	sort := models.KeySort(c.DefaultQuery("sort", string(models.SortCreatedDesc)))
	switch sort {
	case models.SortCreatedDesc, models.SortCreatedAsc, models.SortExpiresAsc, models.SortUsageDesc:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	result, err := ah.keyService.List(c.Request.Context(), models.KeyQuery{
		Search:   c.Query("q"),
		Filter:   filter,
		Sort:     sort,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		ah.storeError(c, err, "failed to list keys")
		return
	}
	now := time.Now()
	items := make([]keyView, 0, len(result.Items))
	for _, rec := range result.Items {
		items = append(items, toKeyView(rec, now))
	}

	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": result.Total,
		"page":  max(page, 1),
	})
}

// HandleGetKey returns a single key
func (ah *AdminHandler) HandleGetKey(c *gin.Context) {
	rec, err := ah.keyService.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		ah.storeError(c, err, "failed to load key")
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, toKeyView(rec, time.Now()))
}

// keyView is a key record with its lifecycle state
type keyView struct {
	*models.KeyRecord
	State models.KeyState `json:"state"`
}

func toKeyView(rec *models.KeyRecord, now time.Time) keyView {
	return keyView{KeyRecord: rec, State: rec.State(now)}
}

// CreateKeyRequest represents an operator key creation
type CreateKeyRequest struct {
	Key      string   `json:"key"`
	Hours    *float64 `json:"hours"`
	NoExpiry bool     `json:"noExpiry"`
	MaxUsage *int     `json:"maxUsage"`
	HWID     string   `json:"hwid"`
	UserID   string   `json:"userId"`
	Username string   `json:"username"`
}

// HandleCreateKey issues an administrative key
func (ah *AdminHandler) HandleCreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	params := services.AdminIssueParams{
		CustomKey:   req.Key,
		NoExpiry:    req.NoExpiry,
		MaxUsage:    req.MaxUsage,
		DeviceID:    req.HWID,
		AccountID:   req.UserID,
		AccountName: req.Username,
	}
	if req.Hours != nil {
		params.Hours = *req.Hours
	}

	rec, err := ah.issuance.IssueAdministrative(c.Request.Context(), params)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, toKeyView(rec, time.Now()))
	case errors.Is(err, services.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "key already exists"})
	case errors.Is(err, services.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be 4-64 characters of A-Z, 0-9, _ or -"})
	case errors.Is(err, services.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": hoursRangeError})
	case errors.Is(err, services.ErrInvalidUsageLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxUsage must be positive"})
	default:
		ah.storeError(c, err, "failed to create key")
	}
}

// HandleDeactivateKey marks a key inactive. A missing key is a no-op.
func (ah *AdminHandler) HandleDeactivateKey(c *gin.Context) {
	found, err := ah.keyService.Deactivate(c.Request.Context(), c.Param("key"))
	if err != nil {
		ah.storeError(c, err, "failed to deactivate key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated", "found": found})
}

var (
	hoursRangeError  = fmt.Sprintf("hours must be between 0 and %d", services.MaxKeyLifetimeHours)
	extendRangeError = fmt.Sprintf("hours must be positive and at most %d", services.MaxKeyLifetimeHours)
)

// ExtendKeyRequest represents an expiry extension
type ExtendKeyRequest struct {
	Hours float64 `json:"hours"`
}

// HandleExtendKey pushes a key's expiry out by the given hours
func (ah *AdminHandler) HandleExtendKey(c *gin.Context) {
	var req ExtendKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Hours <= 0 || req.Hours > services.MaxKeyLifetimeHours {
		c.JSON(http.StatusBadRequest, gin.H{"error": extendRangeError})
		return
	}

	rec, err := ah.keyService.Extend(c.Request.Context(), c.Param("key"), time.Duration(req.Hours*float64(time.Hour)))
	if err != nil {
		if errors.Is(err, services.ErrInvalidDuration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": extendRangeError})
			return
		}
		ah.storeError(c, err, "failed to extend key")
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"status": "extended", "found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extended", "found": true, "key": toKeyView(rec, time.Now())})
}

// HandleDeleteKey removes a key and unbinds its token
func (ah *AdminHandler) HandleDeleteKey(c *gin.Context) {
	found, err := ah.keyService.Delete(c.Request.Context(), c.Param("key"))
	if err != nil {
		ah.storeError(c, err, "failed to delete key")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "found": found})
}

// HandleDeleteExpired removes all expired keys
func (ah *AdminHandler) HandleDeleteExpired(c *gin.Context) {
	n, err := ah.keyService.DeleteExpired(c.Request.Context())
	if err != nil {
		ah.storeError(c, err, "failed to delete expired keys")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// HandleGetFunnel returns the checkpoint configuration
func (ah *AdminHandler) HandleGetFunnel(c *gin.Context) {
	cfg, err := ah.funnel.Get(c.Request.Context())
	if err != nil {
		ah.storeError(c, err, "failed to load funnel configuration")
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// HandleUpdateFunnel replaces the checkpoint configuration. The body is
// either a bare list of groups or {"groups": [...]}.
func (ah *AdminHandler) HandleUpdateFunnel(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Groups json.RawMessage `json:"groups"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil || wrapper.Groups == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		raw = wrapper.Groups
	}

	cfg, err := ah.funnel.UpdateJSON(c.Request.Context(), raw)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, cfg)
	case errors.Is(err, services.ErrTooManyGroups):
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many step groups", "max": models.MaxFunnelGroups})
	case errors.Is(err, services.ErrInvalidFunnelConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ah.storeError(c, err, "failed to save funnel configuration")
	}
}

// HandleLogs returns the newest validation audit entries
func (ah *AdminHandler) HandleLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLogLimit)))
	if err != nil || limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	entries, err := ah.keyService.RecentLogs(c.Request.Context(), limit)
	if err != nil {
		ah.storeError(c, err, "failed to load logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}

// HandleClearLogs empties the audit log
func (ah *AdminHandler) HandleClearLogs(c *gin.Context) {
	if err := ah.keyService.ClearLogs(c.Request.Context()); err != nil {
		ah.storeError(c, err, "failed to clear logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// HandleClearAll wipes keys, bindings, logs and events
func (ah *AdminHandler) HandleClearAll(c *gin.Context) {
	if err := ah.keyService.ClearAll(c.Request.Context()); err != nil {
		ah.storeError(c, err, "failed to clear state")
		return
	}
	zerolog.Ctx(c.Request.Context()).Warn().Str("admin", c.GetString("username")).Msg("All state cleared by admin")
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (ah *AdminHandler) storeError(c *gin.Context, err error, msg string) {
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg(msg)
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg})
}
