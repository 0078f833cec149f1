package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keygate/keygate-server/src/middleware"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories/memory"
	"github.com/keygate/keygate-server/src/services"
)

// Test helpers for handler tests

const testJWTSecret = "handlers-test-secret-0123456789abcdef"

// createTestContext creates a test Gin context with recorder
func createTestContext() (*httptest.ResponseRecorder, *gin.Context) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return w, c
}

// assertStatusCode checks if response status code matches expected
func assertStatusCode(t *testing.T, w *httptest.ResponseRecorder, expectedCode int) {
	t.Helper()
	if w.Code != expectedCode {
		t.Errorf("expected status %d, got %d: %s", expectedCode, w.Code, w.Body.String())
	}
}

// assertJSONError checks if response contains expected error message
func assertJSONError(t *testing.T, w *httptest.ResponseRecorder, expectedError string) {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["error"] != expectedError {
		t.Errorf("expected error '%s', got '%v'", expectedError, response["error"])
	}
}

// decodeJSON parses the recorder body into a map
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

// fakeVerifier answers token checks without a network call
type fakeVerifier struct {
	valid bool
	err   error
	calls int32
}

func (f *fakeVerifier) Verify(context.Context, string) (services.VerificationResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return services.VerificationResult{}, f.err
	}
	return services.VerificationResult{Valid: f.valid}, nil
}

// testEnv wires every service over in-memory stores
type testEnv struct {
	keys     *memory.KeyStore
	tokens   *memory.TokenIndex
	audit    *memory.AuditLog
	events   *memory.EventLog
	verifier *fakeVerifier

	keyService *services.KeyService
	issuance   *services.IssuanceService
	validation *services.ValidationService
	funnel     *services.FunnelService
	settings   *services.SettingsService
	scripts    *services.ScriptService
	stats      *services.StatsService
	admin      *services.AdminService
	auth       *middleware.AdminAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		keys:     memory.NewKeyStore(),
		tokens:   memory.NewTokenIndex(),
		audit:    memory.NewAuditLog(300),
		events:   memory.NewEventLog(2000),
		verifier: &fakeVerifier{valid: true},
	}
	env.keyService = services.NewKeyService(env.keys, env.tokens, env.audit, env.events)
	env.issuance = services.NewIssuanceService(env.keys, env.tokens, env.events, env.verifier, nil, nil, time.Hour)
	env.validation = services.NewValidationService(env.keys, env.tokens, env.audit, env.events, nil)
	env.funnel = services.NewFunnelService(memory.NewFunnelConfigStore(), env.events, nil)
	env.settings = services.NewSettingsService(memory.NewSettingsStore(), models.RuntimeSettings{
		WorkinkLink:    "https://work.ink/test",
		YouTubeChannel: "https://youtube.com/@test",
	})
	env.settings.OnChange(func(s models.RuntimeSettings) {
		env.funnel.SetDefaults(services.DefaultGroups(s.YouTubeChannel, s.WorkinkLink))
	})
	if err := env.settings.Load(context.Background()); err != nil {
		t.Fatalf("settings.Load: %v", err)
	}
	env.scripts = services.NewScriptService(memory.NewScriptStore())
	env.stats = services.NewStatsService("memory", env.keys, env.audit, env.events)

	var err error
	env.admin, err = services.NewAdminService("admin", "correct-horse")
	if err != nil {
		t.Fatalf("NewAdminService: %v", err)
	}
	env.auth, err = middleware.NewAdminAuth(testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewAdminAuth: %v", err)
	}
	return env
}

// router mounts the routes under test the same way main does
func (env *testEnv) router() *gin.Engine {
	r := gin.New()

	check := NewCheckHandler(env.validation)
	funnel := NewFunnelHandler(env.funnel, env.issuance, nil, env.settings)
	stats := NewStatsHandler(env.stats)
	scripts := NewScriptHandler(env.scripts)
	settings := NewSettingsHandler(env.settings)
	admin := NewAdminHandler(env.keyService, env.issuance, env.funnel, env.admin, env.auth)

	r.GET("/gate", funnel.HandleGate)
	r.GET("/get-key", funnel.HandleGetKey)
	r.POST("/funnel/advance", funnel.HandleAdvance)
	r.GET("/workink-return", funnel.HandleWorkinkReturn)
	r.GET("/check", check.HandleCheck)
	r.GET("/stats", stats.HandleSummary)
	r.GET("/script.lua", scripts.HandleActiveScript)
	r.GET("/s/:token", scripts.HandleScriptByToken)

	r.POST("/admin/login", admin.HandleAdminLogin)
	r.POST("/admin/logout", admin.HandleAdminLogout)
	r.GET("/admin/status", admin.HandleAdminStatus)

	g := r.Group("/admin", env.auth.Middleware())
	g.GET("/keys", admin.HandleListKeys)
	g.POST("/keys", admin.HandleCreateKey)
	g.POST("/keys/delete-expired", admin.HandleDeleteExpired)
	g.GET("/keys/:key", admin.HandleGetKey)
	g.POST("/keys/:key/deactivate", admin.HandleDeactivateKey)
	g.POST("/keys/:key/extend", admin.HandleExtendKey)
	g.DELETE("/keys/:key", admin.HandleDeleteKey)
	g.GET("/funnel", admin.HandleGetFunnel)
	g.PUT("/funnel", admin.HandleUpdateFunnel)
	g.GET("/logs", admin.HandleLogs)
	g.POST("/clear-logs", admin.HandleClearLogs)
	g.POST("/clear-all", admin.HandleClearAll)
	g.GET("/stats", stats.HandleAdminStats)
	g.GET("/config", settings.HandleGetConfig)
	g.PUT("/config", settings.HandleUpdateConfig)
	g.GET("/scripts", scripts.HandleListScripts)
	g.POST("/scripts", scripts.HandleCreateScript)
	g.POST("/scripts/deactivate", scripts.HandleDeactivateScripts)
	g.GET("/scripts/:id", scripts.HandleGetScript)
	g.PUT("/scripts/:id", scripts.HandleUpdateScript)
	g.DELETE("/scripts/:id", scripts.HandleDeleteScript)
	g.POST("/scripts/:id/activate", scripts.HandleActivateScript)
	g.GET("/download-script", scripts.HandleDownloadScript)
	return r
}

// adminToken returns a valid bearer token for the admin routes
func (env *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := env.auth.IssueToken("admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}
