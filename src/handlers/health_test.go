package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/keygate/keygate-server/src/database"
)

type stubChecker struct{ err error }

func (s stubChecker) Health(context.Context) error { return s.err }

func healthRequest(t *testing.T, h gin.HandlerFunc, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w, c := createTestContext()
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	h(c)

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return w, response
}

func TestHandleHealth_Postgres(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		handler := NewHealthHandler(database.NewDatabaseFromPool(tdb.Pool), "postgres", "test")

		w, response := healthRequest(t, handler.HandleHealth, "/health")

		assertStatusCode(t, w, http.StatusOK)
		if response["database"] != "connected" {
			t.Errorf("expected database 'connected', got %v", response["database"])
		}
		if _, ok := response["db_latency"]; !ok {
			t.Error("expected db_latency field")
		}
	})
}

func TestHandleHealth_Memory(t *testing.T) {
	handler := NewHealthHandler(nil, "memory", "test")

	w, response := healthRequest(t, handler.HandleHealth, "/health")

	assertStatusCode(t, w, http.StatusOK)
	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", response["status"])
	}
	if response["storage"] != "memory" {
		t.Errorf("expected storage 'memory', got %v", response["storage"])
	}
}

func TestHandleHealth_DBError(t *testing.T) {
	handler := NewHealthHandler(stubChecker{err: errors.New("down")}, "postgres", "test")

	w, response := healthRequest(t, handler.HandleHealth, "/health")

	assertStatusCode(t, w, http.StatusServiceUnavailable)
	if response["status"] != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %v", response["status"])
	}
	if response["database"] != "disconnected" {
		t.Errorf("expected database 'disconnected', got %v", response["database"])
	}
}

func TestHandleInfo(t *testing.T) {
	handler := NewHealthHandler(nil, "memory", "1.2.3")

	w, response := healthRequest(t, handler.HandleInfo, "/info")

	assertStatusCode(t, w, http.StatusOK)
	if response["service"] != "keygate" {
		t.Errorf("expected service name, got %v", response["service"])
	}
	if response["version"] != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %v", response["version"])
	}
}

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name    string
		checker HealthChecker
		code    int
		ready   bool
	}{
		{"memory", nil, http.StatusOK, true},
		{"healthy db", stubChecker{}, http.StatusOK, true},
		{"db error", stubChecker{err: errors.New("down")}, http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.checker, "x", "test")
			w, response := healthRequest(t, handler.HandleReady, "/ready")
			assertStatusCode(t, w, tt.code)
			if response["ready"] != tt.ready {
				t.Errorf("expected ready %v, got %v", tt.ready, response["ready"])
			}
		})
	}
}
