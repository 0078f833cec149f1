package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/logging"
)

func TestLoggingMiddleware_LogsRouteWithoutQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logging.Setup(logging.Config{Level: "info", Output: &buf})

	w := httptest.NewRecorder()
	_, router := gin.CreateTestContext(w)
	router.Use(RequestIDMiddleware(), LoggingMiddleware())
	router.GET("/check", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/check?key=SECRET", nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "/check", line["route"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, "warn", line["level"])
	assert.NotEmpty(t, line["request_id"])
	assert.NotContains(t, buf.String(), "SECRET")
}
