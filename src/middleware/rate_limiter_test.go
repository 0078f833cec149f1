package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(counter WindowCounter, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/check", NewRateLimitingMiddleware(counter, RateLimitConfig{Route: "check", Limit: limit, Window: time.Minute}),
		func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/gate", NewRateLimitingMiddleware(counter, RateLimitConfig{Route: "gate", Limit: limit, Window: time.Minute}),
		func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, path, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_MemoryFixedWindow(t *testing.T) {
	counter := NewMemoryWindowCounter()
	defer counter.Stop()
	r := limitedRouter(counter, 2)

	assert.Equal(t, http.StatusOK, hit(r, "/check", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "/check", "10.0.0.1").Code)

	w := hit(r, "/check", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate_limited"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, hit(r, "/check", "10.0.0.2").Code, "other client unaffected")
	assert.Equal(t, http.StatusOK, hit(r, "/gate", "10.0.0.1").Code, "other route unaffected")
}

func TestMemoryWindowCounter_NewWindowResets(t *testing.T) {
	counter := NewMemoryWindowCounter()
	defer counter.Stop()
	now := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	counter.now = func() time.Time { return now }

	n, _, _ := counter.Hit(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)
	n, _, _ = counter.Hit(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(2), n)

	now = now.Add(time.Minute)
	n, _, _ = counter.Hit(context.Background(), "k", time.Minute)
	assert.Equal(t, int64(1), n)

	now = now.Add(10 * time.Minute)
	counter.cleanup()
	assert.Empty(t, counter.entries)
}

func TestRateLimiter_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	counter := NewRedisWindowCounter(client)
	r := limitedRouter(counter, 1)

	assert.Equal(t, http.StatusOK, hit(r, "/check", "10.0.0.9").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "/check", "10.0.0.9").Code)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "keygate:rl:10.0.0.9|check:")
	assert.True(t, mr.TTL(keys[0]) > 0)
}

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis down")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	r := limitedRouter(failingCounter{}, 1)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "/check", "10.0.0.1").Code)
	}
}
