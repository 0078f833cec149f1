package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/metrics"
)

// WindowCounter counts hits per key in aligned fixed windows.
type WindowCounter interface {
	// Hit records one request and returns the count in the current window
	// together with the window's end.
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

func windowBounds(now time.Time, window time.Duration) (int64, time.Time) {
	idx := now.UnixNano() / int64(window)
	return idx, time.Unix(0, (idx+1)*int64(window))
}

// windowEntry is the in-process count for one key
type windowEntry struct {
	index int64
	count int64
	ends  time.Time
}

// MemoryWindowCounter keeps counts in process. State is lost on restart.
type MemoryWindowCounter struct {
	entries map[string]*windowEntry
	mu      sync.Mutex
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryWindowCounter creates a counter with a background cleanup loop
func NewMemoryWindowCounter() *MemoryWindowCounter {
	m := &MemoryWindowCounter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryWindowCounter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	idx, ends := windowBounds(m.now(), window)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.index != idx {
		e = &windowEntry{index: idx, ends: ends}
		m.entries[key] = e
	}
	e.count++
	return e.count, e.ends, nil
}

// cleanupLoop removes finished windows every 5 minutes
func (m *MemoryWindowCounter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryWindowCounter) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !e.ends.After(now) {
			delete(m.entries, key)
		}
	}
}

// Stop terminates the cleanup goroutine
func (m *MemoryWindowCounter) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

// RedisWindowCounter shares counts between replicas.
type RedisWindowCounter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisWindowCounter creates a Redis-backed counter
func NewRedisWindowCounter(client redis.UniversalClient) *RedisWindowCounter {
	return &RedisWindowCounter{client: client, prefix: "keygate:rl:", now: time.Now}
}

func (r *RedisWindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	idx, ends := windowBounds(r.now(), window)
	redisKey := fmt.Sprintf("%s%s:%d", r.prefix, key, idx)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, window+time.Second)
		return nil
	})
	if err != nil {
		return 0, ends, err
	}
	return incr.Val(), ends, nil
}

// RateLimitConfig defines configuration for the rate limiting middleware
type RateLimitConfig struct {
	Route  string // label used in the counter key and metrics
	Limit  int
	Window time.Duration
}

// NewRateLimitingMiddleware enforces a fixed-window limit per client address
// and route. Counter failures let the request through.
func NewRateLimitingMiddleware(counter WindowCounter, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		route := cfg.Route
		if route == "" {
			route = c.FullPath()
		}

		count, ends, err := counter.Hit(c.Request.Context(), c.ClientIP()+"|"+route, cfg.Window)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Str("route", route).Msg("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		if count > int64(cfg.Limit) {
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			retry := time.Until(ends).Seconds()
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(int(retry)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}

		c.Next()
	}
}
