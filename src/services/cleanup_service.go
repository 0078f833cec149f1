package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/metrics"
)

// CleanupService periodically removes expired keys. A pass interrupted by
// shutdown leaves the store consistent; the next pass picks up the rest.
type CleanupService struct {
	keys     *KeyService
	enabled  bool
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(keys *KeyService, enabled bool, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CleanupService{
		keys:     keys,
		enabled:  enabled,
		interval: interval,
		done:     make(chan struct{}),
		logger:   logging.NewLogger("cleanup"),
	}
}

// Start starts the cleanup loop
func (cs *CleanupService) Start(ctx context.Context) {
	if !cs.enabled {
		cs.logger.Info().Msg("Expiry sweep is disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				cs.logger.Info().Msg("Expiry sweep stopped")
				return
			case <-cs.done:
				cs.logger.Info().Msg("Expiry sweep stopped")
				return
			case <-ticker.C:
				cs.Sweep(ctx)
			}
		}
	}()

	cs.logger.Info().Dur("interval", cs.interval).Msg("Expiry sweep started")
}

// Stop stops the cleanup loop
func (cs *CleanupService) Stop() {
	cs.stopOnce.Do(func() { close(cs.done) })
}

// Sweep runs one pass and returns the number of keys removed
func (cs *CleanupService) Sweep(ctx context.Context) int {
	n, err := cs.keys.DeleteExpired(ctx)
	if n > 0 {
		metrics.KeysSweptTotal.Add(float64(n))
		cs.logger.Info().Int("removed", n).Msg("Expired keys swept")
	}
	if err != nil {
		cs.logger.Error().Err(err).Msg("Expiry sweep failed")
	}
	return n
}
