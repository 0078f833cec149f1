package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog/log"
)

// HashClient returns a hex-encoded SHA-256 of a client address for use as the
// PostHog distinct ID, so raw addresses never leave the process.
func HashClient(addr string) string {
	h := sha256.Sum256([]byte(addr))
	return fmt.Sprintf("%x", h[:16])
}

// AnalyticsService handles product analytics tracking. A nil or disabled
// service is a no-op.
type AnalyticsService struct {
	client  posthog.Client
	enabled bool
}

type posthogLogger struct{}

func (l posthogLogger) Success(m posthog.APIMessage) {
	log.Debug().Str("type", fmt.Sprintf("%T", m)).Msg("PostHog event delivered")
}

func (l posthogLogger) Failure(m posthog.APIMessage, err error) {
	log.Error().Err(err).Str("type", fmt.Sprintf("%T", m)).Msg("PostHog delivery failed")
}

// AnalyticsConfig holds analytics configuration
type AnalyticsConfig struct {
	PostHogAPIKey string
	PostHogHost   string
	Enabled       bool
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(cfg AnalyticsConfig) (*AnalyticsService, error) {
	if !cfg.Enabled || cfg.PostHogAPIKey == "" {
		return &AnalyticsService{enabled: false}, nil
	}

	client, err := posthog.NewWithConfig(
		cfg.PostHogAPIKey,
		posthog.Config{
			Endpoint:  cfg.PostHogHost,
			Interval:  30 * time.Second,
			BatchSize: 100,
			Callback:  posthogLogger{},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &AnalyticsService{client: client, enabled: true}, nil
}

// Enabled reports whether events are sent anywhere
func (s *AnalyticsService) Enabled() bool {
	return s != nil && s.enabled
}

// Close flushes pending events and closes client
func (s *AnalyticsService) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}

func getEnvironment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "production"
	}
	return env
}

// TrackEvent captures a generic event
func (s *AnalyticsService) TrackEvent(_ context.Context, distinctID, event string, properties map[string]interface{}) {
	if !s.Enabled() {
		return
	}

	if properties == nil {
		properties = make(map[string]interface{})
	}
	properties["environment"] = getEnvironment()

	if err := s.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Error().Err(err).Str("event", event).Msg("PostHog enqueue failed")
	}
}

// TrackFunnelEntry tracks a visitor opening the key funnel
func (s *AnalyticsService) TrackFunnelEntry(ctx context.Context, clientHash string) {
	s.TrackEvent(ctx, "client_"+clientHash, "funnel_entered", nil)
}

// TrackCheckpointAdvance tracks a progress submission
func (s *AnalyticsService) TrackCheckpointAdvance(ctx context.Context, clientHash string, satisfied bool, nextGroup int) {
	s.TrackEvent(ctx, "client_"+clientHash, "checkpoint_advanced", map[string]interface{}{
		"satisfied":  satisfied,
		"next_group": nextGroup,
	})
}

// TrackKeyIssued tracks a minted key
func (s *AnalyticsService) TrackKeyIssued(ctx context.Context, source string) {
	s.TrackEvent(ctx, "keygate_server", "key_issued", map[string]interface{}{
		"source": source,
	})
}

// TrackKeyValidated tracks a /check outcome
func (s *AnalyticsService) TrackKeyValidated(ctx context.Context, reason string) {
	s.TrackEvent(ctx, "keygate_server", "key_validated", map[string]interface{}{
		"reason": reason,
	})
}
