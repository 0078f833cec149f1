package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// SettingsPatch carries the fields an operator wants to change. Nil fields
// are left alone.
type SettingsPatch struct {
	WorkinkLink       *string `json:"workinkLink"`
	YouTubeChannel    *string `json:"ytChannel"`
	DiscordWebhookURL *string `json:"discordWebhookUrl"`
}

// SettingsService serves the runtime settings from memory and tells
// subscribers when they change. Listeners run synchronously and must not
// call back into the service.
type SettingsService struct {
	store     repositories.SettingsStore
	mu        sync.RWMutex
	current   models.RuntimeSettings
	listeners []func(models.RuntimeSettings)
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSettingsService creates a settings service. defaults apply until Load
// finds a saved row.
func NewSettingsService(store repositories.SettingsStore, defaults models.RuntimeSettings) *SettingsService {
	return &SettingsService{
		store:   store,
		current: defaults,
		logger:  logging.NewLogger("settings"),
		now:     time.Now,
	}
}

// OnChange registers fn for every later Load and Update.
func (s *SettingsService) OnChange(fn func(models.RuntimeSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Load replaces the current settings with the saved ones, if any, and
// notifies listeners either way.
func (s *SettingsService) Load(ctx context.Context) error {
	saved, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.apply(*saved)
	case errors.Is(err, repositories.ErrRecordNotFound):
		s.apply(s.Current())
	default:
		return err
	}
	return nil
}

// Current returns the settings in effect.
func (s *SettingsService) Current() models.RuntimeSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates p, saves the merged settings and notifies listeners.
func (s *SettingsService) Update(ctx context.Context, p SettingsPatch) (models.RuntimeSettings, error) {
	next := s.Current()
	if p.WorkinkLink != nil {
		v, err := settingURL("workinkLink", *p.WorkinkLink, false)
		if err != nil {
			return s.Current(), err
		}
		next.WorkinkLink = v
	}
	if p.YouTubeChannel != nil {
		v, err := settingURL("ytChannel", *p.YouTubeChannel, false)
		if err != nil {
			return s.Current(), err
		}
		next.YouTubeChannel = v
	}
	if p.DiscordWebhookURL != nil {
		v, err := settingURL("discordWebhookUrl", *p.DiscordWebhookURL, true)
		if err != nil {
			return s.Current(), err
		}
		next.DiscordWebhookURL = v
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.store.Save(ctx, &next); err != nil {
		return s.Current(), err
	}
	s.apply(next)
	s.logger.Info().
		Str("workink_link", next.WorkinkLink).
		Str("yt_channel", next.YouTubeChannel).
		Bool("webhook_set", next.DiscordWebhookURL != "").
		Msg("Runtime settings updated")
	return next, nil
}

func (s *SettingsService) apply(next models.RuntimeSettings) {
	s.mu.Lock()
	s.current = next
	listeners := append([]func(models.RuntimeSettings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// settingURL trims v and requires an absolute http(s) URL. Empty is only
// accepted when optional.
func settingURL(field, v string, optional bool) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("%w: %s is required", ErrInvalidSetting, field)
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %s must be an absolute http(s) URL", ErrInvalidSetting, field)
	}
	return v, nil
}
