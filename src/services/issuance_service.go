package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/metrics"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const (
	maxMintAttempts = 5
	resolveAttempts = 3
	redeemTimeout   = 15 * time.Second
)

var customKeyPattern = regexp.MustCompile(`^[A-Z0-9_-]{4,64}$`)

// IssueResult carries the key and whether this call created it.
type IssueResult struct {
	Record  *models.KeyRecord
	Created bool
}

// AdminIssueParams describes an operator-created key.
type AdminIssueParams struct {
	CustomKey   string
	Hours       float64 // 0 means the default of one hour
	NoExpiry    bool
	MaxUsage    *int
	DeviceID    string
	AccountID   string
	AccountName string
}

// IssuanceService mints keys from verified funnel tokens and admin requests.
type IssuanceService struct {
	keys      repositories.KeyStore
	tokens    repositories.TokenIndex
	events    repositories.EventLog
	verifier  TokenVerifier
	notifier  Notifier
	analytics *AnalyticsService
	ttl       time.Duration
	redeem    singleflight.Group
	logger    zerolog.Logger
	now       func() time.Time
}

// NewIssuanceService creates an issuance service. ttl is the lifetime of
// funnel-issued keys.
func NewIssuanceService(keys repositories.KeyStore, tokens repositories.TokenIndex, events repositories.EventLog, verifier TokenVerifier, notifier Notifier, analytics *AnalyticsService, ttl time.Duration) *IssuanceService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &IssuanceService{
		keys:      keys,
		tokens:    tokens,
		events:    events,
		verifier:  verifier,
		notifier:  notifier,
		analytics: analytics,
		ttl:       ttl,
		logger:    logging.NewLogger("issuance"),
		now:       time.Now,
	}
}

// Lookup returns the key already bound to token, or ErrRecordNotFound.
func (s *IssuanceService) Lookup(ctx context.Context, token string) (*models.KeyRecord, error) {
	key, err := s.tokens.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	rec, err := s.keys.Get(ctx, key)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		// Binding outlived its key; drop it so the token can be reissued.
		if uerr := s.tokens.Unbind(ctx, token); uerr != nil && !errors.Is(uerr, repositories.ErrRecordNotFound) {
			s.logger.Warn().Err(uerr).Str("key", key).Msg("Failed to unbind stale token")
		}
	}
	return rec, err
}

// RedeemToken returns the key for a funnel token, verifying and minting on
// first sight. Concurrent redemptions of one token share a single provider
// call, which happens before any store lock is taken. The shared call is
// detached from the caller's cancellation so one aborted request cannot fail
// the others waiting on it.
func (s *IssuanceService) RedeemToken(ctx context.Context, token string) (*IssueResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	if rec, err := s.Lookup(ctx, token); err == nil {
		metrics.TokenRedemptionsTotal.WithLabelValues("existing").Inc()
		return &IssueResult{Record: rec}, nil
	} else if !errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, err
	}

	ran := false
	v, err, _ := s.redeem.Do(token, func() (interface{}, error) {
		ran = true
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redeemTimeout)
		defer cancel()
		res, err := s.verifier.Verify(sctx, token)
		if err != nil {
			return nil, err
		}
		return s.IssueFromExternalToken(sctx, token, res)
	})
	if err != nil {
		metrics.TokenRedemptionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	result := v.(*IssueResult)
	if !ran {
		// Waiters share the leader's result; only the leader reports creation.
		result = &IssueResult{Record: result.Record.Clone()}
	}
	return result, nil
}

// IssueFromExternalToken mints a funnel key for a verified token. An already
// bound token returns its existing key.
func (s *IssuanceService) IssueFromExternalToken(ctx context.Context, token string, verification VerificationResult) (*IssueResult, error) {
	if rec, err := s.Lookup(ctx, token); err == nil {
		return &IssueResult{Record: rec}, nil
	} else if !errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, err
	}

	if !verification.Valid {
		metrics.TokenRedemptionsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrTokenRejected
	}

	now := s.now().UTC()
	rec := &models.KeyRecord{
		CreatedAt:   now,
		ExpiresAt:   models.Ptr(now.Add(s.ttl)),
		IsActive:    true,
		Source:      models.SourceExternalFunnel,
		OriginToken: models.Ptr(token),
	}
	if err := s.createRandom(ctx, rec); err != nil {
		if errors.Is(err, repositories.ErrTokenAlreadyBound) {
			return s.existingFor(ctx, token)
		}
		return nil, err
	}

	if err := s.tokens.Bind(ctx, token, rec.Key); err != nil {
		if _, delErr := s.keys.Delete(ctx, rec.Key); delErr != nil {
			s.logger.Error().Err(delErr).Str("key", rec.Key).Msg("Failed to remove orphaned key")
		}
		if errors.Is(err, repositories.ErrTokenAlreadyBound) {
			return s.existingFor(ctx, token)
		}
		return nil, err
	}

	metrics.TokenRedemptionsTotal.WithLabelValues("created").Inc()
	s.published(ctx, rec)
	return &IssueResult{Record: rec, Created: true}, nil
}

// existingFor returns the key another writer bound to token. The binding may
// trail the winner's insert briefly, so resolution is retried.
func (s *IssuanceService) existingFor(ctx context.Context, token string) (*IssueResult, error) {
	var lastErr error
	for i := 0; i < resolveAttempts; i++ {
		rec, err := s.Lookup(ctx, token)
		if err == nil {
			return &IssueResult{Record: rec}, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("resolve concurrently bound token: %w", lastErr)
}

// IssueAdministrative creates an operator key. Custom keys must be unique.
func (s *IssuanceService) IssueAdministrative(ctx context.Context, p AdminIssueParams) (*models.KeyRecord, error) {
	if p.Hours < 0 || p.Hours > MaxKeyLifetimeHours || math.IsNaN(p.Hours) || math.IsInf(p.Hours, 0) {
		return nil, ErrInvalidDuration
	}
	if p.MaxUsage != nil && *p.MaxUsage <= 0 {
		return nil, ErrInvalidUsageLimit
	}

	now := s.now().UTC()
	rec := &models.KeyRecord{
		CreatedAt: now,
		IsActive:  true,
		MaxUsage:  p.MaxUsage,
		Source:    models.SourceAdministrative,
	}
	if !p.NoExpiry {
		hours := p.Hours
		if hours == 0 {
			hours = 1
		}
		rec.ExpiresAt = models.Ptr(now.Add(time.Duration(hours * float64(time.Hour))))
	}
	if p.DeviceID != "" {
		rec.BoundDeviceID = models.Ptr(p.DeviceID)
	}
	if p.AccountID != "" {
		rec.BoundAccountID = models.Ptr(p.AccountID)
	}
	if p.AccountName != "" {
		rec.BoundAccountName = models.Ptr(p.AccountName)
	}

	if custom := NormalizeKey(p.CustomKey); custom != "" {
		if !customKeyPattern.MatchString(custom) {
			return nil, ErrInvalidKey
		}
		rec.Key = custom
		if err := s.keys.Create(ctx, rec); err != nil {
			return nil, err
		}
	} else if err := s.createRandom(ctx, rec); err != nil {
		return nil, err
	}

	s.published(ctx, rec)
	return rec, nil
}

// createRandom assigns a fresh random key, retrying on collision.
func (s *IssuanceService) createRandom(ctx context.Context, rec *models.KeyRecord) error {
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		key, err := randomKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		rec.Key = key
		err = s.keys.Create(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrDuplicateKey) {
			return err
		}
	}
	return fmt.Errorf("no unique key after %d attempts: %w", maxMintAttempts, repositories.ErrDuplicateKey)
}

func (s *IssuanceService) published(ctx context.Context, rec *models.KeyRecord) {
	if s.events != nil {
		ev := &models.Event{ID: newID(rec.CreatedAt), Type: models.EventKeyCreated, Key: rec.Key, Timestamp: rec.CreatedAt}
		if err := s.events.Record(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record created event")
		}
	}
	metrics.KeysIssuedTotal.WithLabelValues(string(rec.Source)).Inc()
	s.analytics.TrackKeyIssued(ctx, string(rec.Source))
	s.notifier.KeyCreated(rec)
	s.logger.Info().Str("key", rec.Key).Str("source", string(rec.Source)).Msg("Key issued")
}
