package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/metrics"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

// ValidateRequest is one /check call. Key or Token identifies the key.
type ValidateRequest struct {
	Key         string
	Token       string
	DeviceID    string
	AccountID   string
	AccountName string
}

// ValidationResult is the outcome. Rejections are results, not errors.
type ValidationResult struct {
	Valid  bool
	Reason models.ReasonCode
	Key    string
	Record *models.KeyRecord
}

// rejection aborts a Mutate with a reason code.
type rejection struct {
	reason models.ReasonCode
}

func (r rejection) Error() string { return string(r.reason) }

// ValidationService decides key validity and meters usage.
type ValidationService struct {
	keys      repositories.KeyStore
	tokens    repositories.TokenIndex
	audit     repositories.AuditLog
	events    repositories.EventLog
	analytics *AnalyticsService
	logger    zerolog.Logger
	now       func() time.Time
}

// NewValidationService creates a validation service
func NewValidationService(keys repositories.KeyStore, tokens repositories.TokenIndex, audit repositories.AuditLog, events repositories.EventLog, analytics *AnalyticsService) *ValidationService {
	return &ValidationService{
		keys:      keys,
		tokens:    tokens,
		audit:     audit,
		events:    events,
		analytics: analytics,
		logger:    logging.NewLogger("validation"),
		now:       time.Now,
	}
}

// Validate resolves the candidate, checks it, and on success increments usage
// and binds unbound identities in one atomic step per key. Every outcome is
// audited; a store failure returns an error and is not audited.
func (s *ValidationService) Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	key := NormalizeKey(req.Key)
	token := strings.TrimSpace(req.Token)

	if key == "" && token != "" {
		resolved, err := s.tokens.Resolve(ctx, token)
		switch {
		case err == nil:
			key = resolved
		case !errors.Is(err, repositories.ErrRecordNotFound):
			return nil, err
		}
	}
	if key == "" {
		return s.finish(ctx, req, &ValidationResult{Reason: models.ReasonNoKey}), nil
	}

	rec, err := s.keys.Mutate(ctx, key, func(r *models.KeyRecord) error {
		switch {
		case !r.IsActive:
			return rejection{models.ReasonInactive}
		case r.IsExpired(s.now()):
			return rejection{models.ReasonExpired}
		case r.LimitReached():
			return rejection{models.ReasonLimitReached}
		}
		r.UsageCount++
		if r.BoundDeviceID == nil && req.DeviceID != "" {
			r.BoundDeviceID = models.Ptr(req.DeviceID)
		}
		// The account name only binds together with the account it names.
		if r.BoundAccountID == nil && req.AccountID != "" {
			r.BoundAccountID = models.Ptr(req.AccountID)
			if req.AccountName != "" {
				r.BoundAccountName = models.Ptr(req.AccountName)
			}
		}
		return nil
	})

	result := &ValidationResult{Key: key}
	var rej rejection
	switch {
	case err == nil:
		result.Valid = true
		result.Reason = models.ReasonOK
		result.Record = rec
	case errors.As(err, &rej):
		result.Reason = rej.reason
	case errors.Is(err, repositories.ErrRecordNotFound):
		result.Reason = models.ReasonNotFound
	default:
		s.logger.Error().Err(err).Str("key", key).Msg("Validation store failure")
		return nil, err
	}
	return s.finish(ctx, req, result), nil
}

func (s *ValidationService) finish(ctx context.Context, req ValidateRequest, res *ValidationResult) *ValidationResult {
	now := s.now()
	entry := &models.AuditLogEntry{
		ID:          newID(now),
		Timestamp:   now,
		OK:          res.Valid,
		Reason:      res.Reason,
		DeviceID:    req.DeviceID,
		AccountID:   req.AccountID,
		AccountName: req.AccountName,
	}
	if res.Key != "" {
		entry.Key = models.Ptr(res.Key)
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to append audit entry")
	}

	if res.Valid && s.events != nil {
		ev := &models.Event{ID: newID(now), Type: models.EventKeyUsed, Key: res.Key, Timestamp: now}
		if err := s.events.Record(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record used event")
		}
	}

	metrics.ValidationsTotal.WithLabelValues(string(res.Reason)).Inc()
	s.analytics.TrackKeyValidated(ctx, string(res.Reason))
	return res
}
