package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories"
)

const (
	// MaxScriptBytes caps a hosted script body.
	MaxScriptBytes = 1 << 20

	defaultScriptName = "Untitled"
	maxTokenAttempts  = 3
)

// ScriptInput describes a new script.
type ScriptInput struct {
	Name        string
	Description string
	Source      string
}

// ScriptPatch carries the fields to change on a script. Nil fields are left
// alone.
type ScriptPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Source      *string `json:"content"`
}

// ScriptService hosts Lua scripts. A newly uploaded script replaces the
// active one; older scripts stay reachable by their public token.
type ScriptService struct {
	store  repositories.ScriptStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewScriptService creates a script service
func NewScriptService(store repositories.ScriptStore) *ScriptService {
	return &ScriptService{
		store:  store,
		logger: logging.NewLogger("scripts"),
		now:    time.Now,
	}
}

// Create stores a script and makes it the active one.
func (s *ScriptService) Create(ctx context.Context, in ScriptInput) (*models.Script, error) {
	source, err := checkSource(in.Source)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = defaultScriptName
	}

	now := s.now().UTC()
	sc := &models.Script{
		ID:          newID(now),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Source:      source,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for attempt := 0; ; attempt++ {
		if sc.PublicToken, err = randomToken(); err != nil {
			return nil, fmt.Errorf("generate script token: %w", err)
		}
		err = s.store.Create(ctx, sc)
		if err == nil {
			break
		}
		if !errors.Is(err, repositories.ErrDuplicateKey) || attempt+1 >= maxTokenAttempts {
			return nil, err
		}
	}

	s.logger.Info().Str("script_id", sc.ID).Str("name", sc.Name).Int("size", len(source)).Msg("Script uploaded")
	return sc, nil
}

// Update edits name, description or body.
func (s *ScriptService) Update(ctx context.Context, id string, p ScriptPatch) (*models.Script, error) {
	var source string
	if p.Source != nil {
		var err error
		if source, err = checkSource(*p.Source); err != nil {
			return nil, err
		}
	}
	sc, err := s.store.Update(ctx, id, func(sc *models.Script) error {
		if p.Name != nil {
			if name := strings.TrimSpace(*p.Name); name != "" {
				sc.Name = name
			}
		}
		if p.Description != nil {
			sc.Description = strings.TrimSpace(*p.Description)
		}
		if p.Source != nil {
			sc.Source = source
		}
		sc.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	s.logger.Info().Str("script_id", id).Msg("Script updated")
	return sc, nil
}

// Activate makes id the script served at the stable path.
func (s *ScriptService) Activate(ctx context.Context, id string) error {
	if err := s.store.Activate(ctx, id); err != nil {
		return notFound(err)
	}
	s.logger.Info().Str("script_id", id).Msg("Script activated")
	return nil
}

// DeactivateAll stops serving any script at the stable path.
func (s *ScriptService) DeactivateAll(ctx context.Context) error {
	if err := s.store.DeactivateAll(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("All scripts deactivated")
	return nil
}

// Delete removes a script. Deleting the active script promotes the newest
// remaining one.
func (s *ScriptService) Delete(ctx context.Context, id string) error {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return notFound(err)
	}
	s.logger.Info().Str("script_id", id).Bool("was_active", removed.IsActive).Msg("Script deleted")
	return nil
}

// Get returns one script.
func (s *ScriptService) Get(ctx context.Context, id string) (*models.Script, error) {
	sc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return sc, nil
}

// List returns script summaries, newest first.
func (s *ScriptService) List(ctx context.Context) ([]models.ScriptSummary, error) {
	scripts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScriptSummary, 0, len(scripts))
	for _, sc := range scripts {
		out = append(out, sc.Summary())
	}
	return out, nil
}

// Active returns the active script, or nil when none is.
func (s *ScriptService) Active(ctx context.Context) (*models.Script, error) {
	sc, err := s.store.Active(ctx)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, nil
	}
	return sc, err
}

// ByToken returns the script behind a public token, or nil.
func (s *ScriptService) ByToken(ctx context.Context, token string) (*models.Script, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, nil
	}
	sc, err := s.store.ByToken(ctx, token)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return nil, nil
	}
	return sc, err
}

func checkSource(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidScript)
	}
	if len(source) > MaxScriptBytes {
		return "", fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidScript, MaxScriptBytes)
	}
	return source, nil
}

func notFound(err error) error {
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return ErrScriptNotFound
	}
	return err
}
