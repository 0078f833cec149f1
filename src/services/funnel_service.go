package services

import (
	"context"
	"encoding/json"
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

const defaultItemLabel = "Open Link"

// FunnelService owns the checkpoint configuration and evaluates client progress.
type FunnelService struct {
	store    repositories.FunnelConfigStore
	events   repositories.EventLog
	mu       sync.RWMutex
	defaults []models.StepGroup
	logger   zerolog.Logger
	now      func() time.Time
}

// NewFunnelService creates a funnel service. defaults are served until an
// operator saves a configuration.
func NewFunnelService(store repositories.FunnelConfigStore, events repositories.EventLog, defaults []models.StepGroup) *FunnelService {
	return &FunnelService{
		store:    store,
		events:   events,
		defaults: defaults,
		logger:   logging.NewLogger("funnel"),
		now:      time.Now,
	}
}

// DefaultGroups is the built-in funnel: subscribe, then complete the task link.
func DefaultGroups(youtubeURL, workinkURL string) []models.StepGroup {
	return []models.StepGroup{
		{
			Kind: "group", Name: "Step 1", Mode: models.ModeAny,
			Items: []models.StepItem{{Kind: models.KindYouTube, Label: "Subscribe on YouTube", TargetURL: youtubeURL, DwellSeconds: 10}},
		},
		{
			Kind: "group", Name: "Step 2", Mode: models.ModeAny,
			Items: []models.StepItem{{Kind: models.KindWorkink, Label: "Complete Work.ink", TargetURL: workinkURL}},
		},
	}
}

// IsItemComplete reports whether an item counts as done at now. Dwell time is
// measured from the client-reported start and is not verified server-side.
func IsItemComplete(item models.StepItem, p models.ItemProgress, now time.Time) bool {
	if !p.Completed {
		return false
	}
	if item.DwellSeconds <= 0 {
		return true
	}
	if p.StartedAt == nil {
		return false
	}
	return now.Sub(*p.StartedAt) >= time.Duration(item.DwellSeconds)*time.Second
}

// IsGroupSatisfied applies the group's completion mode. A group with no items
// is satisfied.
func IsGroupSatisfied(g models.StepGroup, progress []models.ItemProgress, now time.Time) bool {
	return groupSatisfied(g, models.FunnelProgress{progress}, 0, now)
}

// IsFunnelSatisfied requires every group to be satisfied. An empty funnel is
// satisfied.
func IsFunnelSatisfied(groups []models.StepGroup, progress models.FunnelProgress, now time.Time) bool {
	for i, g := range groups {
		if !groupSatisfied(g, progress, i, now) {
			return false
		}
	}
	return true
}

func groupSatisfied(g models.StepGroup, progress models.FunnelProgress, gi int, now time.Time) bool {
	if len(g.Items) == 0 {
		return true
	}
	if g.Mode == models.ModeAll {
		for i, item := range g.Items {
			if !IsItemComplete(item, progress.Item(gi, i), now) {
				return false
			}
		}
		return true
	}
	for i, item := range g.Items {
		if IsItemComplete(item, progress.Item(gi, i), now) {
			return true
		}
	}
	return false
}

// rawEntry accepts both grouped entries and legacy flat steps.
type rawEntry struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Mode        string    `json:"mode"`
	Items       []rawItem `json:"items"`

	rawItem
}

type rawItem struct {
	Type     string `json:"type"`
	Label    string `json:"label"`
	URL      string `json:"url"`
	Duration *int   `json:"duration"`
}

// ParseConfig decodes a checkpoint list, normalising legacy flat steps and
// applying the default-fill policy.
func ParseConfig(data []byte) ([]models.StepGroup, error) {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFunnelConfig, err)
	}
	if len(entries) > models.MaxFunnelGroups {
		return nil, fmt.Errorf("%w: %d groups, max %d", ErrTooManyGroups, len(entries), models.MaxFunnelGroups)
	}

	groups := make([]models.StepGroup, 0, len(entries))
	for i, e := range entries {
		var g models.StepGroup
		if e.Kind == "group" || e.Items != nil {
			g = models.StepGroup{Name: e.Name, Description: e.Description, Mode: models.CompletionMode(e.Mode)}
			for _, it := range e.Items {
				g.Items = append(g.Items, it.toItem())
			}
		} else {
			g = models.StepGroup{Name: e.Name, Mode: models.ModeAny, Items: []models.StepItem{e.rawItem.toItem()}}
		}
		if g.Name == "" {
			g.Name = fmt.Sprintf("Step %d", i+1)
		}
		groups = append(groups, g)
	}
	return NormalizeGroups(groups)
}

func (r rawItem) toItem() models.StepItem {
	item := models.StepItem{Kind: models.StepKind(r.Type), Label: r.Label, TargetURL: r.URL}
	if r.Duration != nil {
		item.DwellSeconds = *r.Duration
	}
	return item
}

// NormalizeGroups validates groups and fills defaults. It never truncates.
func NormalizeGroups(groups []models.StepGroup) ([]models.StepGroup, error) {
	if len(groups) > models.MaxFunnelGroups {
		return nil, fmt.Errorf("%w: %d groups, max %d", ErrTooManyGroups, len(groups), models.MaxFunnelGroups)
	}

	out := make([]models.StepGroup, 0, len(groups))
	for gi, g := range groups {
		g.Kind = "group"
		switch mode := models.CompletionMode(strings.ToLower(string(g.Mode))); mode {
		case "", models.ModeAny:
			g.Mode = models.ModeAny
		case models.ModeAll:
			g.Mode = models.ModeAll
		default:
			return nil, fmt.Errorf("%w: group %d: unknown mode %q", ErrInvalidFunnelConfig, gi+1, g.Mode)
		}

		items := make([]models.StepItem, 0, len(g.Items))
		for ii, item := range g.Items {
			n, err := normalizeItem(item)
			if err != nil {
				return nil, fmt.Errorf("%w: group %d item %d: %v", ErrInvalidFunnelConfig, gi+1, ii+1, err)
			}
			items = append(items, n)
		}
		g.Items = items
		out = append(out, g)
	}
	return out, nil
}

func normalizeItem(item models.StepItem) (models.StepItem, error) {
	item.Kind = models.StepKind(strings.ToLower(strings.TrimSpace(string(item.Kind))))
	if item.Kind == "" {
		item.Kind = models.KindLink
	}
	if !item.Kind.Valid() {
		return item, fmt.Errorf("unknown type %q", item.Kind)
	}

	item.TargetURL = strings.TrimSpace(item.TargetURL)
	u, err := url.Parse(item.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return item, fmt.Errorf("url must be an absolute http(s) URL")
	}
	if item.Kind == models.KindLink {
		lower := strings.ToLower(item.TargetURL)
		switch {
		case strings.Contains(lower, "lootlab"):
			item.Kind = models.KindLootlab
		case strings.Contains(lower, "linkverse"):
			item.Kind = models.KindLinkverse
		}
	}

	if strings.TrimSpace(item.Label) == "" {
		item.Label = defaultItemLabel
	}
	if item.DwellSeconds < 0 {
		return item, fmt.Errorf("duration must be >= 0")
	}
	return item, nil
}

// SetDefaults replaces the groups served while nothing is saved.
func (s *FunnelService) SetDefaults(groups []models.StepGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = groups
}

// Get returns the saved configuration or the defaults.
func (s *FunnelService) Get(ctx context.Context) (*models.FunnelConfig, error) {
	cfg, err := s.store.Load(ctx)
	if errors.Is(err, repositories.ErrRecordNotFound) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return &models.FunnelConfig{Groups: s.defaults}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Update validates and saves a new configuration.
func (s *FunnelService) Update(ctx context.Context, groups []models.StepGroup) (*models.FunnelConfig, error) {
	normalized, err := NormalizeGroups(groups)
	if err != nil {
		return nil, err
	}
	cfg := &models.FunnelConfig{Groups: normalized, UpdatedAt: s.now().UTC()}
	if err := s.store.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.logger.Info().Int("groups", len(normalized)).Msg("Funnel configuration updated")
	return cfg, nil
}

// UpdateJSON parses raw checkpoint JSON and saves it.
func (s *FunnelService) UpdateJSON(ctx context.Context, raw []byte) (*models.FunnelConfig, error) {
	groups, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, groups)
}

// FunnelEvaluation is the result of checking client progress.
type FunnelEvaluation struct {
	Satisfied bool   `json:"satisfied"`
	Groups    []bool `json:"groups"`
	NextGroup int    `json:"nextGroup"` // -1 when satisfied
}

// Evaluate checks progress against the current configuration and counts the
// request as a checkpoint advance.
func (s *FunnelService) Evaluate(ctx context.Context, progress models.FunnelProgress) (*FunnelEvaluation, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.recordTraffic(ctx, models.EventCheckpointAdvance)

	now := s.now()
	eval := &FunnelEvaluation{Groups: make([]bool, len(cfg.Groups)), NextGroup: -1}
	for i, g := range cfg.Groups {
		eval.Groups[i] = groupSatisfied(g, progress, i, now)
		if !eval.Groups[i] && eval.NextGroup < 0 {
			eval.NextGroup = i
		}
	}
	eval.Satisfied = eval.NextGroup < 0
	return eval, nil
}

// RecordEntry counts a funnel entry.
func (s *FunnelService) RecordEntry(ctx context.Context) {
	s.recordTraffic(ctx, models.EventFunnelEntry)
}

func (s *FunnelService) recordTraffic(ctx context.Context, typ models.EventType) {
	if s.events == nil {
		return
	}
	now := s.now()
	if err := s.events.Record(ctx, &models.Event{ID: newID(now), Type: typ, Timestamp: now}); err != nil {
		s.logger.Warn().Err(err).Str("event", string(typ)).Msg("Failed to record traffic event")
	}
}
