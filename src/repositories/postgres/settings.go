package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keygate/keygate-server/src/models"
)

// SettingsStore keeps the single runtime settings row.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a SettingsStore on pool
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

func (s *SettingsStore) Load(ctx context.Context) (*models.RuntimeSettings, error) {
	var rs models.RuntimeSettings
	err := s.pool.QueryRow(ctx,
		`SELECT workink_link, yt_channel, discord_webhook_url, updated_at FROM runtime_settings WHERE id = 1`).
		Scan(&rs.WorkinkLink, &rs.YouTubeChannel, &rs.DiscordWebhookURL, &rs.UpdatedAt)
	if err != nil {
		return nil, wrap("load settings", err)
	}
	return &rs, nil
}

func (s *SettingsStore) Save(ctx context.Context, rs *models.RuntimeSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runtime_settings (id, workink_link, yt_channel, discord_webhook_url, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			workink_link = EXCLUDED.workink_link,
			yt_channel = EXCLUDED.yt_channel,
			discord_webhook_url = EXCLUDED.discord_webhook_url,
			updated_at = EXCLUDED.updated_at`,
		rs.WorkinkLink, rs.YouTubeChannel, rs.DiscordWebhookURL, rs.UpdatedAt)
	return wrap("save settings", err)
}
