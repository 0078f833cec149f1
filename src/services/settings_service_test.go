package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/repositories/memory"
)

var testDefaults = models.RuntimeSettings{
	WorkinkLink:    "https://work.ink/default",
	YouTubeChannel: "https://youtube.com/@default",
}

func TestSettingsService_LoadFallsBackToDefaults(t *testing.T) {
	svc := NewSettingsService(memory.NewSettingsStore(), testDefaults)

	var seen []models.RuntimeSettings
	svc.OnChange(func(s models.RuntimeSettings) { seen = append(seen, s) })

	require.NoError(t, svc.Load(context.Background()))
	require.Len(t, seen, 1)
	assert.Equal(t, testDefaults, seen[0])
}

func TestSettingsService_UpdatePersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSettingsStore()
	svc := NewSettingsService(store, testDefaults)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	var hook string
	svc.OnChange(func(s models.RuntimeSettings) { hook = s.DiscordWebhookURL })

	got, err := svc.Update(ctx, SettingsPatch{
		WorkinkLink:       models.Ptr("  https://work.ink/new  "),
		DiscordWebhookURL: models.Ptr("https://discord.com/api/webhooks/1/abc"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://work.ink/new", got.WorkinkLink)
	assert.Equal(t, testDefaults.YouTubeChannel, got.YouTubeChannel, "unset fields keep their value")
	assert.Equal(t, "https://discord.com/api/webhooks/1/abc", hook)
	assert.Equal(t, now, got.UpdatedAt)

	// A fresh process picks the saved row up.
	restarted := NewSettingsService(store, testDefaults)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, got, restarted.Current())

	_, err = svc.Update(ctx, SettingsPatch{DiscordWebhookURL: models.Ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "", hook, "an empty webhook disables notifications")
}

func TestSettingsService_UpdateValidates(t *testing.T) {
	svc := NewSettingsService(memory.NewSettingsStore(), testDefaults)
	ctx := context.Background()

	for _, p := range []SettingsPatch{
		{WorkinkLink: models.Ptr("")},
		{WorkinkLink: models.Ptr("work.ink/x")},
		{YouTubeChannel: models.Ptr("javascript:alert(1)")},
		{DiscordWebhookURL: models.Ptr("ftp://hooks")},
	} {
		_, err := svc.Update(ctx, p)
		assert.True(t, errors.Is(err, ErrInvalidSetting), "%+v", p)
	}
	assert.Equal(t, testDefaults, svc.Current(), "rejected updates change nothing")
}
