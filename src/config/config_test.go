package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.MemoryMode())
	assert.Equal(t, time.Hour, cfg.KeyTTL)
	assert.Equal(t, 300, cfg.AuditLogCapacity)
	assert.Equal(t, 2000, cfg.EventLogCapacity)
	assert.Equal(t, 60, cfg.RateLimitDefault)
	assert.Equal(t, 20, cfg.RateLimitStrict)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "admin", cfg.AdminUsername)
	assert.Len(t, cfg.JWTSecret, 32)
}

func TestLoad_FileOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keygate.yaml")
	content := `
port: 9000
key_ttl_minutes: 30
rate_limit_strict: 5
enable_expiry_sweep: false
checkpoints:
  - kind: group
    mode: all
    items:
      - type: youtube
        url: https://youtube.com/@x
        duration: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port, "env must win over file")
	assert.Equal(t, 30*time.Minute, cfg.KeyTTL)
	assert.Equal(t, 5, cfg.RateLimitStrict)
	assert.False(t, cfg.EnableExpirySweep)
	assert.Contains(t, cfg.CheckpointsJSON, `"mode":"all"`)
	assert.Contains(t, cfg.CheckpointsJSON, `"duration":10`)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("KG_FLAG", "yes")
	assert.True(t, getEnvBool("KG_FLAG", false))

	t.Setenv("KG_FLAG", "off")
	assert.False(t, getEnvBool("KG_FLAG", true))
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,127.0.0.1 ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
}
