package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queue:
  max_concurrent: 5
  retry_delay: 250ms
agents:
  song:
    url: http://song-agent:9000
engine:
  unknown_action: fail
`), 0o600))

	t.Setenv("QUEUE_MAX_RETRIES", "4")

	secret := filepath.Join(dir, "llm_key")
	require.NoError(t, os.WriteFile(secret, []byte("sk-test\n"), 0o600))
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("LLM_API_KEY_FILE", secret)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 4, cfg.Queue.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryDelay)
	assert.True(t, cfg.Agents.Song.IsConfigured())
	assert.False(t, cfg.Agents.Media.IsConfigured())
	assert.Equal(t, "fail", cfg.Engine.UnknownAction)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "8000", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()

	cfg := build()
	require.NoError(t, cfg.Validate())

	cfg.Queue.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = build()
	cfg.Engine.UnknownAction = "shrug"
	assert.Error(t, cfg.Validate())

	cfg = build()
	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate())
	cfg.Auth.Gateway = true
	assert.NoError(t, cfg.Validate())
}
