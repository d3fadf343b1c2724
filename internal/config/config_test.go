package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.TokenRates.InputCachedPerMillion)
	assert.Equal(t, 2.0, cfg.TokenRates.InputUncachedPerMillion)
	assert.Equal(t, 3.0, cfg.TokenRates.OutputPerMillion)
	assert.Equal(t, 3, cfg.Turn.MaxReviewRounds)
	assert.Equal(t, 30*time.Second, cfg.Turn.SkillTimeout())
	assert.Equal(t, time.Hour, cfg.Memory.Window())
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	body := `{
		"llm": {"api_key": "sk-test", "model": "gpt-test", "base_url": "https://api.example.com/v1"},
		"memory": {"window_seconds": 120},
		"turn": {"max_review_rounds": 5},
		"server": {"port": 9000},
		"data_dir": "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deskmate-config.json"), []byte(body), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-test", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.Memory.Window())
	assert.Equal(t, 5, cfg.Turn.MaxReviewRounds)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
}

func TestLoadEnvFallbackForAPIKey(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DESKMATE_API_KEY", "sk-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deskmate-config.json"), []byte("{not json"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}
