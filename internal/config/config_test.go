package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.RateLimitMax)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "message", cfg.AttachmentMode)
	assert.Equal(t, 4096, cfg.ChatMaxCompletionTokens)
	require.Len(t, cfg.AssistantPresets, 6)
	assert.Equal(t, "asst_0J4GuAbDQ53RnQUBKmuQ2rXz", cfg.AssistantPresets[0].ID)
	assert.Equal(t, "Övrigt", cfg.AssistantPresets[0].Name)
	assert.Contains(t, cfg.ChatModels, cfg.ChatDefaultModel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("ASSISTANT_PRESETS", "asst_a:Alpha, asst_b:Beta")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RateLimitMax)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, []AssistantPreset{{ID: "asst_a", Name: "Alpha"}, {ID: "asst_b", Name: "Beta"}}, cfg.AssistantPresets)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
}

func TestLoad_InvalidPreset(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ASSISTANT_PRESETS", "no-separator")

	_, err := Load()
	require.Error(t, err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Setenv("PWD", dir)
	t.Cleanup(func() { _ = os.Chdir(old) })
}
