package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-widget/internal/conversation"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("RECONCILE_INTERVAL", "")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg := Load()
	require.Equal(t, "static", cfg.AIProvider)
	require.Equal(t, 10*time.Second, cfg.ReconcileInterval)
	require.Equal(t, 2, cfg.WorkerConcurrency)
	require.Equal(t, 5, cfg.CorruptionThreshold)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AI_PROVIDER", "OpenRouter")
	t.Setenv("RECONCILE_DEBOUNCE", "500ms")
	t.Setenv("RECONCILE_COOLDOWN", "not-a-duration")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("PERSISTENCE_BACKEND", "Redis")

	cfg := Load()
	require.Equal(t, "openrouter", cfg.AIProvider)
	require.Equal(t, 500*time.Millisecond, cfg.ReconcileDebounce)
	require.Equal(t, time.Second, cfg.ReconcileCooldown)
	require.Equal(t, 50, cfg.WorkerConcurrency)
	require.Equal(t, "redis", cfg.PersistenceBackend)
}

func clearWidgetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WIDGET_ENABLE_IDLE_TIMEOUT", "WIDGET_IDLE_TIMEOUT_MINUTES", "WIDGET_IDLE_WARNING_FRACTION",
		"WIDGET_ENABLE_MAX_SESSION_LENGTH", "WIDGET_MAX_SESSION_MINUTES",
		"WIDGET_ENABLE_MESSAGE_QUOTA", "WIDGET_MAX_MESSAGES_PER_SESSION",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadWidgetSettings_AbsentIsNil(t *testing.T) {
	clearWidgetEnv(t)

	s, err := LoadWidgetSettings("")
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestLoadWidgetSettings_FileThenEnv(t *testing.T) {
	clearWidgetEnv(t)

	path := filepath.Join(t.TempDir(), "widget.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
idle_timeout_minutes = 15
enable_message_quota = false
max_messages_per_session = 50
`), 0o644))
	t.Setenv("WIDGET_MAX_SESSION_MINUTES", "45")

	s, err := LoadWidgetSettings(path)
	require.NoError(t, err)
	require.Equal(t, &conversation.Settings{
		EnableIdleTimeout:      true,
		IdleTimeoutMinutes:     15,
		IdleWarningFraction:    conversation.DefaultIdleWarningFraction,
		EnableMaxSessionLength: true,
		MaxSessionMinutes:      45,
		EnableMessageQuota:     false,
		MaxMessagesPerSession:  50,
	}, s)
}

func TestLoadWidgetSettings_MissingFile(t *testing.T) {
	clearWidgetEnv(t)

	_, err := LoadWidgetSettings(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
