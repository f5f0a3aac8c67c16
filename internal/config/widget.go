package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/suPer8Hu/support-widget/internal/conversation"
)

const widgetEnvPrefix = "WIDGET_"

// LoadWidgetSettings reads the lifecycle limits from defaults, an optional
// TOML file and WIDGET_* environment variables, in that order. When neither
// a file nor any WIDGET_* variable is present it returns nil: conversations
// then run without idle, session or quota limits.
func LoadWidgetSettings(path string) (*conversation.Settings, error) {
	if path == "" && !hasWidgetEnv() {
		return nil, nil
	}

	k := koanf.New(".")

	d := conversation.DefaultSettings()
	if err := k.Load(confmap.Provider(map[string]any{
		"enable_idle_timeout":       d.EnableIdleTimeout,
		"idle_timeout_minutes":      d.IdleTimeoutMinutes,
		"idle_warning_fraction":     d.IdleWarningFraction,
		"enable_max_session_length": d.EnableMaxSessionLength,
		"max_session_minutes":       d.MaxSessionMinutes,
		"enable_message_quota":      d.EnableMessageQuota,
		"max_messages_per_session":  d.MaxMessagesPerSession,
	}, "."), nil); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading widget settings: %w", err)
		}
	}

	// WIDGET_IDLE_TIMEOUT_MINUTES -> idle_timeout_minutes
	if err := k.Load(env.Provider(widgetEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, widgetEnvPrefix))
	}), nil); err != nil {
		return nil, err
	}

	var s conversation.Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("error unmarshalling widget settings: %w", err)
	}
	return &s, nil
}

func hasWidgetEnv() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, widgetEnvPrefix) && !strings.HasPrefix(kv, "WIDGET_SETTINGS_PATH=") {
			return true
		}
	}
	return false
}
