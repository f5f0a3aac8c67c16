package conversation

import "time"

const (
	DefaultIdleTimeoutMinutes    = 10
	DefaultMaxSessionMinutes     = 30
	DefaultMaxMessagesPerSession = 20
	DefaultIdleWarningFraction   = 0.25
)

// Settings is the widget configuration consumed by the lifecycle machine.
// Zero numeric values fall back to the documented defaults.
type Settings struct {
	EnableIdleTimeout      bool    `koanf:"enable_idle_timeout" json:"enable_idle_timeout"`
	IdleTimeoutMinutes     int     `koanf:"idle_timeout_minutes" json:"idle_timeout_minutes"`
	IdleWarningFraction    float64 `koanf:"idle_warning_fraction" json:"idle_warning_fraction"`
	EnableMaxSessionLength bool    `koanf:"enable_max_session_length" json:"enable_max_session_length"`
	MaxSessionMinutes      int     `koanf:"max_session_minutes" json:"max_session_minutes"`
	EnableMessageQuota     bool    `koanf:"enable_message_quota" json:"enable_message_quota"`
	MaxMessagesPerSession  int     `koanf:"max_messages_per_session" json:"max_messages_per_session"`
}

// DefaultSettings enables every limit with its default value.
func DefaultSettings() Settings {
	return Settings{
		EnableIdleTimeout:      true,
		IdleTimeoutMinutes:     DefaultIdleTimeoutMinutes,
		IdleWarningFraction:    DefaultIdleWarningFraction,
		EnableMaxSessionLength: true,
		MaxSessionMinutes:      DefaultMaxSessionMinutes,
		EnableMessageQuota:     true,
		MaxMessagesPerSession:  DefaultMaxMessagesPerSession,
	}
}

func (s Settings) withDefaults() Settings {
	if s.IdleTimeoutMinutes <= 0 {
		s.IdleTimeoutMinutes = DefaultIdleTimeoutMinutes
	}
	if s.IdleWarningFraction <= 0 || s.IdleWarningFraction >= 1 {
		s.IdleWarningFraction = DefaultIdleWarningFraction
	}
	if s.MaxSessionMinutes <= 0 {
		s.MaxSessionMinutes = DefaultMaxSessionMinutes
	}
	if s.MaxMessagesPerSession <= 0 {
		s.MaxMessagesPerSession = DefaultMaxMessagesPerSession
	}
	return s
}

func (s Settings) idleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// idleWarningAfter is how long after the last activity the warning shows:
// the final IdleWarningFraction of the idle window.
func (s Settings) idleWarningAfter() time.Duration {
	idle := s.idleTimeout()
	return idle - time.Duration(float64(idle)*s.IdleWarningFraction)
}

func (s Settings) maxSession() time.Duration {
	return time.Duration(s.MaxSessionMinutes) * time.Minute
}
