// Package config loads, validates, and holds the runtime configuration for
// the triage pipeline: deployment phase, confidence threshold, polling and
// reminder windows, retry caps, and the formatter/context content that never
// comes from the LLM.
package config

import "time"

// Phase is the Dispatcher's global operating mode.
type Phase string

const (
	PhaseShadow     Phase = "SHADOW"
	PhaseAssisted   Phase = "ASSISTED"
	PhaseAutonomous Phase = "AUTONOMOUS"
)

// Valid reports whether p is one of the three recognized phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseShadow, PhaseAssisted, PhaseAutonomous:
		return true
	default:
		return false
	}
}

// LLMConfig shapes the single provider-agnostic "analyze" call.
type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"required"`
	Endpoint    string        `yaml:"endpoint" validate:"required,url"`
	Model       string        `yaml:"model" validate:"required"`
	Temperature float64       `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" validate:"required"`
}

// TicketingConfig shapes authenticated RPCs to the ticketing backend.
type TicketingConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	ClientID     string        `yaml:"client_id_env" validate:"required"`
	ClientSecret string        `yaml:"client_secret_env" validate:"required"`
	TokenPath    string        `yaml:"token_path" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"required"`
}

// SlackConfig shapes internal escalation/reminder alerting.
type SlackConfig struct {
	Enabled   bool   `yaml:"enabled"`
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// Config is the fully loaded, validated, read-only configuration.
type Config struct {
	Phase                Phase             `yaml:"phase" validate:"required"`
	ConfidenceThreshold  float64           `yaml:"confidence_threshold" validate:"min=0,max=1"`
	PollIntervalSeconds  int               `yaml:"poll_interval_seconds" validate:"min=1"`
	SupplierReminderHours int              `yaml:"supplier_reminder_hours" validate:"min=1"`
	MaxIngestRetries     int               `yaml:"max_ingest_retries" validate:"min=0"`
	MaxSendRetries       int               `yaml:"max_send_retries" validate:"min=0"`
	DedupWindowSeconds   int               `yaml:"dedup_window_seconds" validate:"min=0"`
	InternalAgents       []string          `yaml:"internal_agents"`
	SignatureLines       []string          `yaml:"signature_lines" validate:"required,min=1"`
	AIDisclaimer         map[string]string `yaml:"ai_disclaimer"`
	LanguageOverrides    map[string]string `yaml:"language_overrides"`
	LLM                  LLMConfig         `yaml:"llm"`
	Ticketing            TicketingConfig   `yaml:"ticketing"`
	Slack                SlackConfig       `yaml:"slack"`

	WorkerCount int `yaml:"worker_count" validate:"min=1,max=50"`
}

// ReminderWindow returns the supplier reminder window as a duration.
func (c *Config) ReminderWindow() time.Duration {
	return time.Duration(c.SupplierReminderHours) * time.Hour
}

// PollInterval returns the mail-source poll period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DedupWindow returns the near-duplicate suppression window, zero if disabled.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// LanguageOverride returns a forced language for a participant address, if configured.
func (c *Config) LanguageOverride(participant string) (string, bool) {
	lang, ok := c.LanguageOverrides[participant]
	return lang, ok
}

// Disclaimer returns the AI disclaimer text for a locale, falling back to "en".
func (c *Config) Disclaimer(lang string) string {
	if d, ok := c.AIDisclaimer[lang]; ok {
		return d
	}
	return c.AIDisclaimer["en"]
}
