package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates the fully merged configuration comprehensively with
// clear, field-attributed error messages, the same fail-fast-per-section
// shape the rest of this layer's validation follows.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs struct-tag validation, then the cross-field checks
// struct tags cannot express.
func (val *Validator) ValidateAll() error {
	if err := val.v.Struct(val.cfg); err != nil {
		return fmt.Errorf("struct validation: %w", err)
	}

	if err := val.validatePhase(); err != nil {
		return err
	}
	if err := val.validateDisclaimers(); err != nil {
		return err
	}
	if err := val.validateSlack(); err != nil {
		return err
	}
	return nil
}

func (val *Validator) validatePhase() error {
	if !val.cfg.Phase.Valid() {
		return fmt.Errorf("phase %q is not one of SHADOW, ASSISTED, AUTONOMOUS", val.cfg.Phase)
	}
	return nil
}

func (val *Validator) validateDisclaimers() error {
	if _, ok := val.cfg.AIDisclaimer["en"]; !ok {
		return fmt.Errorf("ai_disclaimer must include an \"en\" fallback entry")
	}
	return nil
}

func (val *Validator) validateSlack() error {
	s := val.cfg.Slack
	if s.Enabled && (s.TokenEnv == "" || s.ChannelID == "") {
		return fmt.Errorf("slack.token_env and slack.channel_id are required when slack.enabled is true")
	}
	return nil
}
