package config

import "time"

// defaults returns the built-in configuration values applied before the
// operator's YAML is merged on top. Mirrors the "ship with sane defaults,
// let the operator override" convention the rest of this config layer
// follows.
func defaults() *Config {
	return &Config{
		Phase:                 PhaseShadow,
		ConfidenceThreshold:   0.75,
		PollIntervalSeconds:   60,
		SupplierReminderHours: 24,
		MaxIngestRetries:      4,
		MaxSendRetries:        3,
		DedupWindowSeconds:    0,
		WorkerCount:           4,
		SignatureLines:        []string{"Best regards,", "Customer Support"},
		AIDisclaimer: map[string]string{
			"en": "This reply was drafted with AI assistance and reviewed before sending.",
		},
		LanguageOverrides: map[string]string{},
		InternalAgents:    []string{},
		LLM: LLMConfig{
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Ticketing: TicketingConfig{
			RequestTimeout: 10 * time.Second,
		},
	}
}
