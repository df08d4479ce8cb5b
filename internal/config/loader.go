package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from configDir.
// Steps: load .env, read triage.yaml, expand ${VAR} references against the
// environment, merge onto the built-in defaults, validate. This is the
// primary entry point; the result is read-only from the caller's point of
// view (see Registry for the runtime reload hook).
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("no .env file loaded", "path", envPath, "error", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized", "phase", cfg.Phase, "worker_count", cfg.WorkerCount)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "triage.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	var fromFile Config
	if err := yaml.Unmarshal([]byte(expanded), &fromFile); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := defaults()
	if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging configuration: %w", err)
	}

	return cfg, nil
}
