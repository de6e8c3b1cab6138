package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset knobs with built-in values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Routing.PriceInPer1K == 0 {
		cfg.Routing.PriceInPer1K = DefaultPriceInPer1K
	}
	if cfg.Routing.PriceOutPer1K == 0 {
		cfg.Routing.PriceOutPer1K = DefaultPriceOutPer1K
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for role, p := range map[string]ProviderEntry{
		"dialogue":   cfg.Providers.Dialogue,
		"fallback":   cfg.Providers.Fallback,
		"admin":      cfg.Providers.Admin,
		"embeddings": cfg.Providers.Embeddings,
	} {
		if p.Name != "" && p.Model == "" {
			errs = append(errs, fmt.Errorf("providers.%s.model is required when a provider name is set", role))
		}
		if p.TimeoutMS < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout_ms must not be negative", role))
		}
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("providers.embeddings requires storage.postgres_dsn"))
	}

	if cfg.Routing.Tier3Enabled && !cfg.Providers.Fallback.Configured() {
		errs = append(errs, errors.New("routing.tier3_enabled requires providers.fallback"))
	}
	if cfg.Routing.PriceInPer1K < 0 || cfg.Routing.PriceOutPer1K < 0 {
		errs = append(errs, errors.New("routing token prices must not be negative"))
	}
	if cfg.Routing.EstimatedCallCost < 0 {
		errs = append(errs, errors.New("routing.estimated_call_cost must not be negative"))
	}
	if cfg.Calls.InactivityTTLMinutes < 0 {
		errs = append(errs, errors.New("calls.inactivity_ttl_minutes must not be negative"))
	}

	return errors.Join(errs...)
}

// ApplyEnv overlays the environment controls onto cfg:
//
//	ENABLE_3_TIER_INTELLIGENCE / TIER_3_ENABLED:       global Tier-3 switch
//	DIALOGUE_LLM_MODEL, FALLBACK_LLM_MODEL:            model overrides
//	DIALOGUE_LLM_TIMEOUT_MS, FALLBACK_LLM_TIMEOUT_MS:  timeout overrides
//
// Unset variables leave the config untouched; malformed values are reported.
func ApplyEnv(cfg *Config) error {
	var errs []error

	for _, key := range []string{"ENABLE_3_TIER_INTELLIGENCE", "TIER_3_ENABLED"} {
		if v, ok := os.LookupEnv(key); ok {
			b, err := parseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				continue
			}
			cfg.Routing.Tier3Enabled = b
		}
	}

	if v := os.Getenv("DIALOGUE_LLM_MODEL"); v != "" {
		cfg.Providers.Dialogue.Model = v
	}
	if v := os.Getenv("FALLBACK_LLM_MODEL"); v != "" {
		cfg.Providers.Fallback.Model = v
	}

	if v := os.Getenv("DIALOGUE_LLM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("config: DIALOGUE_LLM_TIMEOUT_MS %q is not a non-negative integer", v))
		} else {
			cfg.Providers.Dialogue.TimeoutMS = ms
		}
	}
	if v := os.Getenv("FALLBACK_LLM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("config: FALLBACK_LLM_TIMEOUT_MS %q is not a non-negative integer", v))
		} else {
			cfg.Providers.Fallback.TimeoutMS = ms
		}
	}

	return errors.Join(errs...)
}

// parseBool accepts the usual boolean spellings plus "enabled"/"disabled".
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", v)
}
