package config

import (
	"strings"
	"testing"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  dialogue:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    timeout_ms: 4000
  fallback:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    timeout_ms: 5000
routing:
  tier3_enabled: true
  price_in_per_1k: 0.01
calls:
  inactivity_ttl_minutes: 45
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Providers.Dialogue.Configured() || cfg.Providers.Dialogue.TimeoutMS != 4000 {
		t.Errorf("dialogue provider = %+v", cfg.Providers.Dialogue)
	}
	if !cfg.Routing.Tier3Enabled {
		t.Error("Tier3Enabled = false")
	}
	if cfg.Routing.PriceInPer1K != 0.01 {
		t.Errorf("PriceInPer1K = %v, want the configured value kept", cfg.Routing.PriceInPer1K)
	}
	if cfg.Routing.PriceOutPer1K != DefaultPriceOutPer1K {
		t.Errorf("PriceOutPer1K = %v, want the default filled in", cfg.Routing.PriceOutPer1K)
	}
	if cfg.Calls.InactivityTTLMinutes != 45 {
		t.Errorf("InactivityTTLMinutes = %d, want 45", cfg.Calls.InactivityTTLMinutes)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader("server: {}\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Routing.PriceInPer1K != DefaultPriceInPer1K || cfg.Routing.PriceOutPer1K != DefaultPriceOutPer1K {
		t.Errorf("prices = (%v, %v), want defaults", cfg.Routing.PriceInPer1K, cfg.Routing.PriceOutPer1K)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	if _, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n")); err == nil {
		t.Error("misspelled key accepted, want a decode error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"bad log level",
			func(c *Config) { c.Server.LogLevel = "verbose" },
			"log_level",
		},
		{
			"provider name without model",
			func(c *Config) { c.Providers.Dialogue = ProviderEntry{Name: "openai"} },
			"model is required",
		},
		{
			"negative timeout",
			func(c *Config) { c.Providers.Admin = ProviderEntry{Name: "openai", Model: "gpt-4o", TimeoutMS: -1} },
			"timeout_ms",
		},
		{
			"tier3 without fallback provider",
			func(c *Config) { c.Routing.Tier3Enabled = true },
			"requires providers.fallback",
		},
		{
			"embeddings without postgres",
			func(c *Config) {
				c.Providers.Embeddings = ProviderEntry{Name: "openai", Model: "text-embedding-3-small"}
			},
			"requires storage.postgres_dsn",
		},
		{
			"negative price",
			func(c *Config) { c.Routing.PriceInPer1K = -0.01 },
			"must not be negative",
		},
		{
			"negative call cost estimate",
			func(c *Config) { c.Routing.EstimatedCallCost = -0.5 },
			"estimated_call_cost",
		},
		{
			"negative ttl",
			func(c *Config) { c.Calls.InactivityTTLMinutes = -5 },
			"inactivity_ttl_minutes",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}

	cfg := &Config{}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(defaults) = %v, want nil", err)
	}
}

func TestApplyEnv_Tier3Switch(t *testing.T) {
	for _, tc := range []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"yes", true}, {"on", true}, {"enabled", true},
		{"0", false}, {"false", false}, {"off", false}, {"disabled", false},
	} {
		t.Setenv("ENABLE_3_TIER_INTELLIGENCE", tc.value)
		cfg := &Config{}
		cfg.Providers.Fallback = ProviderEntry{Name: "openai", Model: "gpt-4o-mini"}
		if err := ApplyEnv(cfg); err != nil {
			t.Fatalf("ApplyEnv(%q): %v", tc.value, err)
		}
		if cfg.Routing.Tier3Enabled != tc.want {
			t.Errorf("ApplyEnv(%q): Tier3Enabled = %v, want %v", tc.value, cfg.Routing.Tier3Enabled, tc.want)
		}
	}

	t.Setenv("ENABLE_3_TIER_INTELLIGENCE", "maybe")
	if err := ApplyEnv(&Config{}); err == nil {
		t.Error("malformed boolean accepted")
	}
}

func TestApplyEnv_ModelAndTimeoutOverrides(t *testing.T) {
	t.Setenv("DIALOGUE_LLM_MODEL", "gpt-4o")
	t.Setenv("FALLBACK_LLM_MODEL", "gpt-4o-mini")
	t.Setenv("DIALOGUE_LLM_TIMEOUT_MS", "2500")
	t.Setenv("FALLBACK_LLM_TIMEOUT_MS", "6000")

	cfg := &Config{}
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Providers.Dialogue.Model != "gpt-4o" || cfg.Providers.Dialogue.TimeoutMS != 2500 {
		t.Errorf("dialogue = %+v", cfg.Providers.Dialogue)
	}
	if cfg.Providers.Fallback.Model != "gpt-4o-mini" || cfg.Providers.Fallback.TimeoutMS != 6000 {
		t.Errorf("fallback = %+v", cfg.Providers.Fallback)
	}

	t.Setenv("DIALOGUE_LLM_TIMEOUT_MS", "-100")
	if err := ApplyEnv(&Config{}); err == nil {
		t.Error("negative timeout accepted")
	}
}
