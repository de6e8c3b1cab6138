// Package config provides the configuration schema and loader for the
// FrontDesk routing engine.
package config

// LogLevel controls log verbosity for the FrontDesk server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file with [Load] and then overlaid with [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Routing   RoutingConfig   `yaml:"routing"`
	Calls     CallsConfig     `yaml:"calls"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the LLM provider per gateway role.
type ProvidersConfig struct {
	// Dialogue is the frontline conversational model.
	Dialogue ProviderEntry `yaml:"dialogue"`

	// Fallback is the Tier-3 scenario classifier.
	Fallback ProviderEntry `yaml:"fallback"`

	// Admin is the offline knowledge-curation model. Never on the hot path.
	Admin ProviderEntry `yaml:"admin"`

	// Embeddings powers the pgvector-backed Tier-2 matcher. Requires
	// storage.postgres_dsn; unset falls back to the in-process matcher.
	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry configures one LLM provider role.
type ProviderEntry struct {
	// Name selects the backend: "openai" or any name supported by the
	// any-llm multi-provider backend ("anthropic", "ollama", "gemini", ...).
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model is the model identifier (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// TimeoutMS is the role timeout in milliseconds. Zero selects the
	// gateway's role default.
	TimeoutMS int `yaml:"timeout_ms"`
}

// Configured reports whether the entry selects a provider.
func (p ProviderEntry) Configured() bool {
	return p.Name != "" && p.Model != ""
}

// StorageConfig holds the document store and cache backends.
type StorageConfig struct {
	// PostgresDSN is the tenant document store connection string. Empty runs
	// the in-memory store (development only).
	PostgresDSN string `yaml:"postgres_dsn"`

	// RedisAddr is the cache backend address. Empty degrades the cache layer
	// to pass-through.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// RoutingConfig holds process-wide routing knobs.
type RoutingConfig struct {
	// Tier3Enabled is the global Tier-3 switch. The
	// ENABLE_3_TIER_INTELLIGENCE / TIER_3_ENABLED env vars override it.
	Tier3Enabled bool `yaml:"tier3_enabled"`

	// PriceInPer1K and PriceOutPer1K convert LLM token usage to dollars for
	// the budget ledger. Model-specific; config-driven on purpose.
	PriceInPer1K  float64 `yaml:"price_in_per_1k"`
	PriceOutPer1K float64 `yaml:"price_out_per_1k"`

	// EstimatedCallCost is the pre-call Tier-3 budget check amount, in
	// dollars. Zero selects the built-in default.
	EstimatedCallCost float64 `yaml:"estimated_call_cost"`
}

// CallsConfig tunes call-state lifecycle.
type CallsConfig struct {
	// InactivityTTLMinutes is how long an idle call state survives.
	// Zero selects the built-in default.
	InactivityTTLMinutes int `yaml:"inactivity_ttl_minutes"`
}

// Default per-1k token prices applied when the config leaves them unset.
const (
	DefaultPriceInPer1K  = 0.03
	DefaultPriceOutPer1K = 0.06
)
