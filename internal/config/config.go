package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Dossier server.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Embedding EmbeddingConfig
	WebSearch WebSearchConfig
	Runner    RunnerConfig
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string for the pgvector-backed
	// retrieval store. Empty means the embedded in-memory store is used.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeyHeader string
	APIKey       string
}

type EmbeddingConfig struct {
	// Provider is "openai" or "ollama".
	Provider string
	Model    string
	APIKey   string
	Endpoint string
}

type WebSearchConfig struct {
	// Endpoint is a SearxNG-compatible JSON search API. Empty disables
	// web search regardless of agent capability flags.
	Endpoint string
}

type RunnerConfig struct {
	// EagerFetchFallback controls whether a tool-catalog failure falls
	// back to fetching from every configured data source upfront. On by
	// default to match historical behavior; operators who consider the
	// upfront fetch an over-fetch can disable it.
	EagerFetchFallback bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DOSSIER_PORT", 8080),
		Version: envStr("DOSSIER_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "dossier"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "X-API-Key"),
			APIKey:       envStr("DOSSIER_API_KEY", ""),
		},
		Embedding: EmbeddingConfig{
			Provider: envStr("EMBEDDING_PROVIDER", "openai"),
			Model:    envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
			APIKey:   envStr("OPENAI_API_KEY", ""),
			Endpoint: envStr("EMBEDDING_ENDPOINT", ""),
		},
		WebSearch: WebSearchConfig{
			Endpoint: envStr("WEBSEARCH_ENDPOINT", ""),
		},
		Runner: RunnerConfig{
			EagerFetchFallback: envBool("RUNNER_EAGER_FETCH_FALLBACK", true),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
