// Package config loads process configuration from the environment and the
// economic policy from a YAML document.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	LogFormat   string
	DatabaseURL string // empty selects lite mode (SQLite under DataDir)
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PolicyPath      string
	OperatorIDs     []string
	AuthSigningSeed string

	OTelEnabled  bool
	OTLPEndpoint string
	OTLPInsecure bool

	RateLimitRPS   float64
	RateLimitBurst int
}

// LiteMode reports whether no external database is configured.
func (c *Config) LiteMode() bool {
	return c.DatabaseURL == ""
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:            envOr("PORT", "8080"),
		LogLevel:        strings.ToUpper(envOr("LOG_LEVEL", "INFO")),
		LogFormat:       strings.ToLower(envOr("LOG_FORMAT", "json")),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DataDir:         envOr("DATA_DIR", "data"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		PolicyPath:      os.Getenv("POLICY_PATH"),
		OperatorIDs:     splitList(os.Getenv("OPERATOR_IDS")),
		AuthSigningSeed: os.Getenv("AUTH_SIGNING_SEED"),
		OTelEnabled:     os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:    envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		RateLimitRPS:    envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 40),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
