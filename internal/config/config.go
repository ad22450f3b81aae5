// Package config loads the service settings from the environment (and an
// optional .env file) and holds the fixed timing constants.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
)

// Config holds everything main needs to wire the service.
type Config struct {
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	NatsURL       string `mapstructure:"NATS_URL"`
	VaultPath     string `mapstructure:"VAULT_PATH"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	Language      string `mapstructure:"LANGUAGE"`

	DefaultCalculatorCode string `mapstructure:"DEFAULT_CALCULATOR_CODE"`
	DefaultUserACode      string `mapstructure:"DEFAULT_USER_A_CODE"`

	MaxUploadBytes int64 `mapstructure:"MAX_UPLOAD_BYTES"`
}

var defaults = map[string]string{
	"HTTP_ADDR":               ":8080",
	"DATABASE_URL":            "host=localhost user=user password=password dbname=calcchatdb port=5432 sslmode=disable",
	"REDIS_ADDR":              "localhost:6380",
	"REDIS_DB":                "0",
	"NATS_URL":                "nats://127.0.0.1:4222",
	"VAULT_PATH":              "vault.db",
	"PUBLIC_BASE_URL":         "http://localhost:8080",
	"LANGUAGE":                "en",
	"DEFAULT_CALCULATOR_CODE": "500",
	"DEFAULT_USER_A_CODE":     "423",
	"MAX_UPLOAD_BYTES":        "52428800",
}

// Load reads .env (if present) and the process environment on top of the
// defaults. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return FromMap(env)
}

// FromMap decodes a flat key/value map over the defaults.
func FromMap(values map[string]string) (*Config, error) {
	merged := make(map[string]string, len(defaults)+len(values))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range values {
		if v != "" {
			merged[k] = v
		}
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(merged); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &cfg, nil
}
