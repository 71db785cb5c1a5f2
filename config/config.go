// Package config loads process settings from a YAML file, a .env file and
// SENTIMATRIX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/JohnPlummer/sentimatrix/scorer"
)

const (
	EnvPrefix = "SENTIMATRIX_"

	maxConfigFileSize = 1024 * 1024
)

// Settings is the full process configuration
type Settings struct {
	Groq    GroqSettings    `koanf:"groq"`
	Redis   RedisSettings   `koanf:"redis"`
	MongoDB MongoDBSettings `koanf:"mongodb"`
	Server  ServerSettings  `koanf:"server"`
	Email   EmailSettings   `koanf:"email"`
	Log     LogSettings     `koanf:"log"`
}

// GroqSettings configures the sentiment API and the scoring pipeline
type GroqSettings struct {
	APIKeys             []string      `koanf:"api_keys"`
	BaseURL             string        `koanf:"base_url"`
	Model               string        `koanf:"model"`
	MaxParallelRequests int           `koanf:"max_parallel_requests"`
	RequestsPerSecond   float64       `koanf:"requests_per_second"`
	Timeout             time.Duration `koanf:"timeout"`
	Dedup               bool          `koanf:"dedup"`
	CircuitBreaker      bool          `koanf:"circuit_breaker"`
	Retry               bool          `koanf:"retry"`
	Metrics             bool          `koanf:"metrics"`
}

// RedisSettings configures the score cache. With Enabled false scores are
// cached in process memory.
type RedisSettings struct {
	Enabled                  bool   `koanf:"enabled"`
	Addr                     string `koanf:"addr"`
	Password                 string `koanf:"password"`
	DB                       int    `koanf:"db"`
	KeyPrefix                string `koanf:"key_prefix"`
	DefaultExpirationMinutes int    `koanf:"default_expiration_minutes"`
}

// TTL is the lifetime of cached scores
func (r RedisSettings) TTL() time.Duration {
	return time.Duration(r.DefaultExpirationMinutes) * time.Minute
}

// MongoDBSettings configures the email store. An empty ConnectionString keeps
// emails in memory.
type MongoDBSettings struct {
	ConnectionString     string `koanf:"connection_string"`
	DatabaseName         string `koanf:"database_name"`
	EmailsCollectionName string `koanf:"emails_collection_name"`
}

type ServerSettings struct {
	Port            int           `koanf:"port"`
	CorsOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr is the listen address
func (s ServerSettings) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// EmailSettings configures inbound email handling
type EmailSettings struct {
	// MaxBodyLength caps inbound bodies in characters; 0 means no cap
	MaxBodyLength int `koanf:"max_body_length"`
}

// IngestValidation returns the body rules applied to inbound emails
func (e EmailSettings) IngestValidation() scorer.ValidationOptions {
	opts := scorer.DefaultValidationOptions()
	opts.MaxLength = e.MaxBodyLength
	return opts
}

type LogSettings struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

// Defaults returns the settings used for anything not configured
func Defaults() Settings {
	return Settings{
		Groq: GroqSettings{
			BaseURL:             scorer.DefaultBaseURL,
			Model:               scorer.DefaultModel,
			MaxParallelRequests: scorer.DefaultMaxParallelRequests,
			Timeout:             30 * time.Second,
			Metrics:             true,
		},
		Redis: RedisSettings{
			Addr:                     "localhost:6379",
			KeyPrefix:                "",
			DefaultExpirationMinutes: 10080,
		},
		MongoDB: MongoDBSettings{
			DatabaseName:         "sentimatrix",
			EmailsCollectionName: "emails",
		},
		Server: ServerSettings{
			Port:            8080,
			CorsOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads settings in increasing precedence: defaults, the YAML file at
// path, then environment variables. Variables in dotenv files are exported to
// the environment first; existing variables win.
//
// Variables map to keys by their first underscore after the prefix:
//
//	SENTIMATRIX_GROQ_API_KEYS=k1,k2   -> groq.api_keys
//	SENTIMATRIX_MONGODB_DATABASE_NAME -> mongodb.database_name
//
// An empty path or a missing file skips the YAML layer.
func Load(path string, dotenv ...string) (Settings, error) {
	if len(dotenv) > 0 {
		if err := godotenv.Load(dotenv...); err != nil {
			slog.Info("Skipping .env", "error", err)
		}
	}

	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Settings{}, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return Settings{}, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Settings{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Groq.APIKeys = cleanList(cfg.Groq.APIKeys)
	cfg.Server.CorsOrigins = cleanList(cfg.Server.CorsOrigins)

	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("Config file not found, using defaults and environment", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps SENTIMATRIX_SECTION_FIELD_NAME to section.field_name
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// listKeys hold comma separated values when set from the environment
var listKeys = map[string]bool{
	"groq.api_keys":       true,
	"server.cors_origins": true,
}

func envValue(key, value string) (string, interface{}) {
	k := envKey(key)
	if listKeys[k] {
		return k, strings.Split(value, ",")
	}
	return k, value
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the settings that do not depend on the scorer's own rules
func (s Settings) Validate() error {
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Server.Port)
	}
	if s.Redis.DefaultExpirationMinutes < 0 {
		return errors.New("redis.default_expiration_minutes must be non-negative")
	}
	if s.Email.MaxBodyLength < 0 {
		return errors.New("email.max_body_length must be non-negative")
	}
	if s.MongoDB.ConnectionString != "" {
		if s.MongoDB.DatabaseName == "" {
			return errors.New("mongodb.database_name is required with a connection string")
		}
		if s.MongoDB.EmailsCollectionName == "" {
			return errors.New("mongodb.emails_collection_name is required with a connection string")
		}
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// ScorerConfig builds the pipeline configuration
func (s Settings) ScorerConfig() scorer.Config {
	cfg := scorer.NewDefaultConfig(s.Groq.APIKeys...).
		WithBaseURL(s.Groq.BaseURL).
		WithModel(s.Groq.Model).
		WithRequestsPerSecond(s.Groq.RequestsPerSecond).
		WithCacheTTL(s.Redis.TTL())

	if s.Groq.MaxParallelRequests > 0 {
		cfg = cfg.WithMaxParallelRequests(s.Groq.MaxParallelRequests)
	} else {
		// Validate reports it
		cfg.MaxParallelRequests = s.Groq.MaxParallelRequests
	}
	if s.Groq.Timeout >= 0 {
		cfg = cfg.WithTimeout(s.Groq.Timeout)
	}
	if s.Groq.Dedup {
		cfg = cfg.WithDedup()
	}
	if s.Groq.CircuitBreaker {
		cfg = cfg.WithCircuitBreaker()
	}
	if s.Groq.Retry {
		cfg = cfg.WithRetry()
	}
	cfg.EnableMetrics = s.Groq.Metrics
	return cfg
}
