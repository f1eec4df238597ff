// Package config loads Kestrel configuration from a YAML file, a .env file
// and KESTREL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Environment variables recognized by Apply.
const (
	EnvTier        = "KESTREL_TIER"
	EnvDebug       = "KESTREL_DEBUG"
	EnvDBDriver    = "KESTREL_DB_DRIVER"
	EnvDBPath      = "KESTREL_DB_PATH"
	EnvPGHost      = "KESTREL_POSTGRES_HOST"
	EnvPGPort      = "KESTREL_POSTGRES_PORT"
	EnvPGUser      = "KESTREL_POSTGRES_USER"
	EnvPGPassword  = "KESTREL_POSTGRES_PASSWORD"
	EnvPGDatabase  = "KESTREL_POSTGRES_DB"
	EnvPGSSLMode   = "KESTREL_POSTGRES_SSLMODE"
	EnvRedisAddr   = "KESTREL_REDIS_ADDR"
	EnvNATSUrl     = "KESTREL_NATS_URL"
	EnvHTTPPort    = "KESTREL_HTTP_PORT"
	EnvCompanies   = "KESTREL_COMPANIES"
	EnvAsyncWorker = "KESTREL_ASYNC_WORKER"
)

// Load builds the configuration. A missing .env file is not an error; a
// missing config file is, when path is set.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Base(os.Getenv(EnvTier))

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := Apply(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Base returns the tier defaults.
func Base(tier string) *domain.Config {
	if domain.Tier(tier) == domain.TierPro {
		return domain.ProConfig()
	}
	return domain.DefaultConfig()
}

// Apply overlays environment overrides read through getenv.
func Apply(cfg *domain.Config, getenv func(string) string) error {
	if v := getenv(EnvTier); v != "" {
		cfg.Tier = domain.Tier(v)
	}
	if getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}

	if v := getenv(EnvDBDriver); v != "" {
		cfg.Repository.Driver = v
	}
	if v := getenv(EnvDBPath); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := getenv(EnvPGHost); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := getenv(EnvPGUser); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := getenv(EnvPGPassword); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := getenv(EnvPGDatabase); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := getenv(EnvPGSSLMode); v != "" {
		cfg.Repository.PostgresSSLMode = v
	}
	if err := setInt(getenv, EnvPGPort, &cfg.Repository.PostgresPort); err != nil {
		return err
	}

	if v := getenv(EnvRedisAddr); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := getenv(EnvNATSUrl); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}

	if err := setInt(getenv, EnvHTTPPort, &cfg.Server.Port); err != nil {
		return err
	}

	if v := getenv(EnvCompanies); v != "" {
		cfg.Worker.CompanyIDs = splitList(v)
	}
	if getenv(EnvAsyncWorker) == "true" {
		cfg.Worker.Enabled = true
	}

	return nil
}

// Validate rejects configurations the components cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("%w: unknown tier %q", domain.ErrValidation, cfg.Tier)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", domain.ErrValidation, cfg.Repository.Driver)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", domain.ErrValidation, cfg.Server.Port)
	}
	if cfg.Detection.MaxConcurrency < 0 {
		return fmt.Errorf("%w: maxConcurrency must not be negative", domain.ErrValidation)
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func setInt(getenv func(string) string, key string, dst *int) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrValidation, key, v)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
