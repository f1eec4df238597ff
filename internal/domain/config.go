package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings for the operational endpoints
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Detection windows and fan-out
	Detection DetectionConfig `yaml:"detection"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Worker     WorkerConfig     `yaml:"worker"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// DetectionConfig holds the lookback windows of the heuristic detectors.
type DetectionConfig struct {
	GhostMinTenureDays    int `yaml:"ghostMinTenureDays"`
	GhostLookbackDays     int `yaml:"ghostLookbackDays"`
	SplitWindowDays       int `yaml:"splitWindowDays"`
	RoundNumberWindowDays int `yaml:"roundNumberWindowDays"`

	// MaxConcurrency bounds the comprehensive-run fan-out
	MaxConcurrency int `yaml:"maxConcurrency"`
}

// WorkerConfig holds async scan worker settings.
type WorkerConfig struct {
	Enabled    bool     `yaml:"enabled"`
	CompanyIDs []string `yaml:"companyIds"`

	// Throttle: at most MaxScansPerWindow scans per company per window
	MaxScansPerWindow int `yaml:"maxScansPerWindow"`
	ThrottleWindow    int `yaml:"throttleWindow"` // seconds

	// LockTTL is how long a company scan lock is held before expiring
	LockTTL int `yaml:"lockTtl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultDetectionConfig returns the standard detector windows.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		GhostMinTenureDays:    30,
		GhostLookbackDays:     90,
		SplitWindowDays:       30,
		RoundNumberWindowDays: 30,
		MaxConcurrency:        9,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:      TierCommunity,
		Detection: DefaultDetectionConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			DashboardTTL: time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:           false,
			MaxScansPerWindow: 1,
			ThrottleWindow:    300,
			LockTTL:           600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		DashboardTTL:   time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
