package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DialectMemory   = "memory"
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type APIConfig struct {
	Addr       string   `yaml:"addr"`
	DB         DBConfig `yaml:"db"`
	AdminToken string   `yaml:"admin_token"`
	// AdminTokenHash is a bcrypt hash accepted in place of AdminToken.
	AdminTokenHash string     `yaml:"admin_token_hash"`
	NATS           NATSConfig `yaml:"nats"`
	LogLevel       string     `yaml:"log_level"`
	SeedProjects   bool       `yaml:"seed_projects"`
	RandSeed       int64      `yaml:"rand_seed"`
}

type DBConfig struct {
	Dialect     string       `yaml:"dialect"`
	SQLitePath  string       `yaml:"sqlite_path"`
	DatabaseURL string       `yaml:"database_url"`
	Pool        PostgresPool `yaml:"pool"`
}

// PostgresPool tunes the pgx pool. Round commits are short serializable
// transactions, so the defaults stay small.
type PostgresPool struct {
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type WorkerConfig struct {
	APIConfig    `yaml:",inline"`
	AdvanceEvery time.Duration `yaml:"advance_every"`
	RunOnce      bool          `yaml:"run_once"`
}

type CLIConfig struct {
	APIBaseURL string
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		Addr: ":8080",
		DB: DBConfig{
			Dialect:    DialectSQLite,
			SQLitePath: "lawfirm.db",
			Pool: PostgresPool{
				MaxConns:         10,
				MinConns:         1,
				MaxConnLifetime:  30 * time.Minute,
				MaxConnIdleTime:  10 * time.Minute,
				StatementTimeout: 15 * time.Second,
			},
		},
		NATS:         NATSConfig{Subject: "lawfirm.events"},
		LogLevel:     "info",
		SeedProjects: true,
	}
}

// LoadAPIFromEnv reads the optional YAML file named by LAWFIRM_CONFIG_PATH and
// then applies environment overrides.
func LoadAPIFromEnv() (APIConfig, error) {
	cfg := defaultAPIConfig()
	if path := strings.TrimSpace(os.Getenv("LAWFIRM_CONFIG_PATH")); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyAPIEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{APIConfig: defaultAPIConfig(), AdvanceEvery: 30 * time.Second}
	if path := strings.TrimSpace(os.Getenv("LAWFIRM_CONFIG_PATH")); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyAPIEnv(&cfg.APIConfig); err != nil {
		return cfg, err
	}
	cfg.AdvanceEvery = envDurationDefault("LAWFIRM_AUTO_ADVANCE_EVERY", cfg.AdvanceEvery)
	cfg.RunOnce = envBoolDefault("LAWFIRM_WORKER_RUN_ONCE", cfg.RunOnce)
	if cfg.AdvanceEvery <= 0 {
		return cfg, fmt.Errorf("LAWFIRM_AUTO_ADVANCE_EVERY must be positive")
	}
	return cfg, cfg.validate()
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("LAWFIRM_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

// SlogLevel maps the configured level name, defaulting to info.
func (c APIConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyAPIEnv(cfg *APIConfig) error {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	} else {
		cfg.Addr = envDefault("LAWFIRM_API_ADDR", cfg.Addr)
	}
	cfg.DB.Dialect = strings.ToLower(envDefault("LAWFIRM_DB_DIALECT", cfg.DB.Dialect))
	cfg.DB.SQLitePath = envDefault("LAWFIRM_SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.DatabaseURL = envDefault("DATABASE_URL", cfg.DB.DatabaseURL)
	maxConns, err := envInt32("LAWFIRM_PG_MAX_CONNS", cfg.DB.Pool.MaxConns)
	if err != nil {
		return err
	}
	minConns, err := envInt32("LAWFIRM_PG_MIN_CONNS", cfg.DB.Pool.MinConns)
	if err != nil {
		return err
	}
	cfg.DB.Pool.MaxConns, cfg.DB.Pool.MinConns = maxConns, minConns
	cfg.DB.Pool.MaxConnLifetime = envDurationDefault("LAWFIRM_PG_MAX_CONN_LIFETIME", cfg.DB.Pool.MaxConnLifetime)
	cfg.DB.Pool.MaxConnIdleTime = envDurationDefault("LAWFIRM_PG_MAX_CONN_IDLE_TIME", cfg.DB.Pool.MaxConnIdleTime)
	cfg.DB.Pool.StatementTimeout = envDurationDefault("LAWFIRM_PG_STATEMENT_TIMEOUT", cfg.DB.Pool.StatementTimeout)
	cfg.AdminToken = envDefault("LAWFIRM_ADMIN_TOKEN", cfg.AdminToken)
	cfg.AdminTokenHash = envDefault("LAWFIRM_ADMIN_TOKEN_HASH", cfg.AdminTokenHash)
	cfg.NATS.URL = envDefault("LAWFIRM_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = envDefault("LAWFIRM_NATS_SUBJECT", cfg.NATS.Subject)
	cfg.LogLevel = envDefault("LAWFIRM_LOG_LEVEL", cfg.LogLevel)
	cfg.SeedProjects = envBoolDefault("LAWFIRM_SEED_PROJECTS", cfg.SeedProjects)
	if raw := strings.TrimSpace(os.Getenv("LAWFIRM_RAND_SEED")); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LAWFIRM_RAND_SEED: %w", err)
		}
		cfg.RandSeed = seed
	}
	return nil
}

func (c APIConfig) validate() error {
	switch c.DB.Dialect {
	case DialectMemory:
	case DialectSQLite:
		if c.DB.SQLitePath == "" {
			return fmt.Errorf("LAWFIRM_SQLITE_PATH is required for the sqlite dialect")
		}
	case DialectPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres dialect")
		}
		if err := c.DB.Pool.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown LAWFIRM_DB_DIALECT %q", c.DB.Dialect)
	}
	if c.AdminToken == "" && c.AdminTokenHash == "" && c.DB.Dialect != DialectMemory {
		return fmt.Errorf("LAWFIRM_ADMIN_TOKEN or LAWFIRM_ADMIN_TOKEN_HASH is required")
	}
	return nil
}

func (p PostgresPool) validate() error {
	if p.MaxConns <= 0 {
		return fmt.Errorf("LAWFIRM_PG_MAX_CONNS must be positive")
	}
	if p.MinConns < 0 || p.MinConns > p.MaxConns {
		return fmt.Errorf("LAWFIRM_PG_MIN_CONNS must be between 0 and %d", p.MaxConns)
	}
	if p.StatementTimeout < 0 {
		return fmt.Errorf("LAWFIRM_PG_STATEMENT_TIMEOUT must not be negative")
	}
	return nil
}

func loadFromFile(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt32(key string, fallback int32) (int32, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return int32(n), nil
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
