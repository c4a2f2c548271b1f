/*
Package config loads the leave engine's runtime configuration.

PURPOSE:
  One Config value drives cmd/server and cmd/migrate: which store to open,
  how the services are tuned, whether the year-end scheduler runs, and how
  logs are written.

LOAD ORDER (later wins):
  1. Default()
  2. YAML file, when a path is given
  3. .env file in the working directory, when present
  4. LEAVE_* environment variables
  5. Validate()

  Command-line flags in cmd/server override the loaded value last.

ENVIRONMENT:
  LEAVE_PORT, LEAVE_ALLOWED_ORIGINS (comma separated)
  LEAVE_DB_DRIVER (sqlite|postgres), LEAVE_SQLITE_PATH
  LEAVE_DB_HOST, LEAVE_DB_PORT, LEAVE_DB_USER, LEAVE_DB_PASSWORD,
  LEAVE_DB_NAME, LEAVE_DB_SSLMODE, LEAVE_DB_MAX_CONNS
  LEAVE_MIN_DAYS_NOTICE, LEAVE_MAX_RETRIES
  LEAVE_CARRYOVER_PARALLELISM, LEAVE_CARRYOVER_ACTOR
  LEAVE_ELIGIBLE_TYPES (comma separated)
  LEAVE_SCHEDULER_ENABLED, LEAVE_SCHEDULER_INTERVAL, LEAVE_COMPANY_ID
  LEAVE_SEED_CATALOG, LEAVE_LOG_LEVEL, LEAVE_LOG_FORMAT

SEE ALSO:
  - cmd/server/main.go: Wiring from Config
  - config.example.yaml: Annotated file format
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/leave-engine/leave"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Validation ValidationConfig `yaml:"validation"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	CarryOver  CarryOverConfig  `yaml:"carry_over"`
	Directory  DirectoryConfig  `yaml:"directory"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Seed       SeedConfig       `yaml:"seed"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DSN is the postgres connection string used by pgx and golang-migrate.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ValidationConfig struct {
	MinDaysNotice int `yaml:"min_days_notice"`
}

type LedgerConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

type CarryOverConfig struct {
	Parallelism    int    `yaml:"parallelism"`
	MaxParallelism int    `yaml:"max_parallelism"`
	Actor          string `yaml:"actor"`
}

type DirectoryConfig struct {
	EligibleTypes []string `yaml:"eligible_types"`
}

// Eligibility converts the configured employment types.
func (d DirectoryConfig) Eligibility() leave.Eligibility {
	out := make(leave.Eligibility, len(d.EligibleTypes))
	for i, t := range d.EligibleTypes {
		out[i] = leave.EmploymentType(t)
	}
	return out
}

type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	CompanyID     string        `yaml:"company_id"`
}

type SeedConfig struct {
	CatalogPath string `yaml:"catalog_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration that runs a local SQLite server.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver:     DriverSQLite,
			SQLitePath: "leave.db",
			Host:       "localhost",
			Port:       5432,
			SSLMode:    "disable",
			MaxConns:   10,
		},
		Validation: ValidationConfig{MinDaysNotice: leave.DefaultMinDaysNotice},
		Ledger:     LedgerConfig{MaxRetries: leave.DefaultMaxRetries},
		CarryOver:  CarryOverConfig{Parallelism: 4, MaxParallelism: leave.DefaultMaxParallelism, Actor: leave.DefaultCarryOverActor},
		Directory: DirectoryConfig{
			EligibleTypes: []string{string(leave.EmploymentFullTime), string(leave.EmploymentPartTime)},
		},
		Scheduler: SchedulerConfig{Enabled: true, CheckInterval: time.Hour},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, an
// optional .env file and LEAVE_* variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv exports the file's variables without overriding ones already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("LEAVE_PORT", c.Server.Port)
	c.Server.AllowedOrigins = getEnvList("LEAVE_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	db := &c.Database
	db.Driver = getEnv("LEAVE_DB_DRIVER", db.Driver)
	db.SQLitePath = getEnv("LEAVE_SQLITE_PATH", db.SQLitePath)
	db.Host = getEnv("LEAVE_DB_HOST", db.Host)
	db.Port = getEnvInt("LEAVE_DB_PORT", db.Port)
	db.User = getEnv("LEAVE_DB_USER", db.User)
	db.Password = getEnv("LEAVE_DB_PASSWORD", db.Password)
	db.Name = getEnv("LEAVE_DB_NAME", db.Name)
	db.SSLMode = getEnv("LEAVE_DB_SSLMODE", db.SSLMode)
	db.MaxConns = getEnvInt("LEAVE_DB_MAX_CONNS", db.MaxConns)

	c.Validation.MinDaysNotice = getEnvInt("LEAVE_MIN_DAYS_NOTICE", c.Validation.MinDaysNotice)
	c.Ledger.MaxRetries = getEnvInt("LEAVE_MAX_RETRIES", c.Ledger.MaxRetries)
	c.CarryOver.Parallelism = getEnvInt("LEAVE_CARRYOVER_PARALLELISM", c.CarryOver.Parallelism)
	c.CarryOver.MaxParallelism = getEnvInt("LEAVE_CARRYOVER_MAX_PARALLELISM", c.CarryOver.MaxParallelism)
	c.CarryOver.Actor = getEnv("LEAVE_CARRYOVER_ACTOR", c.CarryOver.Actor)
	c.Directory.EligibleTypes = getEnvList("LEAVE_ELIGIBLE_TYPES", c.Directory.EligibleTypes)

	c.Scheduler.Enabled = getEnvBool("LEAVE_SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.CheckInterval = getEnvDuration("LEAVE_SCHEDULER_INTERVAL", c.Scheduler.CheckInterval)
	c.Scheduler.CompanyID = getEnv("LEAVE_COMPANY_ID", c.Scheduler.CompanyID)

	c.Seed.CatalogPath = getEnv("LEAVE_SEED_CATALOG", c.Seed.CatalogPath)
	c.Log.Level = getEnv("LEAVE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LEAVE_LOG_FORMAT", c.Log.Format)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return fmt.Errorf("config: database.sqlite_path must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("config: database.host, user and name must be set for the postgres driver")
		}
		if c.Database.Port <= 0 {
			return fmt.Errorf("config: database.port must be set")
		}
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}

	if c.Validation.MinDaysNotice < 0 {
		return fmt.Errorf("config: validation.min_days_notice must not be negative")
	}
	if c.Ledger.MaxRetries < 1 {
		return fmt.Errorf("config: ledger.max_retries must be at least 1")
	}
	if c.CarryOver.Parallelism < 1 {
		return fmt.Errorf("config: carry_over.parallelism must be at least 1")
	}
	if c.CarryOver.MaxParallelism < c.CarryOver.Parallelism {
		return fmt.Errorf("config: carry_over.max_parallelism must be at least carry_over.parallelism")
	}
	for _, t := range c.Directory.EligibleTypes {
		switch leave.EmploymentType(t) {
		case leave.EmploymentFullTime, leave.EmploymentPartTime, leave.EmploymentContractor, leave.EmploymentIntern:
		default:
			return fmt.Errorf("config: unknown employment type %q in directory.eligible_types", t)
		}
	}
	if c.Scheduler.Enabled && c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("config: scheduler.check_interval must be positive when the scheduler is enabled")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unsupported log.format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds the root logger. Call after Validate.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
