package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when WEINSTEIN_CONFIG is unset.
const DefaultPath = "config/weinstein.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the weinstein service.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Cache     Cache           `yaml:"cache"`
	Analysis  Analysis        `yaml:"analysis"`
	Gather    GatherConfig    `yaml:"gather"`
	Scheduler Scheduler       `yaml:"scheduler"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// Storage selects the database and archive locations. Driver is "sqlite"
// (SQLitePath) or "postgres" (DSN).
type Storage struct {
	Driver     string `yaml:"driver"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	DSN        string `yaml:"dsn"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	GRPCPort    int      `yaml:"grpc_port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Alpaca holds credentials and endpoints for Alpaca market data.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger. File, when set, receives a
// copy of every log line.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Cache selects where rendered payloads are cached. Backend is "memory" or
// "redis".
type Cache struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   Redis         `yaml:"redis"`
}

// Redis holds connection settings for the redis cache backend.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Analysis tunes the stage engine.
type Analysis struct {
	Classifier     string  `yaml:"classifier"`
	MAPeriod       int     `yaml:"ma_period"`
	Benchmark      string  `yaml:"benchmark"`
	SlopeThreshold float64 `yaml:"slope_threshold"`
	EntryThreshold float64 `yaml:"entry_threshold"`
	PriceBand      float64 `yaml:"price_band"`
	MaxBuyDistance float64 `yaml:"max_buy_distance"`
	Workers        int     `yaml:"workers"`
}

// GatherConfig controls data gathering.
type GatherConfig struct {
	USDaily GatherJobConfig `yaml:"us_daily"`
}

// GatherJobConfig holds parameters for a single data gathering job.
type GatherJobConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Scheduler configures the weekly update job. Spec is a five-field cron
// expression.
type Scheduler struct {
	Enabled  bool   `yaml:"enabled"`
	Spec     string `yaml:"spec"`
	Timezone string `yaml:"timezone"`
}

// BacktestConfig sets stop rules for the backtester.
type BacktestConfig struct {
	InitialStopPct  float64 `yaml:"initial_stop_pct"`
	TrailingStopPct float64 `yaml:"trailing_stop_pct"`
	MaxDays         int     `yaml:"max_days"`
}

// DashboardConfig controls presentation defaults.
type DashboardConfig struct {
	Currency     string `yaml:"currency"`
	DefaultWeeks int    `yaml:"default_weeks"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used for any field the YAML omits.
func Default() *Config {
	return &Config{
		Storage: Storage{Driver: "sqlite", DataDir: "data", SQLitePath: "data/weinstein.db"},
		Server:  Server{Host: "0.0.0.0", Port: 8000, GRPCPort: 9090, CORSOrigins: []string{"*"}},
		Alpaca:  Alpaca{DataURL: "https://data.alpaca.markets", Feed: "iex"},
		Logging: Logging{Level: "info", Format: "json"},
		Cache:   Cache{Backend: "memory", TTL: 5 * time.Minute, Redis: Redis{Addr: "localhost:6379", Prefix: "weinstein:"}},
		Analysis: Analysis{
			Classifier:     "weinstein",
			MAPeriod:       30,
			Benchmark:      "SPY",
			SlopeThreshold: 0.015,
			EntryThreshold: 0.025,
			PriceBand:      0.05,
			MaxBuyDistance: 0.20,
			Workers:        4,
		},
		Gather: GatherConfig{USDaily: GatherJobConfig{
			StartDate: "2020-01-01", BatchSize: 100, MaxWorkers: 2, RateLimitPerMin: 180, MaxRetries: 3,
		}},
		Scheduler: Scheduler{Enabled: true, Spec: "0 6 * * 6", Timezone: "America/New_York"},
		Backtest:  BacktestConfig{InitialStopPct: 8, TrailingStopPct: 15, MaxDays: 400},
		Dashboard: DashboardConfig{Currency: "$", DefaultWeeks: 52},
	}
}

// Path returns the configuration file path from WEINSTEIN_CONFIG, or
// DefaultPath.
func Path() string {
	if v := os.Getenv("WEINSTEIN_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding ones already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at the given path over Default,
// then applies environment variable overrides. A missing file yields the
// defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return errors.New("storage.dsn is required for postgres")
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend)
	}
	if c.Analysis.MAPeriod < 2 {
		return fmt.Errorf("analysis.ma_period must be at least 2, got %d", c.Analysis.MAPeriod)
	}
	return nil
}

// DSN returns the connection string for the configured storage driver.
func (c *Config) DSN() string {
	if c.Storage.Driver == "postgres" {
		return c.Storage.DSN
	}
	return c.Storage.SQLitePath
}

// Addr returns the HTTP listen address.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEINSTEIN_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("WEINSTEIN_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DSN = v
		if strings.HasPrefix(v, "postgres") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := os.Getenv("WEINSTEIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("WEINSTEIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
}
