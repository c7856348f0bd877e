package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Precedence: explicit flags >
// environment > YAML file > defaults; a .env file, when present, feeds the
// environment before it is read.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`

	Lanes      int `yaml:"lanes"`
	QueueDepth int `yaml:"queue_depth"`
	BatchSize  int `yaml:"batch_size"`
	CacheSize  int `yaml:"cache_size"`

	Blocking BlockingConfig `yaml:"blocking"`
	Runner   RunnerConfig   `yaml:"runner"`
	Reload   ReloadConfig   `yaml:"reload"`
	Socket   SocketConfig   `yaml:"socket"`

	Processes int `yaml:"processes"`
	MaxConns  int `yaml:"max_conns"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	HealthPrefix string `yaml:"health_prefix"`
	LogLevel     string `yaml:"log_level"`
	Env          string `yaml:"env"`
}

// BlockingConfig sizes the blocking executor.
type BlockingConfig struct {
	Threads    int `yaml:"threads"`
	QueueDepth int `yaml:"queue_depth"`
}

// RunnerConfig sizes the elastic runner.
type RunnerConfig struct {
	Baseline    int           `yaml:"baseline"`
	MaxExtra    int           `yaml:"max_extra"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ReloadConfig controls drain and hot-reload behaviour.
type ReloadConfig struct {
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
	StartupGrace  time.Duration `yaml:"startup_grace"`
	AbandonPolicy string        `yaml:"abandon_policy"`
	Watch         []string      `yaml:"watch"`
	Debounce      time.Duration `yaml:"debounce"`
}

// SocketConfig toggles listener tuning.
type SocketConfig struct {
	ReusePort   bool          `yaml:"reuse_port"`
	FastOpen    bool          `yaml:"fast_open"`
	NoDelay     bool          `yaml:"no_delay"`
	KeepAlive   time.Duration `yaml:"keep_alive"`
	ReadBuffer  int           `yaml:"read_buffer"`
	WriteBuffer int           `yaml:"write_buffer"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Host:        "0.0.0.0",
		Port:        8080,
		MetricsAddr: "",

		Lanes:      0, // GOMAXPROCS
		QueueDepth: 256,
		BatchSize:  32,
		CacheSize:  1024,

		Blocking: BlockingConfig{Threads: 0, QueueDepth: 0},
		Runner:   RunnerConfig{Baseline: 2, MaxExtra: 8, IdleTimeout: 5 * time.Second},
		Reload: ReloadConfig{
			DrainTimeout:  30 * time.Second,
			StartupGrace:  0,
			AbandonPolicy: "reset",
			Debounce:      500 * time.Millisecond,
		},
		Socket: SocketConfig{
			ReusePort:   true,
			FastOpen:    true,
			NoDelay:     true,
			KeepAlive:   60 * time.Second,
			ReadBuffer:  256 * 1024,
			WriteBuffer: 256 * 1024,
		},

		Processes: 1,
		MaxConns:  0,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,

		HealthPrefix: "/_health",
		LogLevel:     "info",
		Env:          "development",
	}
}

// Load builds the config: defaults, then the YAML file at path (optional),
// then environment variables. A .env file in the working directory is loaded
// first, without overriding variables already set.
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("HYPERSERVE_HOST", &c.Host)
	envInt("HYPERSERVE_PORT", &c.Port)
	envStr("HYPERSERVE_METRICS_ADDR", &c.MetricsAddr)
	envInt("HYPERSERVE_LANES", &c.Lanes)
	envInt("HYPERSERVE_QUEUE_DEPTH", &c.QueueDepth)
	envInt("HYPERSERVE_BATCH_SIZE", &c.BatchSize)
	envInt("HYPERSERVE_CACHE_SIZE", &c.CacheSize)
	envInt("HYPERSERVE_PROCESSES", &c.Processes)
	envInt("HYPERSERVE_MAX_CONNS", &c.MaxConns)
	envDur("HYPERSERVE_DRAIN_TIMEOUT", &c.Reload.DrainTimeout)
	envStr("HYPERSERVE_ABANDON_POLICY", &c.Reload.AbandonPolicy)
	envStr("HYPERSERVE_HEALTH_PREFIX", &c.HealthPrefix)
	envStr("HYPERSERVE_LOG_LEVEL", &c.LogLevel)
	envStr("HYPERSERVE_ENV", &c.Env)
	envBool("HYPERSERVE_REUSE_PORT", &c.Socket.ReusePort)
	envBool("HYPERSERVE_FAST_OPEN", &c.Socket.FastOpen)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.Processes < 1 {
		return fmt.Errorf("config: processes must be >= 1, got %d", c.Processes)
	}
	switch c.Reload.AbandonPolicy {
	case "", "reset", "synthetic-503":
	default:
		return fmt.Errorf("config: unknown abandon policy %q", c.Reload.AbandonPolicy)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
