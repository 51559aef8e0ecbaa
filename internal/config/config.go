package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8080
	DefaultPlannerModel = "glm-4.7"
	DefaultVisionModel  = "autoglm-phone"
	DefaultMaxTurns     = 50
	DefaultStepBudget   = 5
	DefaultLockTimeout  = 3 * time.Second
	DefaultModelTimeout = 120 * time.Second
)

// Config captures user-configurable settings for the server binary.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	PlannerModel string `mapstructure:"planner_model"`
	VisionModel  string `mapstructure:"vision_model"`

	MaxTurns           int `mapstructure:"max_turns"`
	StepBudget         int `mapstructure:"step_budget"`
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"`
	ModelTimeoutSecs   int `mapstructure:"model_timeout_seconds"`
	ModelMaxRetries    int `mapstructure:"model_max_retries"`

	SessionBackend string `mapstructure:"session_backend"` // memory | sqlite
	SessionDBPath  string `mapstructure:"session_db_path"`

	ADBPath  string `mapstructure:"adb_path"`
	LogLevel string `mapstructure:"log_level"`
}

// LockTimeout returns the configured bounded wait for device locks.
func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSeconds <= 0 {
		return DefaultLockTimeout
	}
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// ModelTimeout returns the per-request model client timeout.
func (c *Config) ModelTimeout() time.Duration {
	if c.ModelTimeoutSecs <= 0 {
		return DefaultModelTimeout
	}
	return time.Duration(c.ModelTimeoutSecs) * time.Second
}

// Load reads configuration from an optional YAML file plus DROID_* env vars.
// File values override defaults; environment overrides both.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	// Empty defaults so env-only values bind through Unmarshal.
	v.SetDefault("base_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("planner_model", DefaultPlannerModel)
	v.SetDefault("vision_model", DefaultVisionModel)
	v.SetDefault("max_turns", DefaultMaxTurns)
	v.SetDefault("step_budget", DefaultStepBudget)
	v.SetDefault("lock_timeout_seconds", int(DefaultLockTimeout/time.Second))
	v.SetDefault("model_timeout_seconds", int(DefaultModelTimeout/time.Second))
	v.SetDefault("model_max_retries", 2)
	v.SetDefault("session_backend", "memory")
	v.SetDefault("session_db_path", "droid-sessions.db")
	v.SetDefault("adb_path", "adb")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("DROID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SessionBackend != "memory" && cfg.SessionBackend != "sqlite" {
		return nil, fmt.Errorf("unknown session backend %q (want memory or sqlite)", cfg.SessionBackend)
	}
	return &cfg, nil
}
