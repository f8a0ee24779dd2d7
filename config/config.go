// Package config loads the process configuration once at startup. Nothing
// else in the platform reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentplatform/core"
	"github.com/hupe1980/agentplatform/logging"
	"github.com/joho/godotenv"
)

const (
	defaultModel           = "claude-3-5-sonnet-20241022"
	defaultDatabaseURL     = "memory"
	defaultWorkers         = 4
	defaultMaxSteps        = 10
	defaultMaxStepsLimit   = 50
	defaultToolTimeout     = 15 * time.Second
	defaultHTTPAddr        = ":8000"
	defaultShutdownTimeout = 10 * time.Second
	defaultLogFormat       = "json"
)

// ErrMissingTenant is returned by Load when TENANT_ID is not set.
var ErrMissingTenant = core.ErrMissingTenant

// Config is the complete process configuration.
type Config struct {
	Tenant core.Tenant

	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string

	DatabaseURL string
	AutoMigrate bool

	Workers         int
	QueueSize       int
	RunTimeout      time.Duration
	DefaultMaxSteps int
	MaxStepsLimit   int
	ToolTimeout     time.Duration

	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel  logging.LogLevel
	LogFormat string
}

// Default returns the configuration used for unset variables. It has no tenant.
func Default() Config {
	return Config{
		DefaultModel:    defaultModel,
		DatabaseURL:     defaultDatabaseURL,
		AutoMigrate:     true,
		Workers:         defaultWorkers,
		DefaultMaxSteps: defaultMaxSteps,
		MaxStepsLimit:   defaultMaxStepsLimit,
		ToolTimeout:     defaultToolTimeout,
		HTTPAddr:        defaultHTTPAddr,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        logging.LogLevelInfo,
		LogFormat:       defaultLogFormat,
	}
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg.Tenant = core.Tenant{
		ID:         env("TENANT_ID"),
		Email:      env("TENANT_EMAIL"),
		Name:       env("TENANT_NAME"),
		OrgID:      env("TENANT_ORG_ID"),
		OrgName:    env("TENANT_ORG_NAME"),
		InstanceID: env("OMNISTRATE_INSTANCE_ID"),
		ResourceID: env("OMNISTRATE_RESOURCE_ID"),
		ServiceID:  env("OMNISTRATE_SERVICE_ID"),
		PlanID:     env("OMNISTRATE_PLAN_ID"),
	}

	cfg.AnthropicAPIKey = env("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = env("OPENAI_API_KEY")
	if v := env("DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	if v := env("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := env("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	var err error
	if cfg.AutoMigrate, err = parseBool(env, "AUTO_MIGRATE", cfg.AutoMigrate); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = parseInt(env, "AGENT_WORKERS", cfg.Workers); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = parseInt(env, "AGENT_QUEUE_SIZE", cfg.QueueSize); err != nil {
		return Config{}, err
	}
	if cfg.DefaultMaxSteps, err = parseInt(env, "AGENT_DEFAULT_MAX_STEPS", cfg.DefaultMaxSteps); err != nil {
		return Config{}, err
	}
	if cfg.MaxStepsLimit, err = parseInt(env, "AGENT_MAX_STEPS_LIMIT", cfg.MaxStepsLimit); err != nil {
		return Config{}, err
	}
	if cfg.RunTimeout, err = parseDuration(env, "AGENT_RUN_TIMEOUT", cfg.RunTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ToolTimeout, err = parseDuration(env, "AGENT_TOOL_TIMEOUT", cfg.ToolTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = parseDuration(env, "SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if v := env("LOG_LEVEL"); v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Tenant.IsZero() {
		return fmt.Errorf("validate config: TENANT_ID: %w", ErrMissingTenant)
	}
	if c.Workers <= 0 {
		return errors.New("validate config: AGENT_WORKERS must be > 0")
	}
	if c.QueueSize < 0 {
		return errors.New("validate config: AGENT_QUEUE_SIZE must be >= 0")
	}
	if c.DefaultMaxSteps <= 0 {
		return errors.New("validate config: AGENT_DEFAULT_MAX_STEPS must be > 0")
	}
	if c.MaxStepsLimit < c.DefaultMaxSteps {
		return fmt.Errorf("validate config: AGENT_MAX_STEPS_LIMIT (%d) must be >= AGENT_DEFAULT_MAX_STEPS (%d)", c.MaxStepsLimit, c.DefaultMaxSteps)
	}
	if c.RunTimeout < 0 || c.ToolTimeout < 0 {
		return errors.New("validate config: timeouts must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("validate config: SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.LogFormat {
	case "json", "text", "console":
	default:
		return fmt.Errorf("validate config: unsupported LOG_FORMAT %q (allowed: %q, %q, %q)", c.LogFormat, "json", "text", "console")
	}
	return nil
}

// Logger builds the process logger writing to stderr.
func (c Config) Logger() logging.Logger {
	return logging.New(logging.Config{Level: c.LogLevel, Format: c.LogFormat, Output: os.Stderr})
}

func parseInt(env func(string) string, key string, def int) (int, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseBool(env func(string) string, key string, def bool) (bool, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func parseDuration(env func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
