package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CODERUNNER_SANDBOX_BACKEND
const EnvPrefix = "CODERUNNER"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Sandbox   SandboxConfig             `mapstructure:"sandbox"`
	Pool      PoolConfig                `mapstructure:"pool"`
	Execution ExecutionConfig           `mapstructure:"execution"`
	Languages map[string]LanguageConfig `mapstructure:"languages"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	NATS      NATSConfig                `mapstructure:"nats"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds container backend configuration
type SandboxConfig struct {
	Backend        string `mapstructure:"backend"`
	WorkDir        string `mapstructure:"work_dir"`
	MaxOutputKB    int    `mapstructure:"max_output_kb"`
	NetworkEnabled bool   `mapstructure:"network_enabled"`
	ProcessLimit   int64  `mapstructure:"process_limit"`
	PullImages     bool   `mapstructure:"pull_images"`
}

// PoolConfig holds prewarmed sandbox pool configuration
type PoolConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Prewarm             []string      `mapstructure:"prewarm"`
	InitialSize         int           `mapstructure:"initial_size"`
	MinPerKey           int           `mapstructure:"min_per_key"`
	MaxPerKey           int           `mapstructure:"max_per_key"`
	IdleTimeout         time.Duration `mapstructure:"idle_timeout"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// ExecutionConfig holds orchestrator configuration
type ExecutionConfig struct {
	TimeoutGrace      time.Duration `mapstructure:"timeout_grace"`
	PlaygroundTimeout time.Duration `mapstructure:"playground_timeout"`
	Sanitize          bool          `mapstructure:"sanitize"`
}

// LanguageConfig holds the images and limits of one language
type LanguageConfig struct {
	TestImage string `mapstructure:"test_image"`
	RunImage  string `mapstructure:"run_image"`
	Framework string `mapstructure:"framework"`
	MemoryMB  int    `mapstructure:"memory_mb"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// NATSConfig holds the queue worker configuration
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	QueueGroup    string `mapstructure:"queue_group"`
	MaxInFlight   int    `mapstructure:"max_in_flight"`
}

var defaultLanguages = map[string]LanguageConfig{
	"python":     {Framework: "pytest", MemoryMB: 128},
	"go":         {Framework: "testing", MemoryMB: 128},
	"csharp":     {Framework: "xunit", MemoryMB: 256},
	"typescript": {Framework: "jest", MemoryMB: 128},
	"javascript": {Framework: "jest", MemoryMB: 128},
}

// New loads and validates the application configuration from config.yaml in
// the working directory or ./config, a .env file and CODERUNNER_* variables.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return Load(".", "./config")
}

// Load reads config.yaml from the first of paths that has one
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.normalize()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.work_dir", filepath.Join(os.TempDir(), "ascenddev_code_execution"))
	v.SetDefault("sandbox.max_output_kb", 1024)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.process_limit", 256)
	v.SetDefault("sandbox.pull_images", true)

	v.SetDefault("pool.enabled", false)
	v.SetDefault("pool.prewarm", []string{})
	v.SetDefault("pool.initial_size", 2)
	v.SetDefault("pool.min_per_key", 2)
	v.SetDefault("pool.max_per_key", 10)
	v.SetDefault("pool.idle_timeout", 10*time.Minute)
	v.SetDefault("pool.maintenance_interval", time.Minute)

	v.SetDefault("execution.timeout_grace", 5*time.Second)
	v.SetDefault("execution.playground_timeout", 10*time.Second)
	v.SetDefault("execution.sanitize", true)

	for name, lang := range defaultLanguages {
		v.SetDefault("languages."+name+".test_image", fmt.Sprintf("jhypki/ascenddev-%s-tester:latest", name))
		v.SetDefault("languages."+name+".run_image", fmt.Sprintf("jhypki/ascenddev-%s-runner:latest", name))
		v.SetDefault("languages."+name+".framework", lang.Framework)
		v.SetDefault("languages."+name+".memory_mb", lang.MemoryMB)
	}

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "coderunner")
	v.SetDefault("nats.queue_group", "coderunner-workers")
	v.SetDefault("nats.max_in_flight", 4)
}

// normalize lower-cases language keys and prewarm entries
func (c *Config) normalize() {
	langs := make(map[string]LanguageConfig, len(c.Languages))
	for name, lang := range c.Languages {
		lang.Framework = strings.ToLower(lang.Framework)
		langs[strings.ToLower(name)] = lang
	}
	c.Languages = langs

	for i, p := range c.Pool.Prewarm {
		c.Pool.Prewarm[i] = strings.ToLower(strings.TrimSpace(p))
	}
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" && c.Server.Transport != "none" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'none'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got: %d", c.Server.HTTPPort)
	}

	if c.Sandbox.Backend != "docker" && c.Sandbox.Backend != "podman" && c.Sandbox.Backend != "docker-cli" {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.WorkDir == "" {
		return fmt.Errorf("sandbox.work_dir must not be empty")
	}

	if c.Sandbox.MaxOutputKB <= 0 {
		return fmt.Errorf("sandbox.max_output_kb must be positive, got: %d", c.Sandbox.MaxOutputKB)
	}

	if c.Pool.MinPerKey < 0 {
		return fmt.Errorf("pool.min_per_key must not be negative, got: %d", c.Pool.MinPerKey)
	}

	if c.Pool.MaxPerKey <= 0 {
		return fmt.Errorf("pool.max_per_key must be positive, got: %d", c.Pool.MaxPerKey)
	}

	if c.Pool.MinPerKey > c.Pool.MaxPerKey {
		return fmt.Errorf("pool.min_per_key (%d) exceeds pool.max_per_key (%d)", c.Pool.MinPerKey, c.Pool.MaxPerKey)
	}

	if c.Pool.Enabled && c.Pool.MaintenanceInterval <= 0 {
		return fmt.Errorf("pool.maintenance_interval must be positive, got: %s", c.Pool.MaintenanceInterval)
	}

	for _, name := range c.Pool.Prewarm {
		if _, ok := c.Language(name); !ok {
			return fmt.Errorf("pool.prewarm references unknown language: %s", name)
		}
	}

	if c.Execution.TimeoutGrace < 0 {
		return fmt.Errorf("execution.timeout_grace must not be negative, got: %s", c.Execution.TimeoutGrace)
	}

	if c.Execution.PlaygroundTimeout <= 0 {
		return fmt.Errorf("execution.playground_timeout must be positive, got: %s", c.Execution.PlaygroundTimeout)
	}

	for name, lang := range c.Languages {
		if lang.TestImage == "" {
			return fmt.Errorf("languages.%s.test_image must not be empty", name)
		}
		if lang.MemoryMB <= 0 {
			return fmt.Errorf("languages.%s.memory_mb must be positive, got: %d", name, lang.MemoryMB)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url must not be empty when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			return fmt.Errorf("nats.subject_prefix must not be empty when nats is enabled")
		}
		if c.NATS.MaxInFlight <= 0 {
			return fmt.Errorf("nats.max_in_flight must be positive when nats is enabled")
		}
	}

	return nil
}

// Language returns the configuration of a language by case-insensitive name
func (c *Config) Language(name string) (LanguageConfig, bool) {
	lang, ok := c.Languages[strings.ToLower(name)]
	return lang, ok
}

// OutputLimit returns the per-stream output cap in bytes
func (c *Config) OutputLimit() int64 {
	return int64(c.Sandbox.MaxOutputKB) * 1024
}
