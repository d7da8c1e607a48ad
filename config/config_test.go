package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Sandbox: SandboxConfig{
			Backend:     "docker",
			WorkDir:     "/tmp/ascenddev_code_execution",
			MaxOutputKB: 1024,
		},
		Pool: PoolConfig{
			MinPerKey:           2,
			MaxPerKey:           10,
			IdleTimeout:         10 * time.Minute,
			MaintenanceInterval: time.Minute,
		},
		Execution: ExecutionConfig{
			TimeoutGrace:      5 * time.Second,
			PlaygroundTimeout: 10 * time.Second,
		},
		Languages: map[string]LanguageConfig{
			"python": {
				TestImage: "jhypki/ascenddev-python-tester:latest",
				Framework: "pytest",
				MemoryMB:  128,
			},
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		require.NoError(t, validConfig().validate())
	})

	tests := []struct {
		name    string
		mutate  func(c *Config)
		message string
	}{
		{"InvalidServerTransport", func(c *Config) { c.Server.Transport = "invalid" }, "invalid server.transport"},
		{"InvalidHTTPPort", func(c *Config) { c.Server.HTTPPort = 0 }, "server.http_port must be between"},
		{"UnsupportedBackend", func(c *Config) { c.Sandbox.Backend = "local" }, "unsupported sandbox.backend"},
		{"EmptyWorkDir", func(c *Config) { c.Sandbox.WorkDir = "" }, "sandbox.work_dir must not be empty"},
		{"InvalidOutputLimit", func(c *Config) { c.Sandbox.MaxOutputKB = 0 }, "sandbox.max_output_kb must be positive"},
		{"MinAboveMax", func(c *Config) { c.Pool.MinPerKey = 11 }, "exceeds pool.max_per_key"},
		{"UnknownPrewarmLanguage", func(c *Config) { c.Pool.Prewarm = []string{"cobol"} }, "pool.prewarm references unknown language"},
		{"MaintenanceIntervalWhenEnabled", func(c *Config) {
			c.Pool.Enabled = true
			c.Pool.MaintenanceInterval = 0
		}, "pool.maintenance_interval must be positive"},
		{"InvalidPlaygroundTimeout", func(c *Config) { c.Execution.PlaygroundTimeout = 0 }, "execution.playground_timeout must be positive"},
		{"MissingTestImage", func(c *Config) {
			c.Languages["go"] = LanguageConfig{Framework: "testing", MemoryMB: 128}
		}, "languages.go.test_image must not be empty"},
		{"InvalidLanguageMemory", func(c *Config) {
			c.Languages["python"] = LanguageConfig{TestImage: "img", MemoryMB: 0}
		}, "languages.python.memory_mb must be positive"},
		{"InvalidLoggingMode", func(c *Config) { c.Logging.Mode = "invalid_mode" }, "invalid logging.mode"},
		{"InvalidLogLevel", func(c *Config) { c.Logging.Level = "invalid_level" }, "invalid logging.level"},
		{"NATSWithoutURL", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.SubjectPrefix = "coderunner"
		}, "nats.url must not be empty"},
		{"NATSWithoutInFlight", func(c *Config) {
			c.NATS = NATSConfig{Enabled: true, URL: "nats://localhost:4222", SubjectPrefix: "coderunner"}
		}, "nats.max_in_flight must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "docker", cfg.Sandbox.Backend)
	assert.Equal(t, 5*time.Second, cfg.Execution.TimeoutGrace)
	assert.Equal(t, 10*time.Second, cfg.Execution.PlaygroundTimeout)
	assert.True(t, cfg.Execution.Sanitize)
	assert.Equal(t, int64(1024*1024), cfg.OutputLimit())
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "coderunner", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 4, cfg.NATS.MaxInFlight)

	csharp, ok := cfg.Language("CSharp")
	require.True(t, ok)
	assert.Equal(t, "xunit", csharp.Framework)
	assert.Equal(t, 256, csharp.MemoryMB)
	assert.Equal(t, "jhypki/ascenddev-csharp-tester:latest", csharp.TestImage)

	_, ok = cfg.Language("cobol")
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  transport: http
  http_port: 9090
pool:
  enabled: true
  prewarm: [Python, go]
  max_per_key: 4
  idle_timeout: 2m
languages:
  python:
    memory_mb: 512
logging:
  mode: development
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.True(t, cfg.Pool.Enabled)
	assert.Equal(t, []string{"python", "go"}, cfg.Pool.Prewarm)
	assert.Equal(t, 4, cfg.Pool.MaxPerKey)
	assert.Equal(t, 2*time.Minute, cfg.Pool.IdleTimeout)

	python, ok := cfg.Language("python")
	require.True(t, ok)
	assert.Equal(t, 512, python.MemoryMB)
	assert.Equal(t, "pytest", python.Framework)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CODERUNNER_SANDBOX_BACKEND", "podman")
	t.Setenv("CODERUNNER_EXECUTION_TIMEOUT_GRACE", "2s")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "podman", cfg.Sandbox.Backend)
	assert.Equal(t, 2*time.Second, cfg.Execution.TimeoutGrace)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("sandbox:\n  backend: local\n"), 0600))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sandbox.backend")
}
