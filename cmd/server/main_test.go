package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/ascenddev/coderunner/config"
)

type recordingShutdowner struct {
	calls int
}

func (r *recordingShutdowner) Shutdown(...fx.ShutdownOption) error {
	r.calls++
	return nil
}

func TestRegisterTransport(t *testing.T) {
	t.Run("NoneServesNothing", func(t *testing.T) {
		cfg, err := config.Load(t.TempDir())
		require.NoError(t, err)
		cfg.Server.Transport = "none"

		lc := fxtest.NewLifecycle(t)
		shutdowner := &recordingShutdowner{}

		require.NoError(t, registerTransport(lc, shutdowner, cfg, nil, zaptest.NewLogger(t)))
		lc.RequireStart()
		lc.RequireStop()
		assert.Zero(t, shutdowner.calls)
	})

	t.Run("Unsupported", func(t *testing.T) {
		cfg := &config.Config{Server: config.ServerConfig{Transport: "grpc"}}

		err := registerTransport(fxtest.NewLifecycle(t), &recordingShutdowner{}, cfg, nil, zaptest.NewLogger(t))
		assert.EqualError(t, err, "unsupported transport: grpc")
	})
}

func TestNewChecker(t *testing.T) {
	assert.Nil(t, newChecker(&config.Config{}))
	assert.NotNil(t, newChecker(&config.Config{Execution: config.ExecutionConfig{Sanitize: true}}))
}

func TestNewPoolDisabled(t *testing.T) {
	assert.Nil(t, newPool(&config.Config{}, nil, nil, zaptest.NewLogger(t)))
}
