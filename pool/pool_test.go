package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/sandbox/sandboxtest"
	"github.com/ascenddev/coderunner/strategy"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		Enabled:             true,
		InitialSize:         2,
		MinPerKey:           1,
		MaxPerKey:           3,
		IdleTimeout:         time.Minute,
		MaintenanceInterval: time.Hour,
	}
}

func newTestManager(t *testing.T, cfg config.PoolConfig) (*Manager, *sandboxtest.Backend) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	python := strategy.NewPython(config.LanguageConfig{
		TestImage: "ascenddev/python-test",
		Framework: "pytest",
		MemoryMB:  128,
	}, strategy.Options{NetworkDisabled: true}, logger)

	backend := sandboxtest.New()
	return NewManager(backend, strategy.NewRegistryOf(python), cfg, logger), backend
}

func TestInitialize(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx, "python", "pytest", 2))
	assert.Equal(t, 2, backend.Calls("Start"))
	assert.Equal(t, 1, backend.Calls("EnsureImage"))

	// second call for the same key is a no-op
	require.NoError(t, m.Initialize(ctx, "Python", "PyTest", 2))
	assert.Equal(t, 2, backend.Calls("Start"))

	stats := m.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, KeyStats{Language: "python", Framework: "pytest", Idle: 2}, stats[0])

	cfg := backend.Configs()[0]
	assert.Empty(t, cfg.Bind())
	assert.Equal(t, "ascenddev/python-test", cfg.Image)
	assert.Equal(t, "pool", cfg.Labels[sandbox.LabelRole])
	assert.Contains(t, cfg.Name, "prewarmed-python-pytest-")
	assert.Equal(t, []string{"sh", "-c", "mkdir -p /app/test && tail -f /dev/null"}, cfg.Cmd)
}

func TestInitializeRespectsMaxPerKey(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxPerKey = 2
	m, backend := newTestManager(t, cfg)

	require.NoError(t, m.Initialize(context.Background(), "python", "", 5))
	assert.Equal(t, 2, m.Stats()[0].Idle)
	assert.Equal(t, 2, backend.Live())
}

func TestInitializeUnknownLanguage(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())

	err := m.Initialize(context.Background(), "cobol", "", 1)
	require.Error(t, err)
	assert.Equal(t, apperr.LanguageNotSupported, apperr.CodeOf(err))
	assert.Zero(t, backend.TotalCalls())
}

func TestInitializeStartFailure(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	backend.StartErr = errors.New("daemon unavailable")

	err := m.Initialize(context.Background(), "python", "pytest", 2)
	require.Error(t, err)
	assert.Equal(t, apperr.SandboxFailure, apperr.CodeOf(err))
}

func TestAcquireRelease(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "python", "pytest", 1))

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)
	assert.Equal(t, "fake-1", sb.ID)
	assert.Equal(t, 1, backend.Calls("Start"))
	assert.Equal(t, KeyStats{Language: "python", Framework: "pytest", InUse: 1}, m.Stats()[0])

	var resetCmd []string
	backend.ExecFunc = func(_ context.Context, _ string, cmd []string, _ string, _ time.Duration) (sandbox.Output, error) {
		resetCmd = cmd
		return sandbox.Output{}, nil
	}

	m.Release(ctx, sb)
	assert.Equal(t, []string{"sh", "-c", "rm -rf /app/test/* /app/test/.[!.]*"}, resetCmd)
	assert.Equal(t, KeyStats{Language: "python", Framework: "pytest", Idle: 1}, m.Stats()[0])
	assert.Empty(t, backend.Removed())
}

func TestAcquireColdStart(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())

	sb, err := m.Acquire(context.Background(), "python", "")
	require.NoError(t, err)
	assert.Equal(t, "pytest", sb.Framework)
	assert.Equal(t, 1, backend.Calls("Start"))
	assert.Equal(t, 1, m.Stats()[0].InUse)
}

func TestAcquireSkipsDeadSandbox(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "python", "pytest", 1))
	backend.Kill("fake-1")

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)
	assert.Equal(t, "fake-2", sb.ID)
	assert.Equal(t, []string{"fake-1"}, backend.Removed())
}

func TestConcurrentAcquireNeverShares(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxPerKey = 1
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "python", "pytest", 1))

	const workers = 8
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sb, err := m.Acquire(ctx, "python", "pytest")
			if !assert.NoError(t, err) {
				return
			}
			ids <- sb.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "sandbox %s handed out twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
}

func TestReleaseDestroysWhenResetFails(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)

	backend.ExecFunc = func(context.Context, string, []string, string, time.Duration) (sandbox.Output, error) {
		return sandbox.Output{ExitCode: 1, Stderr: "read-only file system"}, nil
	}
	m.Release(ctx, sb)

	assert.Equal(t, []string{sb.ID}, backend.Removed())
	assert.Empty(t, m.Stats())
}

func TestReleaseDestroysDeadSandbox(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)
	backend.Kill(sb.ID)

	m.Release(ctx, sb)
	assert.Equal(t, []string{sb.ID}, backend.Removed())
	assert.Zero(t, backend.Calls("Exec"))
}

func TestReleaseDestroysAboveMax(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaxPerKey = 1
	m, backend := newTestManager(t, cfg)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)
	second, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)

	m.Release(ctx, first)
	m.Release(ctx, second)

	assert.Equal(t, []string{second.ID}, backend.Removed())
	assert.Equal(t, 1, m.Stats()[0].Idle)
}

func TestReleaseTwice(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)

	m.Release(ctx, sb)
	m.Release(ctx, sb)

	assert.Equal(t, 1, m.Stats()[0].Idle)
	assert.Equal(t, 1, backend.Calls("Exec"))
}

func TestDiscard(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()

	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)

	m.Discard(ctx, sb)
	assert.Equal(t, []string{sb.ID}, backend.Removed())
	assert.Empty(t, m.Stats())
	assert.Zero(t, backend.Live())
}

func TestClose(t *testing.T) {
	m, backend := newTestManager(t, testPoolConfig())
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "python", "pytest", 2))

	inUse, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	assert.Len(t, backend.Removed(), 1)

	_, err = m.Acquire(ctx, "python", "pytest")
	assert.ErrorIs(t, err, ErrClosed)

	m.Release(ctx, inUse)
	assert.Zero(t, backend.Live())
}

func TestMaintainEvictsAndReplenishes(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MinPerKey = 1
	cfg.IdleTimeout = time.Millisecond
	m, backend := newTestManager(t, cfg)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "python", "pytest", 3))

	time.Sleep(5 * time.Millisecond)
	m.Maintain(ctx)

	assert.Len(t, backend.Removed(), 2)
	assert.Equal(t, 1, m.Stats()[0].Idle)

	// drain the key below its minimum and let maintenance refill it
	sb, err := m.Acquire(ctx, "python", "pytest")
	require.NoError(t, err)
	m.Maintain(ctx)
	assert.Equal(t, 1, m.Stats()[0].Idle)
	assert.Equal(t, 4, backend.Calls("Start"))

	m.Discard(ctx, sb)
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := testPoolConfig()
	cfg.MaintenanceInterval = time.Millisecond
	m, _ := newTestManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
