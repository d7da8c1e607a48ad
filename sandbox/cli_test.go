package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ascenddev/coderunner/apperr"
)

func testConfig() Config {
	return Config{
		Image:           "jhypki/ascenddev-python-tester:latest",
		Name:            "run-1",
		MemoryBytes:     128 * 1024 * 1024,
		MemorySwapBytes: 128 * 1024 * 1024,
		WorkingDir:      "/app",
		Cmd:             []string{"sh", "-c", "/app/run-tests.sh"},
		HostDir:         "/tmp/exec/abc",
		MountPath:       "/app/test",
		User:            "root",
		NetworkDisabled: true,
		ProcessLimit:    64,
	}
}

func TestCLIBackendConstructors(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("DefaultConstructor", func(t *testing.T) {
		backend := NewCLIBackend("docker", logger)
		require.NotNil(t, backend)
		assert.Equal(t, "docker", backend.binary)
		assert.NotNil(t, backend.cmdRunner)
		assert.True(t, backend.pullImages)
	})

	t.Run("ConstructorWithOptions", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		backend := NewCLIBackend("podman", logger,
			WithCLICommandRunner(mockRunner),
			WithCLIOutputLimit(10),
			WithCLIImagePull(false),
		)
		assert.Equal(t, mockRunner, backend.cmdRunner)
		assert.Equal(t, int64(10), backend.outputLimit)
		assert.False(t, backend.pullImages)
	})
}

func TestCLIBackendCreateArgs(t *testing.T) {
	backend := NewCLIBackend("docker", zaptest.NewLogger(t))

	args := backend.createArgs(testConfig().WithLabel(LabelRole, "test"))

	assert.Equal(t, []string{
		"--name", "run-1",
		"--memory", "134217728b",
		"--memory-swap", "134217728b",
		"--network", "none",
		"--pids-limit", "64",
		"--ulimit", "nofile=256:512",
		"--ulimit", "core=0:0",
		"--ulimit", "fsize=67108864:67108864",
		"--ulimit", "nproc=64:64",
		"--security-opt", "no-new-privileges:true",
		"-v", "/tmp/exec/abc:/app/test",
		"-w", "/app",
		"--user", "root",
		"--label", "coderunner.managed=true",
		"--label", "coderunner.role=test",
		"jhypki/ascenddev-python-tester:latest",
		"sh", "-c", "/app/run-tests.sh",
	}, args)
}

func TestCLIBackendRun(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Success", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{stdout: "1 passed\n", exitCode: 0},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		out, err := backend.Run(context.Background(), testConfig(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "1 passed\n", out.Stdout)
		assert.False(t, out.TimedOut)
		assert.True(t, mockRunner.called("docker", "run", "--name", "run-1"))
		assert.Equal(t, []string{"docker", "rm", "-f", "run-1"}, mockRunner.lastCall())
	})

	t.Run("GeneratesName", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		_, err := backend.Run(context.Background(), testConfig().WithName(""), time.Second)
		require.NoError(t, err)

		rm := mockRunner.lastCall()
		require.Len(t, rm, 4)
		assert.Equal(t, []string{"docker", "rm", "-f"}, rm[:3])
		assert.Regexp(t, `^coderunner-[0-9a-f]{32}$`, rm[3])
		assert.True(t, mockRunner.called("docker", "run", "--name", rm[3]))
	})

	t.Run("Timeout", func(t *testing.T) {
		cfg := testConfig()
		mockRunner := &MockCommandRunner{
			blocking: map[string]bool{
				cmdKey(append([]string{"docker", "run"}, (&CLIBackend{}).createArgs(cfg)...)...): true,
			},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		out, err := backend.Run(context.Background(), cfg, 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.Equal(t, ExitCodeTimeout, out.ExitCode)
		assert.Contains(t, out.Stderr, "Execution timed out after 50ms")
		assert.True(t, mockRunner.called("docker", "kill", "run-1"))
		assert.True(t, mockRunner.called("docker", "rm", "-f", "run-1"))
	})

	t.Run("CancelledByCaller", func(t *testing.T) {
		cfg := testConfig()
		mockRunner := &MockCommandRunner{
			blocking: map[string]bool{
				cmdKey(append([]string{"docker", "run"}, (&CLIBackend{}).createArgs(cfg)...)...): true,
			},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		_, err := backend.Run(ctx, cfg, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, mockRunner.called("docker", "rm", "-f", "run-1"))
	})

	t.Run("OutputTruncated", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{stdout: "0123456789abcdef"},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner), WithCLIOutputLimit(10))

		out, err := backend.Run(context.Background(), testConfig(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, "0123456789"+TruncationNotice, out.Stdout)
	})

	t.Run("RunnerError", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{err: errors.New("executable file not found")},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		_, err := backend.Run(context.Background(), testConfig(), time.Second)
		require.Error(t, err)
		assert.Equal(t, apperr.SandboxFailure, apperr.CodeOf(err))
	})
}

func TestCLIBackendEnsureImage(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Present", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		backend := NewCLIBackend("podman", logger, WithCLICommandRunner(mockRunner))

		require.NoError(t, backend.EnsureImage(context.Background(), "img"))
		assert.False(t, mockRunner.called("podman", "pull"))
	})

	t.Run("PullsMissing", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]mockResult{
				cmdKey("podman", "image", "inspect", "img"): {stderr: "image not known", exitCode: 125},
			},
		}
		backend := NewCLIBackend("podman", logger, WithCLICommandRunner(mockRunner))

		require.NoError(t, backend.EnsureImage(context.Background(), "img"))
		assert.True(t, mockRunner.called("podman", "pull", "img"))
	})

	t.Run("PullDisabled", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]mockResult{
				cmdKey("podman", "image", "inspect", "img"): {exitCode: 125},
			},
		}
		backend := NewCLIBackend("podman", logger, WithCLICommandRunner(mockRunner), WithCLIImagePull(false))

		err := backend.EnsureImage(context.Background(), "img")
		require.Error(t, err)
		assert.Equal(t, apperr.SandboxFailure, apperr.CodeOf(err))
		assert.False(t, mockRunner.called("podman", "pull"))
	})
}

func TestCLIBackendExec(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Success", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]mockResult{
				cmdKey("docker", "exec", "-w", "/app", "c1", "sh", "-c", "/app/run-tests.sh"): {stdout: "ok", exitCode: 1},
			},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		out, err := backend.Exec(context.Background(), "c1", []string{"sh", "-c", "/app/run-tests.sh"}, "/app", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "ok", out.Stdout)
		assert.Equal(t, 1, out.ExitCode)
	})

	t.Run("Timeout", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			blocking: map[string]bool{cmdKey("docker", "exec", "c1", "sleep", "100"): true},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		out, err := backend.Exec(context.Background(), "c1", []string{"sleep", "100"}, "", 30*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, out.TimedOut)
		assert.Equal(t, "partial", out.Stdout)
	})

	t.Run("MissingContainer", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{stderr: "Error response from daemon: No such container: c1", exitCode: 1},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		_, err := backend.Exec(context.Background(), "c1", []string{"true"}, "", time.Second)
		assert.ErrorIs(t, err, ErrContainerNotFound)
	})
}

func TestCLIBackendContainerLifecycle(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("StartReturnsID", func(t *testing.T) {
		mockRunner := &MockCommandRunner{defaultResult: mockResult{stdout: "abc123\n"}}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		id, err := backend.Start(context.Background(), testConfig())
		require.NoError(t, err)
		assert.Equal(t, "abc123", id)
		assert.True(t, mockRunner.called("docker", "run", "-d", "--name", "run-1"))
	})

	t.Run("StartFailure", func(t *testing.T) {
		mockRunner := &MockCommandRunner{defaultResult: mockResult{stderr: "port conflict", exitCode: 125}}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		_, err := backend.Start(context.Background(), testConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port conflict")
	})

	t.Run("Alive", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]mockResult{
				cmdKey("docker", "inspect", "-f", "{{.State.Running}}", "up"):   {stdout: "true\n"},
				cmdKey("docker", "inspect", "-f", "{{.State.Running}}", "down"): {stdout: "false\n"},
				cmdKey("docker", "inspect", "-f", "{{.State.Running}}", "gone"): {exitCode: 1},
			},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		assert.True(t, backend.Alive(context.Background(), "up"))
		assert.False(t, backend.Alive(context.Background(), "down"))
		assert.False(t, backend.Alive(context.Background(), "gone"))
	})

	t.Run("RemoveMissingIsNotError", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{stderr: "Error: No such container: gone", exitCode: 1},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		assert.NoError(t, backend.Remove(context.Background(), "gone"))
	})

	t.Run("RemoveFailure", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			defaultResult: mockResult{stderr: "permission denied", exitCode: 1},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		assert.Error(t, backend.Remove(context.Background(), "c1"))
	})

	t.Run("Copy", func(t *testing.T) {
		mockRunner := &MockCommandRunner{}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		require.NoError(t, backend.CopyTo(context.Background(), "c1", "/tmp/exec/abc/", "/app/test"))
		assert.Equal(t, []string{"docker", "cp", "/tmp/exec/abc/.", "c1:/app/test"}, mockRunner.lastCall())

		require.NoError(t, backend.CopyFrom(context.Background(), "c1", "/app/test", "/tmp/exec/abc"))
		assert.Equal(t, []string{"docker", "cp", "c1:/app/test/.", "/tmp/exec/abc"}, mockRunner.lastCall())
	})

	t.Run("Prune", func(t *testing.T) {
		mockRunner := &MockCommandRunner{
			commandResults: map[string]mockResult{
				cmdKey("docker", "ps", "-aq", "--filter", "label=coderunner.managed=true"): {stdout: "a1\nb2\n"},
				cmdKey("docker", "rm", "-f", "b2"): {stderr: "device busy", exitCode: 1},
			},
		}
		backend := NewCLIBackend("docker", logger, WithCLICommandRunner(mockRunner))

		removed, err := backend.Prune(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.True(t, mockRunner.called("docker", "rm", "-f", "a1"))
	})
}
