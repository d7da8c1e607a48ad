package sandbox

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/apperr"
)

// CLIBackend drives a docker compatible command line tool (docker or podman)
type CLIBackend struct {
	binary      string
	logger      *zap.Logger
	cmdRunner   CommandRunner
	outputLimit int64
	pullImages  bool
}

// CLIOption defines a functional option for CLIBackend
type CLIOption func(*CLIBackend)

// WithCLICommandRunner sets the CommandRunner for CLIBackend
func WithCLICommandRunner(cmdRunner CommandRunner) CLIOption {
	return func(c *CLIBackend) {
		c.cmdRunner = cmdRunner
	}
}

// WithCLIOutputLimit caps each captured stream at limit bytes
func WithCLIOutputLimit(limit int64) CLIOption {
	return func(c *CLIBackend) {
		c.outputLimit = limit
	}
}

// WithCLIImagePull enables or disables pulling missing images
func WithCLIImagePull(enabled bool) CLIOption {
	return func(c *CLIBackend) {
		c.pullImages = enabled
	}
}

// NewCLIBackend creates a backend invoking binary, usually "docker" or "podman"
func NewCLIBackend(binary string, logger *zap.Logger, opts ...CLIOption) *CLIBackend {
	c := &CLIBackend{
		binary:     binary,
		logger:     logger,
		cmdRunner:  &RealCommandRunner{},
		pullImages: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *CLIBackend) EnsureImage(ctx context.Context, image string) error {
	_, _, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "image", "inspect", image})
	if err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, fmt.Sprintf("failed to inspect image %s", image))
	}
	if exitCode == 0 {
		return nil
	}
	if !c.pullImages {
		return apperr.Newf(apperr.SandboxFailure, "image %s is not available and pulling is disabled", image)
	}

	c.logger.Info("pulling image", zap.String("image", image), zap.String("binary", c.binary))
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "pull", image})
	if err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, fmt.Sprintf("failed to pull image %s", image))
	}
	if exitCode != 0 {
		return apperr.Newf(apperr.SandboxFailure, "failed to pull image %s: %s", image, strings.TrimSpace(stderr))
	}
	return nil
}

func (c *CLIBackend) Run(ctx context.Context, cfg Config, timeout time.Duration) (Output, error) {
	if cfg.Name == "" {
		cfg = cfg.WithName("coderunner-" + NewExecutionID())
	}
	defer c.removeQuietly(ctx, cfg.Name)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{c.binary, "run"}, c.createArgs(cfg)...)

	start := time.Now()
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(runCtx, args)
	out := Output{
		Stdout:   truncate(stdout, c.outputLimit),
		Stderr:   truncate(stderr, c.outputLimit),
		ExitCode: exitCode,
		RunTime:  time.Since(start),
	}

	if runCtx.Err() != nil {
		c.kill(ctx, cfg.Name)
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		c.logger.Warn("container timed out", zap.String("container", cfg.Name), zap.Duration("timeout", timeout))
		return timedOutOutput(out, timeout), nil
	}

	if err != nil {
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to execute container")
	}

	return out, nil
}

func (c *CLIBackend) Start(ctx context.Context, cfg Config) (string, error) {
	args := append([]string{c.binary, "run", "-d"}, c.createArgs(cfg)...)

	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, args)
	if err != nil {
		return "", apperr.Wrap(err, apperr.SandboxFailure, "failed to start container")
	}
	if exitCode != 0 {
		return "", apperr.Newf(apperr.SandboxFailure, "failed to start container: %s", strings.TrimSpace(stderr))
	}

	id := strings.TrimSpace(stdout)
	if id == "" {
		id = cfg.Name
	}
	return id, nil
}

func (c *CLIBackend) Exec(ctx context.Context, id string, cmd []string, workdir string, timeout time.Duration) (Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{c.binary, "exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, id)
	args = append(args, cmd...)

	start := time.Now()
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(execCtx, args)
	out := Output{
		Stdout:   truncate(stdout, c.outputLimit),
		Stderr:   truncate(stderr, c.outputLimit),
		ExitCode: exitCode,
		RunTime:  time.Since(start),
	}

	if execCtx.Err() != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return timedOutOutput(out, timeout), nil
	}
	if err != nil {
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to exec in container")
	}
	if exitCode != 0 && isNoSuchContainer(stderr) {
		return Output{}, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}

	return out, nil
}

func (c *CLIBackend) CopyTo(ctx context.Context, id, hostDir, containerPath string) error {
	return c.copy(ctx, strings.TrimSuffix(hostDir, "/")+"/.", id+":"+containerPath)
}

func (c *CLIBackend) CopyFrom(ctx context.Context, id, containerPath, hostDir string) error {
	return c.copy(ctx, id+":"+strings.TrimSuffix(containerPath, "/")+"/.", hostDir)
}

func (c *CLIBackend) Alive(ctx context.Context, id string) bool {
	stdout, _, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "inspect", "-f", "{{.State.Running}}", id})
	if err != nil || exitCode != 0 {
		return false
	}
	return strings.TrimSpace(stdout) == "true"
}

func (c *CLIBackend) Remove(ctx context.Context, id string) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "rm", "-f", id})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	if exitCode != 0 && !isNoSuchContainer(stderr) {
		return fmt.Errorf("failed to remove container %s: %s", id, strings.TrimSpace(stderr))
	}
	return nil
}

func (c *CLIBackend) Prune(ctx context.Context) (int, error) {
	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{
		c.binary, "ps", "-aq", "--filter", "label=" + LabelManaged + "=true",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}
	if exitCode != 0 {
		return 0, fmt.Errorf("failed to list containers: %s", strings.TrimSpace(stderr))
	}

	removed := 0
	for _, id := range strings.Fields(stdout) {
		if err := c.Remove(ctx, id); err != nil {
			c.logger.Warn("failed to remove stale container", zap.String("container", id), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// createArgs builds the flags shared by "run" and "run -d"
func (*CLIBackend) createArgs(cfg Config) []string {
	var args []string
	if cfg.Name != "" {
		args = append(args, "--name", cfg.Name)
	}
	if cfg.MemoryBytes > 0 {
		args = append(args, "--memory", fmt.Sprintf("%db", cfg.MemoryBytes))
	}
	if cfg.MemorySwapBytes != 0 {
		args = append(args, "--memory-swap", fmt.Sprintf("%db", cfg.MemorySwapBytes))
	}
	if cfg.NetworkDisabled {
		args = append(args, "--network", "none")
	}
	if cfg.ProcessLimit > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", cfg.ProcessLimit))
	}
	for _, u := range ulimits(cfg.ProcessLimit) {
		args = append(args, "--ulimit", u.String())
	}
	args = append(args, "--security-opt", "no-new-privileges:true")
	if bind := cfg.Bind(); bind != "" {
		args = append(args, "-v", bind)
	}
	if cfg.WorkingDir != "" {
		args = append(args, "-w", cfg.WorkingDir)
	}
	if cfg.User != "" {
		args = append(args, "--user", cfg.User)
	}

	labels := map[string]string{LabelManaged: "true"}
	maps.Copy(labels, cfg.Labels)
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		args = append(args, "--label", k+"="+labels[k])
	}

	args = append(args, cfg.Image)
	return append(args, cfg.Cmd...)
}

func (c *CLIBackend) copy(ctx context.Context, src, dst string) error {
	_, stderr, exitCode, err := c.cmdRunner.RunCommand(ctx, []string{c.binary, "cp", src, dst})
	if err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, "failed to copy files")
	}
	if exitCode != 0 {
		return apperr.Newf(apperr.SandboxFailure, "failed to copy %s to %s: %s", src, dst, strings.TrimSpace(stderr))
	}
	return nil
}

func (c *CLIBackend) kill(ctx context.Context, name string) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	_, stderr, exitCode, err := c.cmdRunner.RunCommand(killCtx, []string{c.binary, "kill", name})
	if err != nil || (exitCode != 0 && !isNoSuchContainer(stderr)) {
		c.logger.Warn("failed to kill container after timeout", zap.String("container", name), zap.Error(err))
	}
}

func (c *CLIBackend) removeQuietly(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := c.Remove(rmCtx, name); err != nil {
		c.logger.Error("failed to remove container", zap.String("container", name), zap.Error(err))
	}
}

func isNoSuchContainer(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") || strings.Contains(s, "no container with name or id")
}
