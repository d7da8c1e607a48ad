package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/apperr"
)

// DockerAPI is the part of the Docker Engine client the backend uses.
// *client.Client satisfies it.
type DockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
}

// DockerBackend runs sandboxes through the Docker Engine API
type DockerBackend struct {
	api            DockerAPI
	logger         *zap.Logger
	fs             FileSystem
	outputLimit    int64
	pullImages     bool
	cleanupTimeout time.Duration
	ensured        sync.Map
}

// DockerOption defines a functional option for DockerBackend
type DockerOption func(*DockerBackend)

// WithDockerFileSystem sets the FileSystem used to unpack copied artifacts
func WithDockerFileSystem(fs FileSystem) DockerOption {
	return func(d *DockerBackend) {
		d.fs = fs
	}
}

// WithDockerOutputLimit caps each captured stream at limit bytes
func WithDockerOutputLimit(limit int64) DockerOption {
	return func(d *DockerBackend) {
		d.outputLimit = limit
	}
}

// WithImagePull enables or disables pulling missing images
func WithImagePull(enabled bool) DockerOption {
	return func(d *DockerBackend) {
		d.pullImages = enabled
	}
}

// NewDockerClient connects to the engine configured by the DOCKER_* environment
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewDockerBackend creates a backend on top of api
func NewDockerBackend(api DockerAPI, logger *zap.Logger, opts ...DockerOption) *DockerBackend {
	d := &DockerBackend{
		api:            api,
		logger:         logger,
		fs:             RealFileSystem{},
		pullImages:     true,
		cleanupTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// EnsureImage pulls image when the engine does not have it
func (d *DockerBackend) EnsureImage(ctx context.Context, ref string) error {
	if _, ok := d.ensured.Load(ref); ok {
		return nil
	}

	_, err := d.api.ImageInspect(ctx, ref)
	if err == nil {
		d.ensured.Store(ref, struct{}{})
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return apperr.Wrap(err, apperr.SandboxFailure, fmt.Sprintf("failed to inspect image %s", ref))
	}
	if !d.pullImages {
		return apperr.Newf(apperr.SandboxFailure, "image %s is not available and pulling is disabled", ref)
	}

	d.logger.Info("pulling image", zap.String("image", ref))
	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, fmt.Sprintf("failed to pull image %s", ref))
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, fmt.Sprintf("failed to pull image %s", ref))
	}

	d.ensured.Store(ref, struct{}{})
	return nil
}

// Run executes a one-shot container and always removes it
func (d *DockerBackend) Run(ctx context.Context, cfg Config, timeout time.Duration) (Output, error) {
	startedAt := time.Now()

	id, err := d.create(ctx, cfg)
	if err != nil {
		return Output{}, err
	}
	defer d.removeQuietly(ctx, id)

	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to start container")
	}

	out := Output{StartupTime: time.Since(startedAt)}
	runStart := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	statusCh, errCh := d.api.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	expired := false
	select {
	case status := <-statusCh:
		out.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if waitCtx.Err() == nil {
			return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "container wait failed")
		}
		expired = true
	case <-waitCtx.Done():
		expired = true
	}
	out.RunTime = time.Since(runStart)

	if expired {
		d.kill(ctx, id)
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
	}

	out.Stdout, out.Stderr, err = d.logs(ctx, id)
	if err != nil {
		d.logger.Warn("failed to collect container logs", zap.String("container_id", id), zap.Error(err))
	}

	if expired {
		d.logger.Warn("container timed out", zap.String("container_id", id), zap.Duration("timeout", timeout))
		return timedOutOutput(out, timeout), nil
	}

	return out, nil
}

// Start creates and starts a long-lived container
func (d *DockerBackend) Start(ctx context.Context, cfg Config) (string, error) {
	id, err := d.create(ctx, cfg)
	if err != nil {
		return "", err
	}

	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		d.removeQuietly(ctx, id)
		return "", apperr.Wrap(err, apperr.SandboxFailure, "failed to start container")
	}

	return id, nil
}

// Exec runs cmd in a started container. On timeout the output collected so
// far is returned with TimedOut set; the process keeps running until the
// container is removed.
func (d *DockerBackend) Exec(ctx context.Context, id string, cmd []string, workdir string, timeout time.Duration) (Output, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	created, err := d.api.ContainerExecCreate(execCtx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		if errdefs.IsNotFound(err) {
			return Output{}, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to create exec")
	}

	attach, err := d.api.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to attach to exec")
	}
	defer attach.Close()

	stdout, stderr := newCapture(d.outputLimit), newCapture(d.outputLimit)
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(stdout.lw, stderr.lw, attach.Reader)
		done <- copyErr
	}()

	select {
	case copyErr := <-done:
		if copyErr != nil && !errors.Is(copyErr, io.EOF) {
			return Output{}, apperr.Wrap(copyErr, apperr.SandboxFailure, "failed to read exec output")
		}
	case <-execCtx.Done():
		attach.Close()
		<-done
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		out := Output{Stdout: stdout.String(), Stderr: stderr.String(), RunTime: time.Since(start)}
		return timedOutOutput(out, timeout), nil
	}

	inspect, err := d.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return Output{}, apperr.Wrap(err, apperr.SandboxFailure, "failed to inspect exec")
	}

	return Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
		RunTime:  time.Since(start),
	}, nil
}

// CopyTo archives hostDir and unpacks it at containerPath
func (d *DockerBackend) CopyTo(ctx context.Context, id, hostDir, containerPath string) error {
	var buf bytes.Buffer
	if err := WriteTarFromDir(&buf, hostDir, path.Base(containerPath)); err != nil {
		return err
	}

	if err := d.api.CopyToContainer(ctx, id, path.Dir(containerPath), &buf, container.CopyToContainerOptions{}); err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, "failed to copy files into container")
	}
	return nil
}

// CopyFrom unpacks the contents of containerPath into hostDir
func (d *DockerBackend) CopyFrom(ctx context.Context, id, containerPath, hostDir string) error {
	rc, _, err := d.api.CopyFromContainer(ctx, id, containerPath)
	if err != nil {
		return apperr.Wrap(err, apperr.SandboxFailure, "failed to copy files from container")
	}
	defer rc.Close()

	return ExtractTar(d.fs, rc, hostDir, 1)
}

// Alive reports whether the container is running
func (d *DockerBackend) Alive(ctx context.Context, id string) bool {
	info, err := d.api.ContainerInspect(ctx, id)
	if err != nil || info.ContainerJSONBase == nil || info.State == nil {
		return false
	}
	return info.State.Running
}

// Remove force-removes a container
func (d *DockerBackend) Remove(ctx context.Context, id string) error {
	err := d.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

// Prune removes containers left over by a previous process
func (d *DockerBackend) Prune(ctx context.Context) (int, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		if err := d.Remove(ctx, c.ID); err != nil {
			d.logger.Warn("failed to remove stale container", zap.String("container_id", c.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (d *DockerBackend) create(ctx context.Context, cfg Config) (string, error) {
	labels := map[string]string{LabelManaged: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	var binds []string
	if bind := cfg.Bind(); bind != "" {
		binds = append(binds, bind)
	}

	hostCfg := &container.HostConfig{
		Binds:       binds,
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     cfg.MemoryBytes,
			MemorySwap: cfg.MemorySwapBytes,
			Ulimits:    ulimits(cfg.ProcessLimit),
		},
	}
	if cfg.ProcessLimit > 0 {
		pids := cfg.ProcessLimit
		hostCfg.Resources.PidsLimit = &pids
	}
	if cfg.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}

	resp, err := d.api.ContainerCreate(ctx, &container.Config{
		Image:           cfg.Image,
		Cmd:             cfg.Cmd,
		WorkingDir:      cfg.WorkingDir,
		User:            cfg.User,
		Labels:          labels,
		AttachStdout:    cfg.AttachStdout,
		AttachStderr:    cfg.AttachStderr,
		NetworkDisabled: cfg.NetworkDisabled,
	}, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", apperr.Wrap(err, apperr.SandboxFailure, "failed to create container").
			WithDetail("image", cfg.Image)
	}

	for _, w := range resp.Warnings {
		d.logger.Debug("container create warning", zap.String("container_id", resp.ID), zap.String("warning", w))
	}

	return resp.ID, nil
}

func (d *DockerBackend) logs(ctx context.Context, id string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()

	rc, err := d.api.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	stdout, stderr := newCapture(d.outputLimit), newCapture(d.outputLimit)
	if _, err := stdcopy.StdCopy(stdout.lw, stderr.lw, rc); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

func (d *DockerBackend) kill(ctx context.Context, id string) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()

	if err := d.api.ContainerKill(killCtx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
		d.logger.Warn("failed to kill container", zap.String("container_id", id), zap.Error(err))
	}
}

func (d *DockerBackend) removeQuietly(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()

	if err := d.Remove(rmCtx, id); err != nil {
		d.logger.Error("failed to remove container", zap.String("container_id", id), zap.Error(err))
	}
}

func ulimits(processLimit int64) []*units.Ulimit {
	limits := []*units.Ulimit{
		{Name: "nofile", Soft: 256, Hard: 512},
		{Name: "core", Soft: 0, Hard: 0},
		// Largest file a sandboxed process may write
		{Name: "fsize", Soft: 64 * 1024 * 1024, Hard: 64 * 1024 * 1024},
	}
	if processLimit > 0 {
		limits = append(limits, &units.Ulimit{Name: "nproc", Soft: processLimit, Hard: processLimit})
	}
	return limits
}
