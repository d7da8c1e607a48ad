package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExitCodeTimeout is reported for processes killed at the deadline
const ExitCodeTimeout = 124

// Labels attached to every container the service creates
const (
	LabelManaged  = "coderunner.managed"
	LabelRole     = "coderunner.role"
	LabelLanguage = "coderunner.language"
)

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)

// ErrContainerNotFound is returned when a container no longer exists
var ErrContainerNotFound = errors.New("container not found")

// Config describes one container. It is built once per execution attempt and
// never modified afterwards.
type Config struct {
	Image           string
	Name            string
	MemoryBytes     int64
	MemorySwapBytes int64
	WorkingDir      string
	Cmd             []string
	HostDir         string
	MountPath       string
	User            string
	Labels          map[string]string
	NetworkDisabled bool
	ProcessLimit    int64
	AttachStdout    bool
	AttachStderr    bool
}

// Bind returns the host:container bind mount, empty without a host directory
func (c Config) Bind() string {
	if c.HostDir == "" || c.MountPath == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.HostDir, c.MountPath)
}

// WithCmd returns a copy of c running cmd
func (c Config) WithCmd(cmd ...string) Config {
	c.Cmd = cmd
	return c
}

// WithName returns a copy of c with a container name
func (c Config) WithName(name string) Config {
	c.Name = name
	return c
}

// WithoutBind returns a copy of c without the host bind mount
func (c Config) WithoutBind() Config {
	c.HostDir = ""
	return c
}

// WithLabel returns a copy of c with an extra label
func (c Config) WithLabel(key, value string) Config {
	labels := make(map[string]string, len(c.Labels)+1)
	for k, v := range c.Labels {
		labels[k] = v
	}
	labels[key] = value
	c.Labels = labels
	return c
}

// Output is what a sandboxed process produced
type Output struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	TimedOut    bool
	StartupTime time.Duration
	RunTime     time.Duration
}

// Backend runs containers. Implementations must be safe for concurrent use.
type Backend interface {
	// EnsureImage pulls image when it is not present locally
	EnsureImage(ctx context.Context, image string) error
	// Run creates, starts and waits for a one-shot container, then removes it.
	// A run that exceeds timeout is killed and reported with TimedOut set.
	Run(ctx context.Context, cfg Config, timeout time.Duration) (Output, error)
	// Start creates and starts a long-lived container and returns its id
	Start(ctx context.Context, cfg Config) (string, error)
	// Exec runs cmd inside a started container
	Exec(ctx context.Context, id string, cmd []string, workdir string, timeout time.Duration) (Output, error)
	// CopyTo copies the contents of hostDir to containerPath
	CopyTo(ctx context.Context, id, hostDir, containerPath string) error
	// CopyFrom copies the contents of containerPath into hostDir
	CopyFrom(ctx context.Context, id, containerPath, hostDir string) error
	// Alive reports whether the container is running
	Alive(ctx context.Context, id string) bool
	// Remove force-removes a container; a missing container is not an error
	Remove(ctx context.Context, id string) error
	// Prune removes every container carrying LabelManaged
	Prune(ctx context.Context) (int, error)
}

func timedOutOutput(out Output, timeout time.Duration) Output {
	out.TimedOut = true
	out.ExitCode = ExitCodeTimeout
	if out.Stderr != "" && out.Stderr[len(out.Stderr)-1] != '\n' {
		out.Stderr += "\n"
	}
	out.Stderr += fmt.Sprintf("Execution timed out after %s", timeout)
	return out
}
