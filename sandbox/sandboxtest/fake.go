// Package sandboxtest provides an in-memory sandbox.Backend for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ascenddev/coderunner/sandbox"
)

// Backend is a fake sandbox.Backend. Zero values answer with empty
// successful outputs; the hooks override individual operations.
type Backend struct {
	mu sync.Mutex

	// RunFunc answers Run
	RunFunc func(ctx context.Context, cfg sandbox.Config, timeout time.Duration) (sandbox.Output, error)
	// ExecFunc answers Exec
	ExecFunc func(ctx context.Context, id string, cmd []string, workdir string, timeout time.Duration) (sandbox.Output, error)
	// Artifacts are written into the host directory after Run and on CopyFrom
	Artifacts map[string]string

	EnsureErr error
	StartErr  error
	CopyErr   error

	calls   map[string]int
	configs []sandbox.Config
	live    map[string]bool
	removed []string
	copied  map[string][]string
	nextID  int
}

// New creates an empty fake backend
func New() *Backend {
	return &Backend{
		calls:  make(map[string]int),
		live:   make(map[string]bool),
		copied: make(map[string][]string),
	}
}

func (b *Backend) record(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[method]++
}

// Calls returns how often method was invoked
func (b *Backend) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// TotalCalls returns the number of calls of any method
func (b *Backend) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, n := range b.calls {
		total += n
	}
	return total
}

// Configs returns the configs passed to Run and Start
func (b *Backend) Configs() []sandbox.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sandbox.Config(nil), b.configs...)
}

// Removed returns the ids passed to Remove
func (b *Backend) Removed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.removed...)
}

// Live returns the number of started containers not yet removed
func (b *Backend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, alive := range b.live {
		if alive {
			n++
		}
	}
	return n
}

// Copied returns the file names copied into container id
func (b *Backend) Copied(id string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.copied[id]...)
}

// Kill marks a container as stopped without removing it
func (b *Backend) Kill(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[id] = false
}

func (b *Backend) EnsureImage(_ context.Context, _ string) error {
	b.record("EnsureImage")
	return b.EnsureErr
}

func (b *Backend) Run(ctx context.Context, cfg sandbox.Config, timeout time.Duration) (sandbox.Output, error) {
	b.record("Run")
	b.mu.Lock()
	b.configs = append(b.configs, cfg)
	b.mu.Unlock()

	out := sandbox.Output{}
	var err error
	if b.RunFunc != nil {
		out, err = b.RunFunc(ctx, cfg, timeout)
	}
	if err != nil {
		return out, err
	}
	if cfg.HostDir != "" {
		if werr := b.writeArtifacts(cfg.HostDir); werr != nil {
			return sandbox.Output{}, werr
		}
	}
	return out, nil
}

func (b *Backend) Start(_ context.Context, cfg sandbox.Config) (string, error) {
	b.record("Start")
	if b.StartErr != nil {
		return "", b.StartErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := fmt.Sprintf("fake-%d", b.nextID)
	b.configs = append(b.configs, cfg)
	b.live[id] = true
	return id, nil
}

func (b *Backend) Exec(ctx context.Context, id string, cmd []string, workdir string, timeout time.Duration) (sandbox.Output, error) {
	b.record("Exec")
	b.mu.Lock()
	alive := b.live[id]
	b.mu.Unlock()
	if !alive {
		return sandbox.Output{}, fmt.Errorf("%w: %s", sandbox.ErrContainerNotFound, id)
	}

	if b.ExecFunc != nil {
		return b.ExecFunc(ctx, id, cmd, workdir, timeout)
	}
	return sandbox.Output{}, nil
}

func (b *Backend) CopyTo(_ context.Context, id, hostDir, _ string) error {
	b.record("CopyTo")
	if b.CopyErr != nil {
		return b.CopyErr
	}

	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.copied[id] = append(b.copied[id], e.Name())
	}
	return nil
}

func (b *Backend) CopyFrom(_ context.Context, _, _, hostDir string) error {
	b.record("CopyFrom")
	if b.CopyErr != nil {
		return b.CopyErr
	}
	return b.writeArtifacts(hostDir)
}

func (b *Backend) Alive(_ context.Context, id string) bool {
	b.record("Alive")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[id]
}

func (b *Backend) Remove(_ context.Context, id string) error {
	b.record("Remove")
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.live, id)
	b.removed = append(b.removed, id)
	return nil
}

func (b *Backend) Prune(_ context.Context) (int, error) {
	b.record("Prune")
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.live)
	b.live = make(map[string]bool)
	return n, nil
}

func (b *Backend) writeArtifacts(dir string) error {
	for name, content := range b.Artifacts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), sandbox.FilePermission); err != nil {
			return err
		}
	}
	return nil
}
