// Package pool keeps prewarmed sandboxes per (language, framework) so that
// graded runs skip container startup.
//
// A sandbox handed out by Acquire belongs to exactly one caller until it is
// given back with Release or Discard. Release resets the mount directory and
// returns the sandbox to the pool when it is still healthy; Discard always
// destroys it, which is what callers do after a timeout.
package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/strategy"
)

const (
	prewarmParallelism = 4
	resetTimeout       = 30 * time.Second
	roleLabel          = "pool"
)

// ErrClosed is returned by Acquire after Close
var ErrClosed = errors.New("sandbox pool is closed")

// Sandbox is a running container waiting for work
type Sandbox struct {
	ID        string
	Name      string
	Language  string
	Framework string
	Image     string
	CreatedAt time.Time
	LastUsed  time.Time
}

// Resolver finds the strategy of a language
type Resolver interface {
	Resolve(language string) (strategy.Strategy, error)
}

// KeyStats describes one (language, framework) pool
type KeyStats struct {
	Language  string `json:"language"`
	Framework string `json:"framework"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"inUse"`
}

type key struct {
	language  string
	framework string
}

func newKey(language, framework string) key {
	return key{
		language:  strings.ToLower(strings.TrimSpace(language)),
		framework: strings.ToLower(strings.TrimSpace(framework)),
	}
}

func (k key) String() string {
	return k.language + "/" + k.framework
}

// Manager owns every pooled sandbox
type Manager struct {
	backend    sandbox.Backend
	strategies Resolver
	cfg        config.PoolConfig
	logger     *zap.Logger

	mu       sync.Mutex
	idle     map[key][]*Sandbox
	inUse    map[string]*Sandbox
	prepared map[key]bool
	closed   bool
}

// NewManager creates an empty pool
func NewManager(backend sandbox.Backend, strategies Resolver, cfg config.PoolConfig, logger *zap.Logger) *Manager {
	return &Manager{
		backend:    backend,
		strategies: strategies,
		cfg:        cfg,
		logger:     logger.Named("pool"),
		idle:       make(map[key][]*Sandbox),
		inUse:      make(map[string]*Sandbox),
		prepared:   make(map[key]bool),
	}
}

// Initialize creates count sandboxes for the key. Calling it again for a key
// that was already initialized does nothing.
func (m *Manager) Initialize(ctx context.Context, language, framework string, count int) error {
	st, err := m.strategies.Resolve(language)
	if err != nil {
		return err
	}
	k := m.keyFor(st, framework)

	m.mu.Lock()
	if m.prepared[k] || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.prepared[k] = true
	m.mu.Unlock()

	if err := m.backend.EnsureImage(ctx, st.TestSandboxConfig("", "", 0).Image); err != nil {
		return err
	}

	m.logger.Info("initializing sandbox pool", zap.Stringer("key", k), zap.Int("count", count))
	created, err := m.fill(ctx, st, k, count)
	m.logger.Info("sandbox pool initialized", zap.Stringer("key", k), zap.Int("created", created), zap.Error(err))
	return err
}

// Acquire hands out an idle sandbox or cold starts a new one
func (m *Manager) Acquire(ctx context.Context, language, framework string) (*Sandbox, error) {
	st, err := m.strategies.Resolve(language)
	if err != nil {
		return nil, err
	}
	k := m.keyFor(st, framework)

	for {
		sb, closed := m.popIdle(k)
		if closed {
			return nil, ErrClosed
		}
		if sb == nil {
			break
		}
		if m.backend.Alive(ctx, sb.ID) {
			m.logger.Debug("acquired pooled sandbox", zap.Stringer("key", k), zap.String("sandbox", sb.Name))
			return sb, nil
		}
		m.logger.Warn("pooled sandbox is not running", zap.String("sandbox", sb.Name))
		m.forget(sb)
		m.destroy(ctx, sb)
	}

	if err := m.backend.EnsureImage(ctx, st.TestSandboxConfig("", "", 0).Image); err != nil {
		return nil, err
	}

	sb, err := m.create(ctx, st, k)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.destroy(context.WithoutCancel(ctx), sb)
		return nil, ErrClosed
	}
	m.inUse[sb.ID] = sb
	m.mu.Unlock()

	m.logger.Debug("cold started sandbox", zap.Stringer("key", k), zap.String("sandbox", sb.Name))
	return sb, nil
}

// Release resets sb and returns it to the pool when it is healthy and the
// pool has room, otherwise destroys it.
func (m *Manager) Release(ctx context.Context, sb *Sandbox) {
	if !m.forget(sb) {
		m.logger.Warn("released sandbox is not in use", zap.String("sandbox", sb.Name))
		return
	}

	if !m.reset(ctx, sb) {
		m.destroy(ctx, sb)
		return
	}

	k := newKey(sb.Language, sb.Framework)

	m.mu.Lock()
	if m.closed || len(m.idle[k]) >= m.cfg.MaxPerKey {
		m.mu.Unlock()
		m.destroy(ctx, sb)
		return
	}
	sb.LastUsed = time.Now()
	m.idle[k] = append(m.idle[k], sb)
	m.mu.Unlock()
}

// Discard destroys sb without returning it to the pool
func (m *Manager) Discard(ctx context.Context, sb *Sandbox) {
	m.forget(sb)
	m.destroy(ctx, sb)
}

// Close destroys every idle sandbox. Sandboxes still in use are destroyed when
// they are released.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var all []*Sandbox
	for k, list := range m.idle {
		all = append(all, list...)
		delete(m.idle, k)
	}
	m.mu.Unlock()

	var errs []error
	for _, sb := range all {
		if err := m.backend.Remove(ctx, sb.ID); err != nil {
			m.logger.Error("failed to destroy sandbox", zap.String("sandbox", sb.Name), zap.Error(err))
			errs = append(errs, err)
		}
	}

	m.logger.Info("sandbox pool closed", zap.Int("destroyed", len(all)-len(errs)))
	return errors.Join(errs...)
}

// Run performs maintenance every cfg.MaintenanceInterval until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Maintain(ctx)
		}
	}
}

// Maintain evicts sandboxes idle longer than the idle timeout, keeping at
// least MinPerKey, and refills initialized keys below MinPerKey.
func (m *Manager) Maintain(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var expired []*Sandbox
	deficits := make(map[key]int)
	for k, list := range m.idle {
		remaining := len(list)
		kept := make([]*Sandbox, 0, len(list))
		for _, sb := range list {
			if remaining > m.cfg.MinPerKey && now.Sub(sb.LastUsed) > m.cfg.IdleTimeout {
				expired = append(expired, sb)
				remaining--
				continue
			}
			kept = append(kept, sb)
		}
		m.idle[k] = kept
	}
	for k := range m.prepared {
		if missing := m.cfg.MinPerKey - len(m.idle[k]); missing > 0 {
			deficits[k] = missing
		}
	}
	m.mu.Unlock()

	for _, sb := range expired {
		m.logger.Debug("evicting idle sandbox", zap.String("sandbox", sb.Name))
		m.destroy(ctx, sb)
	}

	for k, missing := range deficits {
		st, err := m.strategies.Resolve(k.language)
		if err != nil {
			continue
		}
		if _, err := m.fill(ctx, st, k, missing); err != nil {
			m.logger.Warn("failed to replenish sandbox pool", zap.Stringer("key", k), zap.Error(err))
		}
	}
}

// Stats reports idle and in-use counts per key
func (m *Manager) Stats() []KeyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[key]*KeyStats)
	get := func(k key) *KeyStats {
		if s, ok := counts[k]; ok {
			return s
		}
		s := &KeyStats{Language: k.language, Framework: k.framework}
		counts[k] = s
		return s
	}
	for k := range m.prepared {
		get(k)
	}
	for k, list := range m.idle {
		get(k).Idle += len(list)
	}
	for _, sb := range m.inUse {
		get(newKey(sb.Language, sb.Framework)).InUse++
	}

	stats := make([]KeyStats, 0, len(counts))
	for _, s := range counts {
		stats = append(stats, *s)
	}
	slices.SortFunc(stats, func(a, b KeyStats) int {
		if c := strings.Compare(a.Language, b.Language); c != 0 {
			return c
		}
		return strings.Compare(a.Framework, b.Framework)
	})
	return stats
}

func (m *Manager) keyFor(st strategy.Strategy, framework string) key {
	if strings.TrimSpace(framework) == "" {
		framework = st.Framework()
	}
	return newKey(st.Language(), framework)
}

// popIdle moves the oldest idle sandbox of k to the in-use set
func (m *Manager) popIdle(k key) (*Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, true
	}
	list := m.idle[k]
	if len(list) == 0 {
		return nil, false
	}
	sb := list[0]
	m.idle[k] = list[1:]
	m.inUse[sb.ID] = sb
	return sb, false
}

// forget removes sb from the in-use set and reports whether it was there
func (m *Manager) forget(sb *Sandbox) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inUse[sb.ID]; !ok {
		return false
	}
	delete(m.inUse, sb.ID)
	return true
}

// fill starts up to count sandboxes for k and adds them to the idle list
func (m *Manager) fill(ctx context.Context, st strategy.Strategy, k key, count int) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prewarmParallelism)

	var mu sync.Mutex
	created := 0
	for i := 0; i < count; i++ {
		g.Go(func() error {
			sb, err := m.create(gctx, st, k)
			if err != nil {
				return err
			}

			m.mu.Lock()
			if m.closed || len(m.idle[k]) >= m.cfg.MaxPerKey {
				m.mu.Unlock()
				m.destroy(context.WithoutCancel(gctx), sb)
				return nil
			}
			m.idle[k] = append(m.idle[k], sb)
			m.mu.Unlock()

			mu.Lock()
			created++
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return created, err
}

func (m *Manager) create(ctx context.Context, st strategy.Strategy, k key) (*Sandbox, error) {
	name := fmt.Sprintf("prewarmed-%s-%s-%s", k.language, k.framework, uuid.NewString()[:8])
	cfg := st.TestSandboxConfig(name, "", 0).
		WithoutBind().
		WithCmd("sh", "-c", fmt.Sprintf("mkdir -p %s && tail -f /dev/null", strategy.TestMountPath)).
		WithLabel(sandbox.LabelRole, roleLabel)

	id, err := m.backend.Start(ctx, cfg)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.SandboxFailure, "failed to start pooled sandbox")
	}

	now := time.Now()
	return &Sandbox{
		ID:        id,
		Name:      name,
		Language:  k.language,
		Framework: k.framework,
		Image:     cfg.Image,
		CreatedAt: now,
		LastUsed:  now,
	}, nil
}

// reset empties the mount directory so that the next attempt starts clean
func (m *Manager) reset(ctx context.Context, sb *Sandbox) bool {
	if !m.backend.Alive(ctx, sb.ID) {
		return false
	}

	cmd := fmt.Sprintf("rm -rf %[1]s/* %[1]s/.[!.]*", strategy.TestMountPath)
	out, err := m.backend.Exec(ctx, sb.ID, []string{"sh", "-c", cmd}, strategy.WorkingDir, resetTimeout)
	if err != nil || out.ExitCode != 0 || out.TimedOut {
		m.logger.Warn("failed to reset sandbox",
			zap.String("sandbox", sb.Name),
			zap.Int("exit_code", out.ExitCode),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (m *Manager) destroy(ctx context.Context, sb *Sandbox) {
	if err := m.backend.Remove(ctx, sb.ID); err != nil {
		m.logger.Error("failed to destroy sandbox", zap.String("sandbox", sb.Name), zap.Error(err))
	}
}
