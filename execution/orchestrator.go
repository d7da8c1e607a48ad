package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/keyword"
	"github.com/ascenddev/coderunner/logger"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/pool"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/strategy"
)

const (
	timeoutTestMessage = "Test execution timed out. Your code may have an infinite loop or is taking too long to complete."
	timeoutRunMessage  = "Code execution timed out. Your code may have an infinite loop or is taking too long to complete."
)

// Strategies resolves the strategy of a language
type Strategies interface {
	Resolve(language string) (strategy.Strategy, error)
}

// Pool hands out prewarmed sandboxes
type Pool interface {
	Acquire(ctx context.Context, language, framework string) (*pool.Sandbox, error)
	Release(ctx context.Context, sb *pool.Sandbox)
	Discard(ctx context.Context, sb *pool.Sandbox)
}

// KeywordValidator checks keyword requirements
type KeywordValidator interface {
	Validate(ctx context.Context, code, language string, requirements []model.KeywordRequirement) (model.KeywordValidationResult, error)
}

// ExecuteRequest is a playground run
type ExecuteRequest struct {
	Language  string `json:"language"`
	Code      string `json:"code"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Orchestrator runs submissions through a strategy and a sandbox
type Orchestrator struct {
	backend           sandbox.Backend
	strategies        Strategies
	keywords          KeywordValidator
	pool              Pool
	fs                sandbox.FileSystem
	workDir           string
	grace             time.Duration
	playgroundTimeout time.Duration
	logger            *zap.Logger
}

// Option defines a functional option for Orchestrator
type Option func(*Orchestrator)

// WithPool runs graded submissions in pooled sandboxes
func WithPool(p Pool) Option {
	return func(o *Orchestrator) {
		o.pool = p
	}
}

// WithFileSystem sets the FileSystem used for execution directories
func WithFileSystem(fs sandbox.FileSystem) Option {
	return func(o *Orchestrator) {
		o.fs = fs
	}
}

// NewOrchestrator creates an orchestrator running one-shot containers unless
// WithPool is given.
func NewOrchestrator(
	cfg *config.Config,
	backend sandbox.Backend,
	strategies Strategies,
	keywords KeywordValidator,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		backend:           backend,
		strategies:        strategies,
		keywords:          keywords,
		fs:                &sandbox.RealFileSystem{},
		workDir:           cfg.Sandbox.WorkDir,
		grace:             cfg.Execution.TimeoutGrace,
		playgroundTimeout: cfg.Execution.PlaygroundTimeout,
		logger:            logger.Named("execution"),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// RunTests grades code against the lesson's tests. Expected failures (an
// unsupported language, a sandbox that cannot start, a timeout) are reported
// in the result. An error is returned for a nil lesson or when ctx is done.
func (o *Orchestrator) RunTests(ctx context.Context, code string, lesson *model.Lesson) (model.TestResult, error) {
	if lesson == nil {
		return model.TestResult{}, apperr.Newf(apperr.InvalidRequest, "lesson is required")
	}

	st, err := o.strategies.Resolve(lesson.Language)
	if err != nil {
		o.logger.Error("language not supported", zap.String("language", lesson.Language), zap.Error(err))
		return model.FailedTestResult(model.CaseLanguageError, err.Error()), nil
	}

	var (
		g          errgroup.Group
		validation *model.KeywordValidationResult
	)
	if len(lesson.TestConfig.KeywordRequirements) > 0 {
		g.Go(func() error {
			validation = o.validateKeywords(ctx, code, lesson)
			return nil
		})
	}

	result, err := o.runTests(ctx, st, code, lesson)
	_ = g.Wait()
	if err != nil {
		return model.TestResult{}, err
	}

	if validation != nil {
		result.KeywordValidation = validation
		if !validation.IsValid {
			result.Success = false
		}
	}

	return result, nil
}

// Execute runs code once in the playground image and returns its output
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (model.CodeExecutionResult, error) {
	st, err := o.strategies.Resolve(req.Language)
	if err != nil {
		o.logger.Error("language not supported", zap.String("language", req.Language), zap.Error(err))
		return failedExecution(err.Error()), nil
	}

	timeout := o.playgroundTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	a := o.newAttempt(st.Language())
	metrics := &model.PerformanceMetrics{}

	prepStart := time.Now()
	dir, err := sandbox.NewExecutionDir(o.fs, o.workDir, a.id)
	if err != nil {
		a.fail(err)
		return failedExecution(fmt.Sprintf("Error setting up execution environment: %s", err)), nil
	}
	defer o.cleanup(dir, a, metrics)

	if err := st.PrepareRunFiles(o.fs, dir.Path, req.Code); err != nil {
		a.fail(err)
		return failedExecution(fmt.Sprintf("Error setting up execution environment: %s", err)), nil
	}
	metrics.FilePreparationTimeMs = ms(time.Since(prepStart))
	a.transition(StateFilesPrepared)

	cfg := st.RunSandboxConfig("coderunner-run-"+a.id, dir.Path)
	if err := o.backend.EnsureImage(ctx, cfg.Image); err != nil {
		if ctx.Err() != nil {
			a.cancel()
			return model.CodeExecutionResult{}, ctx.Err()
		}
		a.fail(err)
		return failedExecution(fmt.Sprintf("Error during container execution: %s", err)), nil
	}
	a.transition(StateSandboxAcquired)

	a.transition(StateRunning, zap.Duration("timeout", timeout))
	out, err := o.backend.Run(ctx, cfg, timeout)
	if err != nil {
		if ctx.Err() != nil {
			a.cancel()
			return model.CodeExecutionResult{}, ctx.Err()
		}
		a.fail(err)
		return failedExecution(fmt.Sprintf("Error during container execution: %s", err)), nil
	}
	a.transition(StateResultCollected, zap.Int("exit_code", out.ExitCode))

	result := st.ProcessRunResult(o.fs, dir.Path, out)
	metrics.ContainerStartupTimeMs = ms(out.StartupTime)
	metrics.ContainerExecutionTimeMs = ms(out.RunTime)
	metrics.PureTestExecutionTimeMs = ms(out.RunTime)
	result.Performance = metrics

	if out.TimedOut {
		result.Success = false
		result.Stderr = appendLine(result.Stderr, timeoutRunMessage)
		a.transition(StateTimedOut)
	} else {
		a.transition(StateCompleted, zap.Bool("success", result.Success))
	}

	return result, nil
}

func (o *Orchestrator) runTests(ctx context.Context, st strategy.Strategy, code string, lesson *model.Lesson) (model.TestResult, error) {
	a := o.newAttempt(st.Language())
	metrics := &model.PerformanceMetrics{}

	prepStart := time.Now()
	dir, err := sandbox.NewExecutionDir(o.fs, o.workDir, a.id)
	if err != nil {
		a.fail(err)
		return environmentError(err), nil
	}

	result, err := o.gradeInDir(ctx, a, st, dir, code, lesson, metrics, prepStart)
	o.cleanup(dir, a, metrics)
	if err != nil {
		return model.TestResult{}, err
	}

	if result.Performance == nil {
		result.Performance = metrics
	}
	return result, nil
}

func (o *Orchestrator) gradeInDir(
	ctx context.Context,
	a *attempt,
	st strategy.Strategy,
	dir *sandbox.ExecutionDir,
	code string,
	lesson *model.Lesson,
	metrics *model.PerformanceMetrics,
	prepStart time.Time,
) (model.TestResult, error) {
	if err := st.PrepareTestFiles(o.fs, dir.Path, code, lesson.TestConfig); err != nil {
		a.fail(err)
		return environmentError(err), nil
	}
	metrics.FilePreparationTimeMs = ms(time.Since(prepStart))
	a.transition(StateFilesPrepared)

	timeout := time.Duration(lesson.TestConfig.EffectiveTimeoutMs())*time.Millisecond + o.grace

	var (
		out sandbox.Output
		err error
	)
	if o.pool != nil {
		out, err = o.runPooled(ctx, a, st, dir, lesson, timeout, metrics)
	} else {
		out, err = o.runOneShot(ctx, a, st, dir, lesson, timeout, metrics)
	}
	if err != nil {
		if ctx.Err() != nil {
			a.cancel()
			return model.TestResult{}, ctx.Err()
		}
		a.fail(err)
		result := model.FailedTestResult(model.CaseExecutionError,
			fmt.Sprintf("Error during container execution: %s", err))
		result.Performance = metrics
		return result, nil
	}
	a.transition(StateResultCollected, zap.Int("exit_code", out.ExitCode))

	metrics.ContainerExecutionTimeMs = ms(out.RunTime)

	result := st.ProcessTestResult(o.fs, dir.Path, out, lesson.TestConfig)
	if result.Performance != nil {
		metrics.PureTestExecutionTimeMs = result.Performance.PureTestExecutionTimeMs
		metrics.TestCount = result.Performance.TestCount
	}
	result.Performance = metrics

	if out.TimedOut {
		result.Success = false
		result.TimedOut = true
		result.ExitCode = model.ExitCodeTimeout
		result.TestResults = []model.TestCaseResult{{
			TestName: model.CaseTimeoutError,
			Passed:   false,
			Message:  timeoutTestMessage,
		}}
		metrics.TestCount = len(result.TestResults)
		a.transition(StateTimedOut, zap.Duration("timeout", timeout))
		return result, nil
	}

	a.transition(StateCompleted, zap.Bool("success", result.Success))
	return result, nil
}

func (o *Orchestrator) runOneShot(
	ctx context.Context,
	a *attempt,
	st strategy.Strategy,
	dir *sandbox.ExecutionDir,
	lesson *model.Lesson,
	timeout time.Duration,
	metrics *model.PerformanceMetrics,
) (sandbox.Output, error) {
	cfg := st.TestSandboxConfig("coderunner-exec-"+a.id, dir.Path, lesson.TestConfig.MemoryLimitMB)
	if err := o.backend.EnsureImage(ctx, cfg.Image); err != nil {
		return sandbox.Output{}, err
	}
	a.transition(StateSandboxAcquired, zap.String("container", cfg.Name))

	a.transition(StateRunning, zap.Duration("timeout", timeout))
	out, err := o.backend.Run(ctx, cfg, timeout)
	if err != nil {
		return sandbox.Output{}, err
	}
	metrics.ContainerStartupTimeMs = ms(out.StartupTime)
	return out, nil
}

// runPooled copies the execution directory into a pooled sandbox, runs the
// test script there and copies the artifacts back. A sandbox that timed out
// or failed is discarded so the user process dies with it.
func (o *Orchestrator) runPooled(
	ctx context.Context,
	a *attempt,
	st strategy.Strategy,
	dir *sandbox.ExecutionDir,
	lesson *model.Lesson,
	timeout time.Duration,
	metrics *model.PerformanceMetrics,
) (sandbox.Output, error) {
	startup := time.Now()
	sb, err := o.pool.Acquire(ctx, st.Language(), lesson.TestConfig.Framework)
	if err != nil {
		return sandbox.Output{}, err
	}
	a.transition(StateSandboxAcquired, zap.String("sandbox", sb.Name))

	healthy := false
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if healthy {
			o.pool.Release(releaseCtx, sb)
		} else {
			o.pool.Discard(releaseCtx, sb)
		}
	}()

	if err := o.backend.CopyTo(ctx, sb.ID, dir.Path, strategy.TestMountPath); err != nil {
		return sandbox.Output{}, err
	}
	metrics.ContainerStartupTimeMs = ms(time.Since(startup))

	cmd := st.TestSandboxConfig(sb.Name, "", 0).Cmd
	a.transition(StateRunning, zap.Duration("timeout", timeout))
	out, err := o.backend.Exec(ctx, sb.ID, cmd, strategy.WorkingDir, timeout)
	if err != nil {
		return sandbox.Output{}, err
	}
	if out.TimedOut {
		return out, nil
	}

	if err := o.backend.CopyFrom(ctx, sb.ID, strategy.TestMountPath, dir.Path); err != nil {
		return sandbox.Output{}, err
	}

	healthy = true
	return out, nil
}

func (o *Orchestrator) validateKeywords(ctx context.Context, code string, lesson *model.Lesson) *model.KeywordValidationResult {
	result, err := o.keywords.Validate(ctx, code, lesson.Language, lesson.TestConfig.KeywordRequirements)
	if err != nil {
		o.logger.Error("keyword validation failed", zap.String("language", lesson.Language), zap.Error(err))
		result = keyword.SystemErrorResult(err)
	}
	return &result
}

func (o *Orchestrator) cleanup(dir *sandbox.ExecutionDir, a *attempt, metrics *model.PerformanceMetrics) {
	start := time.Now()
	if err := dir.Remove(); err != nil {
		a.logger.Warn("failed to remove execution directory", zap.String("path", dir.Path), zap.Error(err))
	}
	metrics.ContainerCleanupTimeMs = ms(time.Since(start))
	metrics.ExecutionTimeMs = ms(time.Since(a.started))
	metrics.Finalize()
}

func (o *Orchestrator) newAttempt(language string) *attempt {
	id := sandbox.NewExecutionID()
	a := &attempt{
		id:      id,
		state:   StateQueued,
		logger:  logger.ForExecution(o.logger, id, language),
		started: time.Now(),
	}
	a.logger.Info("execution queued")
	return a
}

func environmentError(err error) model.TestResult {
	return model.FailedTestResult(model.CaseEnvironmentError,
		fmt.Sprintf("Error setting up execution environment: %s", err))
}

func failedExecution(message string) model.CodeExecutionResult {
	return model.CodeExecutionResult{
		Success:  false,
		Stderr:   message,
		ExitCode: -1,
	}
}

func appendLine(s, line string) string {
	if s != "" && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
