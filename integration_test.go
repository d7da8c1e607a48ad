package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/execution"
	"github.com/ascenddev/coderunner/keyword"
	"github.com/ascenddev/coderunner/logger"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/pool"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/sandbox/sandboxtest"
	"github.com/ascenddev/coderunner/sanitize"
	"github.com/ascenddev/coderunner/strategy"
	"github.com/ascenddev/coderunner/template"
)

const lessonDocument = `
id: lesson-double
title: Doubling
language: Python
codeTemplate:
  id: tpl-double
  language: python
  regions:
    - id: header
      content: "def double(x):\n"
      order: 1
    - id: body
      isEditable: true
      placeholder: "    pass"
      order: 2
testConfig:
  framework: pytest
  timeoutMs: 5000
  testTemplate: |
    from solution import double

    def test_double():
        assert double(2) == 4
  keywordRequirements:
    - keyword: return
      minOccurrences: 1
`

const passingReport = `{
  "tests": [{"name": "test_double", "outcome": "passed", "duration": 0.02}],
  "summary": {"total": 1, "passed": 1, "failed": 0, "error": 0, "duration": 0.02}
}`

type stack struct {
	cfg     *config.Config
	backend *sandboxtest.Backend
	pool    *pool.Manager
	grader  *execution.Grader
}

func newStack(t *testing.T) *stack {
	t.Helper()

	dir := t.TempDir()
	workDir := filepath.Join(dir, "work")
	content := `
sandbox:
  work_dir: ` + workDir + `
pool:
  enabled: true
  prewarm: [python]
  initial_size: 1
  min_per_key: 1
  max_per_key: 2
logging:
  mode: development
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(cfg.Sandbox.WorkDir, 0o755))

	appLogger, err := logger.NewFromConfig(cfg)
	require.NoError(t, err)
	appLogger.Debug("integration stack configured")
	_ = appLogger.Sync()

	log := zaptest.NewLogger(t)
	backend := sandboxtest.New()
	registry := strategy.NewRegistry(cfg, log)
	keywords := keyword.NewService(log)
	manager := pool.NewManager(backend, registry, cfg.Pool, log)
	orchestrator := execution.NewOrchestrator(cfg, backend, registry, keywords, log, execution.WithPool(manager))

	return &stack{
		cfg:     cfg,
		backend: backend,
		pool:    manager,
		grader:  execution.NewGrader(orchestrator, template.NewEngine(log), sanitize.New(), log),
	}
}

func loadLesson(t *testing.T) *model.Lesson {
	t.Helper()
	lesson, err := model.LoadLesson(strings.NewReader(lessonDocument))
	require.NoError(t, err)
	return lesson
}

func TestGradeTemplateLessonInPooledSandbox(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.backend.Artifacts = map[string]string{strategy.ResultsFile: passingReport}

	require.NoError(t, s.pool.Initialize(ctx, s.cfg.Pool.Prewarm[0], "", s.cfg.Pool.InitialSize))
	require.Len(t, s.pool.Stats(), 1)
	assert.Equal(t, 1, s.pool.Stats()[0].Idle)

	lesson := loadLesson(t)
	assert.Equal(t, "python", lesson.Language)

	result, err := s.grader.Submit(ctx, execution.Submission{
		Lesson:          lesson,
		EditableRegions: map[string]string{"body": "    return x * 2\n"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.Len(t, result.TestResults, 1)
	assert.True(t, result.TestResults[0].Passed)
	require.NotNil(t, result.KeywordValidation)
	assert.True(t, result.KeywordValidation.IsValid)

	// The sandbox went back to the pool instead of a new container being run.
	assert.Equal(t, 0, s.backend.Calls("Run"))
	assert.Equal(t, 1, s.backend.Calls("Start"))
	assert.Equal(t, 1, s.pool.Stats()[0].Idle)
	assert.Equal(t, 0, s.pool.Stats()[0].InUse)

	require.NoError(t, s.pool.Close(ctx))
	assert.Equal(t, 0, s.backend.Live())
}

func TestGradeRejectsMissingKeyword(t *testing.T) {
	s := newStack(t)
	s.backend.Artifacts = map[string]string{strategy.ResultsFile: passingReport}

	result, err := s.grader.Submit(context.Background(), execution.Submission{
		Lesson:          loadLesson(t),
		EditableRegions: map[string]string{"body": "    x * 2\n"},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.NotNil(t, result.KeywordValidation)
	require.Len(t, result.KeywordValidation.Errors, 1)
	assert.Equal(t, model.KeywordMissing, result.KeywordValidation.Errors[0].Kind)
}

func TestPlaygroundRunIsOneShot(t *testing.T) {
	s := newStack(t)
	s.backend.RunFunc = func(_ context.Context, cfg sandbox.Config, timeout time.Duration) (sandbox.Output, error) {
		assert.Equal(t, s.cfg.Execution.PlaygroundTimeout, timeout)
		return sandbox.Output{Stdout: "4\n", RunTime: 40 * time.Millisecond}, nil
	}

	result, err := s.grader.Run(context.Background(), "python", "print(2 + 2)")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "4\n", result.Stdout)
	assert.Equal(t, 1, s.backend.Calls("Run"))
	assert.Equal(t, 0, s.backend.Calls("Start"))
	assert.Empty(t, s.pool.Stats())
}

func TestUnsafeCodeNeverReachesSandbox(t *testing.T) {
	s := newStack(t)

	result, err := s.grader.Run(context.Background(), "python", "import subprocess\nsubprocess.run(['id'])")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Stderr, "unsafe operation")
	assert.Equal(t, 0, s.backend.TotalCalls())
}
