// Package strategy binds each supported language to its container images,
// the file layout its test image expects and the report format it produces.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/sandbox"
)

// Paths inside the language images
const (
	WorkingDir     = "/app"
	TestMountPath  = "/app/test"
	RunMountPath   = "/app/code"
	TestScript     = "/app/run-tests.sh"
	RunScript      = "/app/run-code.sh"
	ContainerUser  = "root"
	ResultsFile    = "results.json"
	CompileFile    = "compilation.txt"
	UserCodeMarker = "__USER_CODE__"
)

const (
	noResultsMessage   = "No test results found. The tests may have failed to run."
	noCasesMessage     = "Test execution failed - no test results were produced"
	defaultTestMessage = "Tests did not produce any results"
)

// Strategy is everything the orchestrator needs to know about one language
type Strategy interface {
	Language() string
	Framework() string
	// SupportsLanguage reports a case-insensitive exact match on the language name
	SupportsLanguage(name string) bool
	// SourceFileName is the playground entry point file
	SourceFileName(code string) string
	TestSandboxConfig(name, dir string, memoryMB int) sandbox.Config
	RunSandboxConfig(name, dir string) sandbox.Config
	PrepareTestFiles(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error
	PrepareRunFiles(fs sandbox.FileSystem, dir, code string) error
	// ProcessTestResult never fails; unreadable artifacts become diagnostic cases
	ProcessTestResult(fs sandbox.FileSystem, dir string, out sandbox.Output, cfg model.TestConfig) model.TestResult
	ProcessRunResult(fs sandbox.FileSystem, dir string, out sandbox.Output) model.CodeExecutionResult
}

// Options are the sandbox settings shared by every language
type Options struct {
	NetworkDisabled bool
	ProcessLimit    int64
}

// report is the framework independent content of results.json
type report struct {
	cases   []model.TestCaseResult
	success bool
	pureMs  float64
}

var errEmptyReport = errors.New("report is empty")

// hint appends a message to the generic error when stdout contains marker
type hint struct {
	marker  string
	message string
}

type languageStrategy struct {
	language  string
	framework string
	testImage string
	runImage  string
	memoryMB  int
	runFile   string
	opts      Options
	logger    *zap.Logger

	prepare func(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error
	parse   func(data []byte) (report, error)
	// errorPatterns are tried in order against stderr when no report exists
	errorPatterns []*regexp.Regexp
	// stdoutHints are used when stderr is empty
	stdoutHints []hint
	// nameCases fills unnamed report cases from the lesson's test cases
	nameCases bool
}

func newLanguageStrategy(language string, lang config.LanguageConfig, opts Options, logger *zap.Logger) *languageStrategy {
	return &languageStrategy{
		language:  language,
		framework: lang.Framework,
		testImage: lang.TestImage,
		runImage:  lang.RunImage,
		memoryMB:  lang.MemoryMB,
		opts:      opts,
		logger:    logger.With(zap.String("language", language)),
	}
}

func (s *languageStrategy) Language() string {
	return s.language
}

func (s *languageStrategy) Framework() string {
	return s.framework
}

func (s *languageStrategy) SupportsLanguage(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), s.language)
}

func (s *languageStrategy) SourceFileName(string) string {
	return s.runFile
}

func (s *languageStrategy) TestSandboxConfig(name, dir string, memoryMB int) sandbox.Config {
	if memoryMB <= 0 {
		memoryMB = s.memoryMB
	}
	return s.sandboxConfig(s.testImage, name, dir, TestMountPath, TestScript, memoryMB)
}

func (s *languageStrategy) RunSandboxConfig(name, dir string) sandbox.Config {
	image := s.runImage
	if image == "" {
		image = s.testImage
	}
	return s.sandboxConfig(image, name, dir, RunMountPath, RunScript, s.memoryMB)
}

func (s *languageStrategy) sandboxConfig(image, name, dir, mount, script string, memoryMB int) sandbox.Config {
	memory := int64(memoryMB) * 1024 * 1024
	return sandbox.Config{
		Image:           image,
		Name:            name,
		MemoryBytes:     memory,
		MemorySwapBytes: memory,
		WorkingDir:      WorkingDir,
		Cmd:             []string{"sh", "-c", script},
		HostDir:         dir,
		MountPath:       mount,
		User:            ContainerUser,
		Labels:          map[string]string{sandbox.LabelLanguage: s.language},
		NetworkDisabled: s.opts.NetworkDisabled,
		ProcessLimit:    s.opts.ProcessLimit,
		AttachStdout:    true,
		AttachStderr:    true,
	}
}

func (s *languageStrategy) PrepareTestFiles(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error {
	if err := s.prepare(fs, dir, code, cfg); err != nil {
		return fmt.Errorf("failed to prepare %s test files: %w", s.language, err)
	}
	return nil
}

func (s *languageStrategy) PrepareRunFiles(fs sandbox.FileSystem, dir, code string) error {
	if err := writeFile(fs, dir, s.SourceFileName(code), code); err != nil {
		return fmt.Errorf("failed to prepare %s source file: %w", s.language, err)
	}
	return nil
}

func (s *languageStrategy) ProcessTestResult(fs sandbox.FileSystem, dir string, out sandbox.Output, cfg model.TestConfig) model.TestResult {
	result := model.TestResult{
		Success:     out.ExitCode == 0,
		Stdout:      out.Stdout,
		Stderr:      out.Stderr,
		ExitCode:    out.ExitCode,
		TimedOut:    out.TimedOut,
		TestResults: []model.TestCaseResult{},
		Performance: &model.PerformanceMetrics{},
	}
	result.CompilationOutput = s.readCompilation(fs, dir)

	resultsPath := filepath.Join(dir, ResultsFile)
	exists, err := fs.FileExists(resultsPath)
	if err != nil {
		s.logger.Warn("failed to stat results file", zap.String("path", resultsPath), zap.Error(err))
	}

	if !exists {
		s.logger.Warn("results file not found", zap.String("path", resultsPath))
		result.TestResults = append(result.TestResults, model.TestCaseResult{
			TestName: model.CaseExecutionError,
			Passed:   false,
			Message:  s.diagnose(out.Stdout, out.Stderr),
		})
		result.Success = false
	} else {
		rep, err := s.readReport(fs, resultsPath)
		if err != nil {
			s.logger.Warn("failed to parse results file", zap.String("path", resultsPath), zap.Error(err))
			result.TestResults = append(result.TestResults, model.TestCaseResult{
				TestName: model.CaseParserError,
				Passed:   false,
				Message:  "Failed to parse test results from results.json",
			})
			result.Success = false
		} else {
			result.TestResults = append(result.TestResults, rep.cases...)
			result.Success = rep.success
			result.Performance.PureTestExecutionTimeMs = rep.pureMs
		}
	}

	if len(result.TestResults) == 0 {
		result.TestResults = fallbackCases(cfg)
		result.Success = false
	} else if s.nameCases {
		nameUnnamedCases(result.TestResults, cfg.TestCases)
	}

	if result.CompilationOutput != "" && out.ExitCode != 0 {
		result.Success = false
	}
	result.Performance.TestCount = len(result.TestResults)

	s.logger.Info("test processing complete",
		zap.Bool("success", result.Success),
		zap.Int("test_cases", len(result.TestResults)),
	)

	return result
}

func (s *languageStrategy) ProcessRunResult(fs sandbox.FileSystem, dir string, out sandbox.Output) model.CodeExecutionResult {
	result := model.CodeExecutionResult{
		Success:           out.ExitCode == 0 && !out.TimedOut,
		Stdout:            out.Stdout,
		Stderr:            out.Stderr,
		ExitCode:          out.ExitCode,
		ExecutionTimeMs:   out.RunTime.Milliseconds(),
		CompilationOutput: s.readCompilation(fs, dir),
		TimedOut:          out.TimedOut,
	}

	s.logger.Info("code execution complete",
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs),
	)

	return result
}

func (s *languageStrategy) readReport(fs sandbox.FileSystem, path string) (report, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return report{}, err
	}
	return s.parse(data)
}

func (s *languageStrategy) readCompilation(fs sandbox.FileSystem, dir string) string {
	path := filepath.Join(dir, CompileFile)
	if exists, _ := fs.FileExists(path); !exists {
		return ""
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		s.logger.Warn("failed to read compilation output", zap.String("path", path), zap.Error(err))
		return ""
	}
	return string(data)
}

// diagnose picks the most useful line explaining why no report was written
func (s *languageStrategy) diagnose(stdout, stderr string) string {
	if stderr != "" {
		for _, re := range s.errorPatterns {
			if m := re.FindStringSubmatch(stderr); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
		return noResultsMessage
	}

	for _, h := range s.stdoutHints {
		if strings.Contains(stdout, h.marker) {
			return noResultsMessage + " " + h.message
		}
	}
	return noResultsMessage
}

func fallbackCases(cfg model.TestConfig) []model.TestCaseResult {
	if len(cfg.TestCases) == 0 {
		return []model.TestCaseResult{{
			TestName: model.CaseDefaultTest,
			Passed:   false,
			Message:  defaultTestMessage,
		}}
	}

	cases := make([]model.TestCaseResult, 0, len(cfg.TestCases))
	for _, tc := range cfg.TestCases {
		cases = append(cases, model.TestCaseResult{
			TestName: tc.DisplayName(),
			Passed:   false,
			Message:  noCasesMessage,
		})
	}
	return cases
}

func nameUnnamedCases(results []model.TestCaseResult, cases []model.TestCase) {
	for i := 0; i < len(results) && i < len(cases); i++ {
		if results[i].TestName != "" {
			continue
		}
		name := cases[i].DisplayName()
		if cases[i].Name == "" && cases[i].Description == "" {
			name = fmt.Sprintf("Test Case %d", i+1)
		}
		results[i].TestName = name
	}
}

func writeFile(fs sandbox.FileSystem, dir, name, content string) error {
	return fs.WriteFile(filepath.Join(dir, name), []byte(content), sandbox.FilePermission)
}

// timeoutSeconds rounds a millisecond timeout up to whole seconds
func timeoutSeconds(ms int) int {
	return int(math.Ceil(float64(ms) / 1000))
}
