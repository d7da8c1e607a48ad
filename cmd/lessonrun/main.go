// Command lessonrun grades a solution file against a lesson document, or runs
// it once in the playground when no lesson is given.
//
// Usage:
//
//	lessonrun -lesson lessons/double.yaml -solution solution.py
//	lessonrun -lesson lessons/double.yaml -regions regions.yaml
//	lessonrun -language python -solution hello.py
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/execution"
	"github.com/ascenddev/coderunner/keyword"
	"github.com/ascenddev/coderunner/logger"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/sandbox"
	"github.com/ascenddev/coderunner/sanitize"
	"github.com/ascenddev/coderunner/strategy"
	"github.com/ascenddev/coderunner/template"
)

const (
	exitPassed = 0
	exitFailed = 1
	exitError  = 2
)

type options struct {
	lesson    string
	solution  string
	regions   string
	language  string
	configDir string
	timeout   time.Duration
	verbose   bool
	noColor   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.lesson, "lesson", "", "Path to the lesson document (YAML or JSON)")
	flag.StringVar(&opts.solution, "solution", "", "Path to the solution source file")
	flag.StringVar(&opts.regions, "regions", "", "Path to a YAML map of editable region content")
	flag.StringVar(&opts.language, "language", "", "Run the solution in the playground of this language")
	flag.StringVar(&opts.configDir, "config", "", "Directory holding config.yaml")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall deadline")
	flag.BoolVar(&opts.verbose, "v", false, "Log execution details to stderr")
	flag.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flag.Parse()

	if opts.noColor {
		color.NoColor = true
	}

	os.Exit(run(opts, os.Stdout))
}

func run(opts options, out io.Writer) int {
	if err := opts.validate(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		return exitError
	}

	cfg, err := loadConfig(opts.configDir)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitError
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New("development", level)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return exitError
	}
	defer func() { _ = log.Sync() }()

	grader, err := newGrader(cfg, log)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "failed to create sandbox backend: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if opts.lesson == "" {
		code, err := os.ReadFile(opts.solution)
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "failed to read solution: %v\n", err)
			return exitError
		}

		result, err := grader.Run(ctx, opts.language, string(code))
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "execution failed: %v\n", err)
			return exitError
		}
		return printExecution(out, result)
	}

	sub, err := opts.submission()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		return exitError
	}

	result, err := grader.Submit(ctx, sub)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "test run failed: %v\n", err)
		return exitError
	}
	return printTestResult(out, sub.Lesson, result)
}

func (o options) validate() error {
	switch {
	case o.lesson == "" && o.language == "":
		return errors.New("either -lesson or -language is required")
	case o.lesson != "" && o.language != "":
		return errors.New("-lesson and -language are mutually exclusive")
	case o.solution == "" && o.regions == "":
		return errors.New("either -solution or -regions is required")
	case o.lesson == "" && o.regions != "":
		return errors.New("-regions requires -lesson")
	}
	return nil
}

// submission reads the lesson and the solution or region files
func (o options) submission() (execution.Submission, error) {
	f, err := os.Open(o.lesson)
	if err != nil {
		return execution.Submission{}, fmt.Errorf("failed to open lesson: %w", err)
	}
	defer f.Close()

	lesson, err := model.LoadLesson(f)
	if err != nil {
		return execution.Submission{}, err
	}
	sub := execution.Submission{Lesson: lesson}

	if o.solution != "" {
		code, err := os.ReadFile(o.solution)
		if err != nil {
			return execution.Submission{}, fmt.Errorf("failed to read solution: %w", err)
		}
		sub.Code = string(code)
	}

	if o.regions != "" {
		data, err := os.ReadFile(o.regions)
		if err != nil {
			return execution.Submission{}, fmt.Errorf("failed to read regions: %w", err)
		}
		if err := yaml.Unmarshal(data, &sub.EditableRegions); err != nil {
			return execution.Submission{}, fmt.Errorf("failed to decode regions: %w", err)
		}
	}

	return sub, nil
}

func loadConfig(dir string) (*config.Config, error) {
	if dir == "" {
		return config.New()
	}
	return config.Load(dir)
}

// newGrader builds a one-shot pipeline; the CLI never pools sandboxes
func newGrader(cfg *config.Config, log *zap.Logger) (*execution.Grader, error) {
	backend, err := sandbox.NewBackend(cfg, log)
	if err != nil {
		return nil, err
	}

	registry := strategy.NewRegistry(cfg, log)
	keywords := keyword.NewService(log)
	orchestrator := execution.NewOrchestrator(cfg, backend, registry, keywords, log)

	var checker execution.Checker
	if cfg.Execution.Sanitize {
		checker = sanitize.New()
	}
	return execution.NewGrader(orchestrator, template.NewEngine(log), checker, log), nil
}
