package strategy

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/sandbox"
)

const goModule = "module solution\n\ngo 1.21\n"

// NewGo creates the go test strategy
func NewGo(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	s := newLanguageStrategy("go", lang, opts, logger)
	s.runFile = "main.go"
	s.parse = parseGoTest
	s.errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(syntax error:.+?)(?:\n|$)`),
		regexp.MustCompile(`(.*\.go:\d+:\d+:.+?)(?:\n|$)`),
	}
	s.nameCases = true
	s.prepare = prepareGo
	return s
}

func prepareGo(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error {
	if err := writeFile(fs, dir, "solution.go", code); err != nil {
		return err
	}
	if err := writeFile(fs, dir, "solution_test.go", cfg.TestTemplate); err != nil {
		return err
	}
	if err := writeFile(fs, dir, "go.mod", goModule); err != nil {
		return err
	}

	if timeout := cfg.EffectiveTimeoutMs(); timeout != model.DefaultTestTimeoutMs {
		content := fmt.Sprintf("{\n  \"timeout\": %d\n}", timeoutSeconds(timeout))
		if err := writeFile(fs, dir, "test-config.json", content); err != nil {
			return err
		}
	}
	return nil
}
