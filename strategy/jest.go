package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/sandbox"
)

var jestHints = []hint{
	{marker: "Cannot find module", message: "A required module could not be found."},
	{marker: "SyntaxError", message: "There is a syntax error in the code."},
}

// NewTypeScript creates the ts-jest strategy
func NewTypeScript(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	return newJest("typescript", "index.ts", "test.spec.ts", "ts-jest", lang, opts, logger)
}

// NewJavaScript creates the plain jest strategy
func NewJavaScript(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	return newJest("javascript", "index.js", "test.spec.js", "", lang, opts, logger)
}

func newJest(language, runFile, specFile, preset string, lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	s := newLanguageStrategy(language, lang, opts, logger)
	s.runFile = runFile
	s.parse = parseJest
	s.errorPatterns = []*regexp.Regexp{compileErrorPattern}
	s.stdoutHints = jestHints
	s.nameCases = true
	s.prepare = func(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error {
		content := strings.ReplaceAll(cfg.TestTemplate, UserCodeMarker, code)
		if err := writeFile(fs, dir, specFile, content); err != nil {
			return err
		}

		if timeout := cfg.EffectiveTimeoutMs(); timeout != model.DefaultTestTimeoutMs {
			if err := writeFile(fs, dir, "jest.config.js", jestConfig(preset, timeout)); err != nil {
				return err
			}
		}
		return nil
	}
	return s
}

func jestConfig(preset string, timeoutMs int) string {
	var b strings.Builder
	b.WriteString("module.exports = {\n")
	if preset != "" {
		fmt.Fprintf(&b, "  preset: '%s',\n", preset)
	}
	b.WriteString("  testEnvironment: 'node',\n")
	fmt.Fprintf(&b, "  testTimeout: %d\n", timeoutMs)
	b.WriteString("};\n")
	return b.String()
}
