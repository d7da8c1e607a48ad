package strategy

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/config"
	"github.com/ascenddev/coderunner/model"
	"github.com/ascenddev/coderunner/sandbox"
)

// NewPython creates the pytest strategy
func NewPython(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	s := newLanguageStrategy("python", lang, opts, logger)
	s.runFile = "main.py"
	s.parse = parsePytest
	s.errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(SyntaxError:.+?)(?:\n|$)`),
		regexp.MustCompile(`(ImportError:.+?)(?:\n|$)`),
	}
	s.prepare = preparePython
	return s
}

func preparePython(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error {
	if err := writeFile(fs, dir, "solution.py", code); err != nil {
		return err
	}
	if err := writeFile(fs, dir, "test_solution.py", cfg.TestTemplate); err != nil {
		return err
	}

	if timeout := cfg.EffectiveTimeoutMs(); timeout != model.DefaultTestTimeoutMs {
		ini := fmt.Sprintf("[pytest]\ntimeout = %d\n", timeoutSeconds(timeout))
		if err := writeFile(fs, dir, "pytest.ini", ini); err != nil {
			return err
		}
	}
	return nil
}
