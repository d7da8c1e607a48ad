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

// NewCSharp creates the xunit strategy. The user code is embedded into the
// lesson's test template at UserCodeMarker.
func NewCSharp(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy {
	s := newLanguageStrategy("csharp", lang, opts, logger)
	s.runFile = "Program.cs"
	s.parse = parseXUnit
	s.errorPatterns = []*regexp.Regexp{compileErrorPattern}
	s.stdoutHints = []hint{
		{marker: "Could not load file or assembly", message: "A required assembly could not be found."},
		{marker: "Syntax error", message: "There is a syntax error in the code."},
	}
	s.prepare = prepareCSharp
	return s
}

// compileErrorPattern finds the first line mentioning an error with a colon
var compileErrorPattern = regexp.MustCompile(`(.*?error.*?:.*)`)

func prepareCSharp(fs sandbox.FileSystem, dir, code string, cfg model.TestConfig) error {
	content := strings.ReplaceAll(cfg.TestTemplate, UserCodeMarker, code)
	if err := writeFile(fs, dir, "UserSolution.cs", content); err != nil {
		return err
	}

	if timeout := cfg.EffectiveTimeoutMs(); timeout != model.DefaultTestTimeoutMs {
		settings := fmt.Sprintf("{\n  \"timeout\": %d\n}", timeout)
		if err := writeFile(fs, dir, "test-config.json", settings); err != nil {
			return err
		}
	}
	return nil
}
