package strategy

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/config"
)

// Constructor builds the strategy of one language
type Constructor func(lang config.LanguageConfig, opts Options, logger *zap.Logger) Strategy

var constructors = map[string]Constructor{
	"python":     NewPython,
	"go":         NewGo,
	"csharp":     NewCSharp,
	"typescript": NewTypeScript,
	"javascript": NewJavaScript,
}

// Registry is the closed set of strategies, built once at startup
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a strategy for every configured language that has a
// known constructor. Unknown languages in the configuration are ignored.
func NewRegistry(cfg *config.Config, logger *zap.Logger) *Registry {
	opts := Options{
		NetworkDisabled: !cfg.Sandbox.NetworkEnabled,
		ProcessLimit:    cfg.Sandbox.ProcessLimit,
	}

	names := make([]string, 0, len(cfg.Languages))
	for name := range cfg.Languages {
		names = append(names, name)
	}
	slices.Sort(names)

	r := &Registry{}
	for _, name := range names {
		ctor, ok := constructors[name]
		if !ok {
			logger.Warn("no strategy for configured language", zap.String("language", name))
			continue
		}
		r.strategies = append(r.strategies, ctor(cfg.Languages[name], opts, logger))
	}
	return r
}

// NewRegistryOf wraps a fixed set of strategies
func NewRegistryOf(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Resolve returns the strategy supporting language
func (r *Registry) Resolve(language string) (Strategy, error) {
	for _, s := range r.strategies {
		if s.SupportsLanguage(language) {
			return s, nil
		}
	}
	return nil, apperr.Newf(apperr.LanguageNotSupported,
		"Language '%s' is not supported. Supported languages: %s",
		language, strings.Join(r.Languages(), ", "))
}

// Languages lists the supported language names in sorted order
func (r *Registry) Languages() []string {
	langs := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		langs = append(langs, s.Language())
	}
	slices.Sort(langs)
	return langs
}
