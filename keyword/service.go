// Package keyword validates that submitted source code uses required language
// constructs.
//
// A requirement names a token (a keyword, an operator, an identifier) and a
// bounded number of occurrences. Occurrences inside comments and string
// literals never count.
package keyword

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/model"
)

// Service validates keyword requirements against source code
type Service struct {
	analyzers map[string]*Analyzer
	logger    *zap.Logger
}

// NewService creates a service with the analyzers of every supported language
func NewService(logger *zap.Logger) *Service {
	typeScript := NewTypeScriptAnalyzer()
	return &Service{
		analyzers: map[string]*Analyzer{
			"go":         NewGoAnalyzer(),
			"python":     NewPythonAnalyzer(),
			"typescript": typeScript,
			"javascript": typeScript,
			"csharp":     NewCSharpAnalyzer(),
		},
		logger: logger,
	}
}

// SupportedLanguages returns the languages with an analyzer, sorted
func (s *Service) SupportedLanguages() []string {
	langs := make([]string, 0, len(s.analyzers))
	for name := range s.analyzers {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}

// Analyzer returns the analyzer of language, case-insensitive
func (s *Service) Analyzer(language string) (*Analyzer, error) {
	if a, ok := s.analyzers[strings.ToLower(language)]; ok {
		return a, nil
	}
	return nil, apperr.Newf(apperr.LanguageNotSupported,
		"Language '%s' is not supported for keyword validation. Supported languages: %s",
		language, strings.Join(s.SupportedLanguages(), ", "))
}

// Validate checks every required requirement against code. An unsupported
// language is an error; a failure inside an analyzer is reported as a result
// holding a single SYSTEM_ERROR entry.
func (s *Service) Validate(ctx context.Context, code, language string, requirements []model.KeywordRequirement) (result model.KeywordValidationResult, err error) {
	analyzer, err := s.Analyzer(language)
	if err != nil {
		return model.KeywordValidationResult{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("keyword analyzer panicked", zap.String("language", language), zap.Any("panic", r))
			result, err = SystemErrorResult(fmt.Errorf("%v", r)), nil
		}
	}()

	result = model.KeywordValidationResult{IsValid: true}

	for _, req := range requirements {
		if !req.Required {
			continue
		}
		if err := ctx.Err(); err != nil {
			return model.KeywordValidationResult{}, err
		}

		kr, err := analyzer.Validate(code, req)
		if err != nil {
			s.logger.Error("error during keyword validation", zap.String("language", language), zap.String("keyword", req.Keyword), zap.Error(err))
			return SystemErrorResult(err), nil
		}

		result.Matches = append(result.Matches, kr.Matches...)
		result.Errors = append(result.Errors, kr.Errors...)
		if !kr.IsValid {
			result.IsValid = false
		}
	}

	if result.IsValid {
		result.Message = "All required keywords found. Validation passed."
		s.logger.Info("keyword validation passed", zap.String("language", language))
	} else {
		result.Message = fmt.Sprintf("Keyword validation failed. %d error(s) found.", len(result.Errors))
		s.logger.Warn("keyword validation failed", zap.String("language", language), zap.Int("errors", len(result.Errors)))
	}

	return result, nil
}

// SystemErrorResult wraps an internal failure as a failed validation
func SystemErrorResult(err error) model.KeywordValidationResult {
	return model.KeywordValidationResult{
		IsValid: false,
		Message: fmt.Sprintf("Error during keyword validation: %s", err),
		Errors: []model.KeywordError{
			{
				Keyword: model.SystemErrorKeyword,
				Message: fmt.Sprintf("System error during validation: %s", err),
				Kind:    model.KeywordMissing,
			},
		},
	}
}
