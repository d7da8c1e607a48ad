package execution

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/apperr"
	"github.com/ascenddev/coderunner/model"
)

// Runner is the orchestrator seen from the grader
type Runner interface {
	RunTests(ctx context.Context, code string, lesson *model.Lesson) (model.TestResult, error)
	Execute(ctx context.Context, req ExecuteRequest) (model.CodeExecutionResult, error)
}

// Templates merges and validates editable regions
type Templates interface {
	Merge(tpl *model.CodeTemplate, content map[string]string) string
	ValidateEditableRegions(tpl *model.CodeTemplate, content map[string]string) model.TemplateValidationResult
}

// Checker screens source code for forbidden constructs
type Checker interface {
	Check(code, language string) error
}

// Submission is a graded attempt at a lesson. Template lessons may send the
// edited regions instead of the complete source.
type Submission struct {
	Lesson          *model.Lesson     `json:"lesson"`
	Code            string            `json:"code,omitempty"`
	EditableRegions map[string]string `json:"editableRegions,omitempty"`
}

// Grader validates submissions before handing them to the orchestrator
type Grader struct {
	runner    Runner
	templates Templates
	checker   Checker
	logger    *zap.Logger
}

// NewGrader creates a grader. A nil checker disables source screening.
func NewGrader(runner Runner, templates Templates, checker Checker, logger *zap.Logger) *Grader {
	return &Grader{
		runner:    runner,
		templates: templates,
		checker:   checker,
		logger:    logger.Named("grader"),
	}
}

// Submit validates, merges and screens the submission, then runs its tests
func (g *Grader) Submit(ctx context.Context, sub Submission) (model.TestResult, error) {
	if sub.Lesson == nil {
		return model.FailedTestResult(model.CaseRequestError, "Lesson is required"), nil
	}

	code := sub.Code
	if len(sub.EditableRegions) > 0 {
		if !sub.Lesson.UsesTemplate() {
			return model.FailedTestResult(model.CaseRequestError,
				"Editable regions were submitted but the lesson has no code template"), nil
		}

		validation := g.templates.ValidateEditableRegions(sub.Lesson.CodeTemplate, sub.EditableRegions)
		if !validation.IsValid {
			g.logger.Info("template region validation failed",
				zap.String("lesson", sub.Lesson.ID),
				zap.Strings("errors", validation.Errors),
			)
			return model.FailedTestResult(model.CaseTemplateError, strings.Join(validation.Errors, "; ")), nil
		}
		code = g.templates.Merge(sub.Lesson.CodeTemplate, sub.EditableRegions)
	}

	if strings.TrimSpace(code) == "" {
		return model.FailedTestResult(model.CaseRequestError, "Code cannot be empty"), nil
	}

	if err := g.screen(code, sub.Lesson.Language); err != nil {
		return model.FailedTestResult(model.CaseCodeValidation, err.Error()), nil
	}

	return g.runner.RunTests(ctx, code, sub.Lesson)
}

// Run screens code and executes it in the playground
func (g *Grader) Run(ctx context.Context, language, code string) (model.CodeExecutionResult, error) {
	if strings.TrimSpace(code) == "" {
		return failedExecution("Code cannot be empty"), nil
	}

	if err := g.screen(code, language); err != nil {
		return failedExecution(err.Error()), nil
	}

	return g.runner.Execute(ctx, ExecuteRequest{Language: language, Code: code})
}

// screen returns the rejection of the checker. Languages the checker does
// not know are left to the orchestrator.
func (g *Grader) screen(code, language string) error {
	if g.checker == nil {
		return nil
	}

	err := g.checker.Check(code, language)
	if err == nil || errors.Is(err, apperr.New(apperr.LanguageNotSupported)) {
		return nil
	}

	g.logger.Warn("code rejected", zap.String("language", language), zap.Error(err))
	return err
}
