package keyword

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ascenddev/coderunner/model"
)

var wordOnly = regexp.MustCompile(`^\w+$`)

// Analyzer finds keyword occurrences in source code of one language,
// ignoring comments and string literals.
type Analyzer struct {
	syntax syntax
}

// NewGoAnalyzer handles // and /* */ comments, interpreted, rune and raw literals
func NewGoAnalyzer() *Analyzer { return &Analyzer{syntax: goSyntax} }

// NewPythonAnalyzer handles # comments, quoted and triple-quoted literals
func NewPythonAnalyzer() *Analyzer { return &Analyzer{syntax: pythonSyntax} }

// NewTypeScriptAnalyzer handles // and /* */ comments, quoted and template literals
func NewTypeScriptAnalyzer() *Analyzer {
	return &Analyzer{syntax: typeScriptSyntax}
}

// NewCSharpAnalyzer handles // and /* */ comments, regular, verbatim and raw literals
func NewCSharpAnalyzer() *Analyzer { return &Analyzer{syntax: cSharpSyntax} }

// Preprocess blanks comments and string literals, keeping line and column positions
func (a *Analyzer) Preprocess(code string) string {
	return a.syntax.strip(code)
}

// FindMatches returns every occurrence of req.Keyword outside comments and literals
func (a *Analyzer) FindMatches(code string, req model.KeywordRequirement) ([]model.KeywordMatch, error) {
	re, err := compileKeyword(req.Keyword, req.CaseSensitive, req.AllowPartialMatch)
	if err != nil {
		return nil, err
	}
	return findMatches(a.Preprocess(code), req.Keyword, re), nil
}

// Validate checks one requirement against code
func (a *Analyzer) Validate(code string, req model.KeywordRequirement) (model.KeywordValidationResult, error) {
	stripped := a.Preprocess(code)

	re, err := compileKeyword(req.Keyword, req.CaseSensitive, req.AllowPartialMatch)
	if err != nil {
		return model.KeywordValidationResult{}, err
	}
	matches := findMatches(stripped, req.Keyword, re)
	occurrences := len(matches)

	result := model.KeywordValidationResult{
		IsValid: true,
		Matches: matches,
	}

	if occurrences < req.MinOccurrences {
		kind := model.KeywordTooFew
		msg := fmt.Sprintf("Keyword '%s' must appear at least %d time(s), but found %d", req.Keyword, req.MinOccurrences, occurrences)
		if occurrences == 0 {
			kind = model.KeywordMissing
			if req.CaseSensitive {
				if n := a.countIgnoringCase(stripped, req); n > 0 {
					msg += fmt.Sprintf(" (%d occurrence(s) with different casing)", n)
				}
			}
		}
		result.Errors = append(result.Errors, model.KeywordError{
			Keyword:  req.Keyword,
			Message:  msg,
			Kind:     kind,
			Expected: req.MinOccurrences,
			Actual:   occurrences,
		})
	}

	if req.MaxOccurrences != nil && occurrences > *req.MaxOccurrences {
		result.Errors = append(result.Errors, model.KeywordError{
			Keyword:  req.Keyword,
			Message:  fmt.Sprintf("Keyword '%s' must appear at most %d time(s), but found %d", req.Keyword, *req.MaxOccurrences, occurrences),
			Kind:     model.KeywordTooMany,
			Expected: *req.MaxOccurrences,
			Actual:   occurrences,
		})
	}

	if len(result.Errors) > 0 {
		result.IsValid = false
		return result, nil
	}

	result.Message = fmt.Sprintf("Keyword '%s' validation passed (%d occurrence(s) found)", req.Keyword, occurrences)
	return result, nil
}

func (a *Analyzer) countIgnoringCase(stripped string, req model.KeywordRequirement) int {
	re, err := compileKeyword(req.Keyword, false, req.AllowPartialMatch)
	if err != nil {
		return 0
	}
	return len(findMatches(stripped, req.Keyword, re))
}

func compileKeyword(keyword string, caseSensitive, partial bool) (*regexp.Regexp, error) {
	if keyword == "" {
		return nil, fmt.Errorf("keyword must not be empty")
	}

	pattern := regexp.QuoteMeta(keyword)
	if !partial && wordOnly.MatchString(keyword) {
		pattern = `\b` + pattern + `\b`
	}
	if !caseSensitive {
		pattern = `(?i)` + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid keyword pattern %q: %w", keyword, err)
	}
	return re, nil
}

func findMatches(stripped, keyword string, re *regexp.Regexp) []model.KeywordMatch {
	var matches []model.KeywordMatch
	for lineIdx, line := range strings.Split(stripped, "\n") {
		for _, loc := range re.FindAllStringIndex(line, -1) {
			start := utf8.RuneCountInString(line[:loc[0]])
			length := utf8.RuneCountInString(line[loc[0]:loc[1]])
			matches = append(matches, model.KeywordMatch{
				Keyword:     keyword,
				Line:        lineIdx + 1,
				ColumnStart: start + 1,
				ColumnEnd:   start + length,
				MatchedText: line[loc[0]:loc[1]],
			})
		}
	}
	return matches
}
