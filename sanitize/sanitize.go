// Package sanitize screens submitted code for operations that have no place
// in a lesson solution: process control, file system and network access,
// reflection and runtime manipulation.
package sanitize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ascenddev/coderunner/apperr"
)

type ruleSet struct {
	name     string
	patterns []*regexp.Regexp
	imports  func(code string) []string
	denied   map[string]struct{}
}

// Sanitizer holds the compiled rule sets of every supported language
type Sanitizer struct {
	common []*regexp.Regexp
	rules  map[string]*ruleSet
}

// New compiles the rule sets
func New() *Sanitizer {
	s := &Sanitizer{
		common: compile(commonPatterns),
		rules: map[string]*ruleSet{
			"python":     {name: "Python", patterns: compile(pythonPatterns)},
			"csharp":     {name: "C#", patterns: compile(cSharpPatterns)},
			"typescript": {name: "TypeScript", patterns: compile(typeScriptPatterns)},
			"javascript": {name: "JavaScript", patterns: compile(javaScriptPatterns)},
			"go": {
				name:     "Go",
				patterns: compile(goPatterns),
				imports:  goImports,
				denied:   toSet(goDeniedImports),
			},
		},
	}
	return s
}

// Languages returns the languages with a rule set, sorted
func (s *Sanitizer) Languages() []string {
	langs := make([]string, 0, len(s.rules))
	for name := range s.rules {
		langs = append(langs, name)
	}
	sort.Strings(langs)
	return langs
}

// Check returns an apperr.CodeRejected error naming the first forbidden
// construct found in code.
func (s *Sanitizer) Check(code, language string) error {
	if strings.TrimSpace(code) == "" {
		return apperr.Newf(apperr.InvalidRequest, "Code cannot be empty")
	}

	rules, ok := s.rules[strings.ToLower(language)]
	if !ok {
		return apperr.Newf(apperr.LanguageNotSupported, "Sanitization for language '%s' is not supported", language)
	}

	for _, re := range s.common {
		if re.MatchString(code) {
			return apperr.Newf(apperr.CodeRejected, "Code contains potentially unsafe operation: %s", re.String()).
				WithDetail("pattern", re.String())
		}
	}

	for _, re := range rules.patterns {
		if re.MatchString(code) {
			return apperr.Newf(apperr.CodeRejected, "%s code contains potentially unsafe operation: %s", rules.name, re.String()).
				WithDetail("pattern", re.String())
		}
	}

	if rules.imports != nil {
		for _, path := range rules.imports(code) {
			if _, denied := rules.denied[path]; denied {
				return apperr.Newf(apperr.CodeRejected, "%s code contains potentially unsafe import: %q", rules.name, path).
					WithDetail("import", path)
			}
		}
	}

	return nil
}

var (
	goImportBlock  = regexp.MustCompile(`(?s)\bimport\s*\((.*?)\)`)
	goImportSingle = regexp.MustCompile(`\bimport\s+(?:[\w.]+\s+)?"([^"]+)"`)
	goImportPath   = regexp.MustCompile(`"([^"]+)"`)
)

// goImports lists the import paths of a Go source file
func goImports(code string) []string {
	var paths []string
	for _, block := range goImportBlock.FindAllStringSubmatch(code, -1) {
		for _, m := range goImportPath.FindAllStringSubmatch(block[1], -1) {
			paths = append(paths, m[1])
		}
	}
	for _, m := range goImportSingle.FindAllStringSubmatch(code, -1) {
		paths = append(paths, m[1])
	}
	return paths
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
