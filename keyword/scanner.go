package keyword

import "strings"

// literal describes one string literal form of a language
type literal struct {
	open      string
	close     string
	escape    bool // backslash escapes the next rune
	doubled   bool // a doubled close quote stands for one quote
	multiline bool
}

// syntax is the lexical surface the scanner needs to know about
type syntax struct {
	lineComments []string
	blockOpen    string
	blockClose   string
	literals     []literal // longest opener first
}

var (
	goSyntax = syntax{
		lineComments: []string{"//"},
		blockOpen:    "/*",
		blockClose:   "*/",
		literals: []literal{
			{open: `"`, close: `"`, escape: true},
			{open: `'`, close: `'`, escape: true},
			{open: "`", close: "`", multiline: true},
		},
	}

	pythonSyntax = syntax{
		lineComments: []string{"#"},
		literals: []literal{
			{open: `"""`, close: `"""`, escape: true, multiline: true},
			{open: `'''`, close: `'''`, escape: true, multiline: true},
			{open: `"`, close: `"`, escape: true},
			{open: `'`, close: `'`, escape: true},
		},
	}

	typeScriptSyntax = syntax{
		lineComments: []string{"//"},
		blockOpen:    "/*",
		blockClose:   "*/",
		literals: []literal{
			{open: `"`, close: `"`, escape: true},
			{open: `'`, close: `'`, escape: true},
			{open: "`", close: "`", escape: true, multiline: true},
		},
	}

	cSharpSyntax = syntax{
		lineComments: []string{"//"},
		blockOpen:    "/*",
		blockClose:   "*/",
		literals: []literal{
			{open: `"""`, close: `"""`, multiline: true},
			{open: `@"`, close: `"`, doubled: true, multiline: true},
			{open: `"`, close: `"`, escape: true},
			{open: `'`, close: `'`, escape: true},
		},
	}
)

// strip blanks comments and replaces string literals with an empty "" literal
// padded with spaces. Every rune keeps its line and column, so matches found
// in the result point at the submitted source.
func (s syntax) strip(code string) string {
	src := []rune(code)
	var out strings.Builder
	out.Grow(len(code))

	for i := 0; i < len(src); {
		if s.blockOpen != "" && hasPrefixAt(src, i, s.blockOpen) {
			end := indexFrom(src, i+len([]rune(s.blockOpen)), s.blockClose)
			if end < 0 {
				end = len(src)
			} else {
				end += len([]rune(s.blockClose))
			}
			blank(&out, src[i:end])
			i = end
			continue
		}

		if prefix := s.lineCommentAt(src, i); prefix != "" {
			end := i
			for end < len(src) && src[end] != '\n' {
				end++
			}
			blank(&out, src[i:end])
			i = end
			continue
		}

		if lit, ok := s.literalAt(src, i); ok {
			end := lit.scan(src, i)
			placeholder(&out, src[i:end])
			i = end
			continue
		}

		out.WriteRune(src[i])
		i++
	}

	return out.String()
}

func (s syntax) lineCommentAt(src []rune, i int) string {
	for _, p := range s.lineComments {
		if hasPrefixAt(src, i, p) {
			return p
		}
	}
	return ""
}

func (s syntax) literalAt(src []rune, i int) (literal, bool) {
	for _, lit := range s.literals {
		if hasPrefixAt(src, i, lit.open) {
			return lit, true
		}
	}
	return literal{}, false
}

// scan returns the index just past the literal starting at i. Unterminated
// single-line literals stop at the end of the line.
func (l literal) scan(src []rune, i int) int {
	closeRunes := []rune(l.close)
	j := i + len([]rune(l.open))
	for j < len(src) {
		r := src[j]
		switch {
		case l.escape && r == '\\':
			j += 2
			continue
		case r == '\n' && !l.multiline:
			return j
		case hasPrefixAt(src, j, l.close):
			if l.doubled && hasPrefixAt(src, j+len(closeRunes), l.close) {
				j += 2 * len(closeRunes)
				continue
			}
			return j + len(closeRunes)
		}
		j++
	}
	return len(src)
}

func hasPrefixAt(src []rune, i int, prefix string) bool {
	for _, r := range prefix {
		if i >= len(src) || src[i] != r {
			return false
		}
		i++
	}
	return true
}

func indexFrom(src []rune, from int, needle string) int {
	for i := from; i < len(src); i++ {
		if hasPrefixAt(src, i, needle) {
			return i
		}
	}
	return -1
}

func blank(out *strings.Builder, runes []rune) {
	for _, r := range runes {
		if r == '\n' {
			out.WriteRune('\n')
		} else {
			out.WriteRune(' ')
		}
	}
}

func placeholder(out *strings.Builder, runes []rune) {
	quotes := 0
	for _, r := range runes {
		switch {
		case r == '\n':
			out.WriteRune('\n')
		case quotes < 2:
			out.WriteRune('"')
			quotes++
		default:
			out.WriteRune(' ')
		}
	}
}
