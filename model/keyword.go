package model

import "encoding/json"

// KeywordRequirement is a pedagogical rule: a token that must appear in the
// submitted source a bounded number of times.
type KeywordRequirement struct {
	Keyword           string `json:"keyword" yaml:"keyword"`
	Description       string `json:"description,omitempty" yaml:"description,omitempty"`
	Required          bool   `json:"required" yaml:"required"`
	CaseSensitive     bool   `json:"caseSensitive" yaml:"caseSensitive"`
	AllowPartialMatch bool   `json:"allowPartialMatch" yaml:"allowPartialMatch"`
	MinOccurrences    int    `json:"minOccurrences" yaml:"minOccurrences"`
	MaxOccurrences    *int   `json:"maxOccurrences,omitempty" yaml:"maxOccurrences,omitempty"`
}

// NewKeywordRequirement returns a requirement with the documented defaults:
// required, case-insensitive, whole word, at least one occurrence.
func NewKeywordRequirement(keyword string) KeywordRequirement {
	return KeywordRequirement{
		Keyword:        keyword,
		Required:       true,
		MinOccurrences: 1,
	}
}

// UnmarshalJSON applies the defaults for fields absent from the document
func (r *KeywordRequirement) UnmarshalJSON(data []byte) error {
	type plain KeywordRequirement
	req := plain(NewKeywordRequirement(""))
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	*r = KeywordRequirement(req)
	return nil
}

// UnmarshalYAML applies the defaults for fields absent from the document
func (r *KeywordRequirement) UnmarshalYAML(unmarshal func(any) error) error {
	type plain KeywordRequirement
	req := plain(NewKeywordRequirement(""))
	if err := unmarshal(&req); err != nil {
		return err
	}
	*r = KeywordRequirement(req)
	return nil
}

// KeywordErrorKind classifies a failed requirement
type KeywordErrorKind string

const (
	KeywordMissing KeywordErrorKind = "Missing"
	KeywordTooFew  KeywordErrorKind = "TooFew"
	KeywordTooMany KeywordErrorKind = "TooMany"
)

// SystemErrorKeyword marks a validation entry produced by an internal failure
// rather than by the submitted code.
const SystemErrorKeyword = "SYSTEM_ERROR"

// KeywordError describes one failed requirement
type KeywordError struct {
	Keyword  string           `json:"keyword" yaml:"keyword"`
	Message  string           `json:"errorMessage" yaml:"errorMessage"`
	Kind     KeywordErrorKind `json:"errorType" yaml:"errorType"`
	Expected int              `json:"expectedOccurrences" yaml:"expectedOccurrences"`
	Actual   int              `json:"actualOccurrences" yaml:"actualOccurrences"`
}

// KeywordMatch is one occurrence; line and columns are 1-based and ColumnEnd is inclusive.
type KeywordMatch struct {
	Keyword     string `json:"keyword" yaml:"keyword"`
	Line        int    `json:"lineNumber" yaml:"lineNumber"`
	ColumnStart int    `json:"columnStart" yaml:"columnStart"`
	ColumnEnd   int    `json:"columnEnd" yaml:"columnEnd"`
	MatchedText string `json:"matchedText" yaml:"matchedText"`
}

// KeywordValidationResult aggregates every required keyword check
type KeywordValidationResult struct {
	IsValid bool           `json:"isValid" yaml:"isValid"`
	Errors  []KeywordError `json:"errors" yaml:"errors"`
	Matches []KeywordMatch `json:"matches" yaml:"matches"`
	Message string         `json:"validationMessage" yaml:"validationMessage"`
}
