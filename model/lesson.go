package model

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTestTimeoutMs is the per-lesson test timeout used when a lesson sets none
const DefaultTestTimeoutMs = 5000

// Lesson is the part of a course lesson the execution pipeline needs
type Lesson struct {
	ID           string        `json:"id" yaml:"id"`
	Title        string        `json:"title,omitempty" yaml:"title,omitempty"`
	Language     string        `json:"language" yaml:"language"`
	Template     string        `json:"template,omitempty" yaml:"template,omitempty"`
	CodeTemplate *CodeTemplate `json:"codeTemplate,omitempty" yaml:"codeTemplate,omitempty"`
	TestConfig   TestConfig    `json:"testConfig" yaml:"testConfig"`
}

// TestConfig describes how a lesson's solution is tested
type TestConfig struct {
	Framework           string               `json:"framework" yaml:"framework"`
	TimeoutMs           int                  `json:"timeoutMs" yaml:"timeoutMs"`
	MemoryLimitMB       int                  `json:"memoryLimitMb,omitempty" yaml:"memoryLimitMb,omitempty"`
	TestTemplate        string               `json:"testTemplate" yaml:"testTemplate"`
	TestCases           []TestCase           `json:"testCases,omitempty" yaml:"testCases,omitempty"`
	KeywordRequirements []KeywordRequirement `json:"keywordRequirements,omitempty" yaml:"keywordRequirements,omitempty"`
}

// TestCase is a named case of the lesson's test suite
type TestCase struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Input       any    `json:"input,omitempty" yaml:"input,omitempty"`
	Expected    any    `json:"expectedOutput,omitempty" yaml:"expectedOutput,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// DisplayName returns Name, then Description, then a generic label
func (tc TestCase) DisplayName() string {
	if tc.Name != "" {
		return tc.Name
	}
	if tc.Description != "" {
		return tc.Description
	}
	return "Test Case"
}

// EffectiveTimeoutMs returns TimeoutMs or the default when unset
func (c TestConfig) EffectiveTimeoutMs() int {
	if c.TimeoutMs <= 0 {
		return DefaultTestTimeoutMs
	}
	return c.TimeoutMs
}

// UsesTemplate reports whether the lesson is graded from editable regions
func (l *Lesson) UsesTemplate() bool {
	return l.CodeTemplate != nil && len(l.CodeTemplate.Regions) > 0
}

// LoadLesson decodes a lesson document. JSON lesson exports are accepted too.
func LoadLesson(r io.Reader) (*Lesson, error) {
	var lesson Lesson
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&lesson); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty lesson document")
		}
		return nil, fmt.Errorf("failed to decode lesson: %w", err)
	}

	lesson.Language = strings.ToLower(strings.TrimSpace(lesson.Language))
	if lesson.Language == "" {
		return nil, fmt.Errorf("lesson %q has no language", lesson.ID)
	}
	if lesson.TestConfig.TimeoutMs < 0 {
		return nil, fmt.Errorf("lesson %q has a negative timeout: %d", lesson.ID, lesson.TestConfig.TimeoutMs)
	}

	return &lesson, nil
}
