package model

import (
	"sort"
	"time"
)

// CodeTemplate is a source file split into ordered regions, some of which
// the learner may edit.
type CodeTemplate struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Language    string    `json:"language" yaml:"language"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Regions     []Region  `json:"regions" yaml:"regions"`
	Version     int       `json:"version" yaml:"version"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Region is one contiguous piece of a template
type Region struct {
	ID          string `json:"id" yaml:"id"`
	Content     string `json:"content" yaml:"content"`
	IsEditable  bool   `json:"isEditable" yaml:"isEditable"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Order       int    `json:"order" yaml:"order"`
}

// OrderedRegions returns a copy of the regions sorted by Order
func (t *CodeTemplate) OrderedRegions() []Region {
	regions := make([]Region, len(t.Regions))
	copy(regions, t.Regions)
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Order < regions[j].Order
	})
	return regions
}

// EditableRegions returns the editable regions sorted by Order
func (t *CodeTemplate) EditableRegions() []Region {
	var editable []Region
	for _, r := range t.OrderedRegions() {
		if r.IsEditable {
			editable = append(editable, r)
		}
	}
	return editable
}

// TemplateValidationResult reports problems with submitted region content
type TemplateValidationResult struct {
	IsValid        bool     `json:"isValid" yaml:"isValid"`
	Errors         []string `json:"errors" yaml:"errors"`
	MissingRegions []string `json:"missingRegions" yaml:"missingRegions"`
	InvalidRegions []string `json:"invalidRegions" yaml:"invalidRegions"`
}
