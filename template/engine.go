// Package template merges learner-edited regions into lesson code templates
// and recovers the edited regions from complete source files.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ascenddev/coderunner/model"
)

// DefaultLegacyMarker separates the fixed parts of a legacy single-string template
const DefaultLegacyMarker = "//TODO"

// DefaultPlaceholder is the placeholder of regions created from legacy templates
const DefaultPlaceholder = "// Your code here"

var (
	// ErrAmbiguousAnchor is returned when a fixed region occurs more than once
	// where an edited region could end.
	ErrAmbiguousAnchor = errors.New("ambiguous template anchor")
	// ErrAnchorNotFound is returned when a fixed region is missing from the code
	ErrAnchorNotFound = errors.New("template anchor not found")
)

// Engine implements template merge, validation, extraction and conversion
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a template engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Merge concatenates the regions in order. Editable regions take the provided
// content, then their stored content, then their placeholder.
func (e *Engine) Merge(tpl *model.CodeTemplate, content map[string]string) string {
	if tpl == nil {
		return ""
	}

	var b strings.Builder
	for _, region := range tpl.OrderedRegions() {
		if !region.IsEditable {
			b.WriteString(region.Content)
			continue
		}

		text, ok := content[region.ID]
		if !ok {
			text = region.Content
		}
		if text == "" {
			text = region.Placeholder
		}
		b.WriteString(text)
	}

	return b.String()
}

// ValidateEditableRegions reports editable regions without content and
// content keys that name no editable region.
func (e *Engine) ValidateEditableRegions(tpl *model.CodeTemplate, content map[string]string) model.TemplateValidationResult {
	result := model.TemplateValidationResult{IsValid: true}

	if tpl == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "Template cannot be null")
		return result
	}

	editable := tpl.EditableRegions()
	valid := make(map[string]struct{}, len(editable))

	for _, region := range editable {
		valid[region.ID] = struct{}{}

		text, ok := content[region.ID]
		if !ok {
			name := region.DisplayName
			if name == "" {
				name = region.ID
			}
			result.MissingRegions = append(result.MissingRegions, region.ID)
			result.Errors = append(result.Errors, fmt.Sprintf("Missing content for editable region '%s' (%s)", region.ID, name))
			continue
		}
		if strings.TrimSpace(text) == "" {
			e.logger.Warn("editable region has empty content", zap.String("region_id", region.ID))
		}
	}

	provided := make([]string, 0, len(content))
	for id := range content {
		provided = append(provided, id)
	}
	sort.Strings(provided)

	for _, id := range provided {
		if _, ok := valid[id]; !ok {
			result.InvalidRegions = append(result.InvalidRegions, id)
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid region ID '%s' - not found in template", id))
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

// ExtractEditableRegions recovers editable region content from complete code
// by locating the fixed regions around them. Each edited region ends at the
// first occurrence of the next fixed region; the trailing editable region
// absorbs the rest of the code. Regions that cannot be located are omitted.
func (e *Engine) ExtractEditableRegions(tpl *model.CodeTemplate, code string) map[string]string {
	result := make(map[string]string)
	if tpl == nil || code == "" {
		return result
	}

	regions := tpl.OrderedRegions()
	cursor := 0

	for i, region := range regions {
		if !region.IsEditable {
			if idx := strings.Index(code[cursor:], region.Content); idx >= 0 {
				cursor += idx + len(region.Content)
			}
			continue
		}

		next, ok := nextFixed(regions, i)
		if !ok {
			if cursor < len(code) {
				result[region.ID] = code[cursor:]
			}
			continue
		}

		if idx := strings.Index(code[cursor:], next.Content); idx >= 0 {
			result[region.ID] = code[cursor : cursor+idx]
			cursor += idx
		} else {
			e.logger.Debug("template anchor not found", zap.String("region_id", next.ID))
		}
	}

	return result
}

// ExtractEditableRegionsStrict is ExtractEditableRegions that fails instead of
// guessing. A fixed region that follows an editable one must occur exactly
// once in the remaining code, and fixed regions that follow fixed regions must
// appear immediately.
func (e *Engine) ExtractEditableRegionsStrict(tpl *model.CodeTemplate, code string) (map[string]string, error) {
	if tpl == nil {
		return nil, fmt.Errorf("template cannot be nil")
	}

	result := make(map[string]string)
	regions := tpl.OrderedRegions()
	cursor := 0
	var open *model.Region

	for i := range regions {
		region := regions[i]
		if region.IsEditable {
			if open != nil {
				return nil, fmt.Errorf("%w: editable regions %q and %q are adjacent", ErrAmbiguousAnchor, open.ID, region.ID)
			}
			open = &regions[i]
			continue
		}
		if region.Content == "" {
			continue
		}

		rest := code[cursor:]
		if open == nil {
			if !strings.HasPrefix(rest, region.Content) {
				return nil, fmt.Errorf("%w: region %q", ErrAnchorNotFound, region.ID)
			}
			cursor += len(region.Content)
			continue
		}

		switch n := strings.Count(rest, region.Content); {
		case n == 0:
			return nil, fmt.Errorf("%w: region %q", ErrAnchorNotFound, region.ID)
		case n > 1:
			return nil, fmt.Errorf("%w: region %q occurs %d times", ErrAmbiguousAnchor, region.ID, n)
		}

		idx := strings.Index(rest, region.Content)
		result[open.ID] = rest[:idx]
		cursor += idx + len(region.Content)
		open = nil
	}

	if open != nil {
		result[open.ID] = code[cursor:]
	} else if cursor != len(code) {
		return nil, fmt.Errorf("%w: unexpected content after the last region", ErrAnchorNotFound)
	}

	return result, nil
}

// FromLegacy converts a single-string template into a region template. Each
// occurrence of marker becomes an editable region between fixed regions.
func (e *Engine) FromLegacy(text, language, marker string) (model.CodeTemplate, error) {
	if text == "" {
		return model.CodeTemplate{}, fmt.Errorf("legacy template cannot be empty")
	}
	if marker == "" {
		marker = DefaultLegacyMarker
	}

	now := time.Now().UTC()
	tpl := model.CodeTemplate{
		ID:          uuid.NewString(),
		Name:        "Legacy Template",
		Language:    strings.ToLower(language),
		Description: "Converted from legacy template format",
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	order := 0
	editable := 0
	for i, part := range strings.Split(text, marker) {
		if i > 0 {
			editable++
			tpl.Regions = append(tpl.Regions, model.Region{
				ID:          fmt.Sprintf("editable_%d", order),
				IsEditable:  true,
				DisplayName: fmt.Sprintf("Editable Region %d", editable),
				Placeholder: DefaultPlaceholder,
				Order:       order,
			})
			order++
		}
		if part != "" {
			tpl.Regions = append(tpl.Regions, model.Region{
				ID:      fmt.Sprintf("non_editable_%d", order),
				Content: part,
				Order:   order,
			})
			order++
		}
	}

	e.logger.Debug("converted legacy template",
		zap.String("language", tpl.Language),
		zap.Int("regions", len(tpl.Regions)),
		zap.Int("editable", editable))

	return tpl, nil
}

func nextFixed(regions []model.Region, i int) (model.Region, bool) {
	for _, r := range regions[i+1:] {
		if !r.IsEditable {
			return r, true
		}
	}
	return model.Region{}, false
}
