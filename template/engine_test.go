package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ascenddev/coderunner/model"
)

func pythonTemplate() *model.CodeTemplate {
	return &model.CodeTemplate{
		ID:       "tpl-1",
		Language: "python",
		Regions: []model.Region{
			{ID: "footer", Content: "\n\nprint(solve(3))\n", Order: 3},
			{ID: "header", Content: "def solve(x):\n", Order: 1},
			{ID: "body", IsEditable: true, DisplayName: "Function body", Placeholder: "    pass", Order: 2},
		},
	}
}

func TestMerge(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tpl := pythonTemplate()

	t.Run("ProvidedContent", func(t *testing.T) {
		code := e.Merge(tpl, map[string]string{"body": "    return x * 2"})
		assert.Equal(t, "def solve(x):\n    return x * 2\n\nprint(solve(3))\n", code)
	})

	t.Run("PlaceholderWhenEmpty", func(t *testing.T) {
		code := e.Merge(tpl, nil)
		assert.Equal(t, "def solve(x):\n    pass\n\nprint(solve(3))\n", code)
	})

	t.Run("StoredContentWhenAbsent", func(t *testing.T) {
		stored := pythonTemplate()
		stored.Regions[2].Content = "    return 0"
		assert.Equal(t, "def solve(x):\n    return 0\n\nprint(solve(3))\n", e.Merge(stored, map[string]string{}))
	})

	t.Run("NilTemplate", func(t *testing.T) {
		assert.Empty(t, e.Merge(nil, nil))
	})
}

func TestValidateEditableRegions(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tpl := pythonTemplate()

	t.Run("Valid", func(t *testing.T) {
		res := e.ValidateEditableRegions(tpl, map[string]string{"body": ""})
		assert.True(t, res.IsValid)
		assert.Empty(t, res.Errors)
	})

	t.Run("MissingAndInvalid", func(t *testing.T) {
		res := e.ValidateEditableRegions(tpl, map[string]string{"header": "x", "zzz": "y"})
		assert.False(t, res.IsValid)
		assert.Equal(t, []string{"body"}, res.MissingRegions)
		assert.Equal(t, []string{"header", "zzz"}, res.InvalidRegions)
		require.Len(t, res.Errors, 3)
		assert.Equal(t, "Missing content for editable region 'body' (Function body)", res.Errors[0])
		assert.Equal(t, "Invalid region ID 'header' - not found in template", res.Errors[1])
	})

	t.Run("NilTemplate", func(t *testing.T) {
		res := e.ValidateEditableRegions(nil, nil)
		assert.False(t, res.IsValid)
		assert.Equal(t, []string{"Template cannot be null"}, res.Errors)
	})
}

func TestExtractRoundTrip(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tpl := pythonTemplate()
	content := map[string]string{"body": "    y = x * 2\n    return y"}

	merged := e.Merge(tpl, content)

	assert.Equal(t, content, e.ExtractEditableRegions(tpl, merged))

	strict, err := e.ExtractEditableRegionsStrict(tpl, merged)
	require.NoError(t, err)
	assert.Equal(t, content, strict)
}

func TestExtractDuplicateAnchor(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))
	tpl := &model.CodeTemplate{Regions: []model.Region{
		{ID: "open", Content: "func f() {\n", Order: 0},
		{ID: "body", IsEditable: true, Order: 1},
		{ID: "close", Content: "}\n", Order: 2},
	}}
	content := map[string]string{"body": "\tif x {\n\t\treturn\n\t}\n"}
	merged := e.Merge(tpl, content)

	t.Run("HeuristicTruncates", func(t *testing.T) {
		extracted := e.ExtractEditableRegions(tpl, merged)
		assert.NotEqual(t, content, extracted)
		assert.Equal(t, "\tif x {\n\t\treturn\n\t", extracted["body"])
	})

	t.Run("StrictReportsAmbiguity", func(t *testing.T) {
		_, err := e.ExtractEditableRegionsStrict(tpl, merged)
		assert.ErrorIs(t, err, ErrAmbiguousAnchor)
	})

	t.Run("StrictReportsMissingAnchor", func(t *testing.T) {
		_, err := e.ExtractEditableRegionsStrict(tpl, "func g() {\n}\n")
		assert.ErrorIs(t, err, ErrAnchorNotFound)
	})

	t.Run("StrictReportsTrailingContent", func(t *testing.T) {
		_, err := e.ExtractEditableRegionsStrict(tpl, "func f() {\n}\nextra")
		assert.ErrorIs(t, err, ErrAnchorNotFound)
	})
}

func TestFromLegacy(t *testing.T) {
	e := NewEngine(zaptest.NewLogger(t))

	t.Run("SingleMarker", func(t *testing.T) {
		tpl, err := e.FromLegacy("class A {\n//TODO\n}\n", "CSharp", "")
		require.NoError(t, err)

		assert.Equal(t, "csharp", tpl.Language)
		assert.NotEmpty(t, tpl.ID)
		require.Len(t, tpl.Regions, 3)
		assert.Equal(t, "non_editable_0", tpl.Regions[0].ID)
		assert.Equal(t, "editable_1", tpl.Regions[1].ID)
		assert.Equal(t, "Editable Region 1", tpl.Regions[1].DisplayName)
		assert.Equal(t, "non_editable_2", tpl.Regions[2].ID)

		assert.Equal(t, "class A {\n// Your code here\n}\n", e.Merge(&tpl, nil))
	})

	t.Run("MultipleMarkers", func(t *testing.T) {
		tpl, err := e.FromLegacy("a#EDIT#b#EDIT#", "python", "#EDIT#")
		require.NoError(t, err)

		ids := make([]string, 0, len(tpl.Regions))
		for _, r := range tpl.Regions {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"non_editable_0", "editable_1", "non_editable_2", "editable_3"}, ids)
		assert.Equal(t, "Editable Region 2", tpl.Regions[3].DisplayName)

		content := map[string]string{"editable_1": "X", "editable_3": "Y"}
		assert.Equal(t, content, e.ExtractEditableRegions(&tpl, e.Merge(&tpl, content)))
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := e.FromLegacy("", "go", "")
		assert.Error(t, err)
	})
}
