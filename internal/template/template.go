package template

import (
	"regexp"
	"strings"

	"github.com/studiowebux/flux/internal/types"
)

// Placeholder pattern: {{name}} with optional whitespace inside the braces.
// Brace runs that don't match the grammar (e.g. "{{{" or "{{1bad}}") are
// left untouched as literal text.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Expand substitutes every {{name}} placeholder in input from vars. A single
// pass is performed; substituted values are never re-scanned. The first
// missing variable aborts the expansion with a *types.TemplateError carrying
// the placeholder text.
func Expand(input string, vars map[string]string) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	var missing *types.TemplateError
	out := placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[name]; ok {
			return value
		}
		if missing == nil {
			missing = &types.TemplateError{Variable: name, Placeholder: match}
		}
		return match
	})

	if missing != nil {
		return "", missing
	}
	return out, nil
}

// Placeholders returns the unique variable names referenced by input, in
// order of first appearance.
func Placeholders(input string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(input, -1)
	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		name := strings.TrimSpace(match[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
