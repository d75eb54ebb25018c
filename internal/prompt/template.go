// Package prompt renders prompt templates with {{name}} placeholders.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nikhilbhutani/ragconverse/internal/models"
)

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is a parsed prompt. Substituted values are inserted verbatim and
// never expanded again, so user text containing braces is safe.
type Template struct {
	text string
	vars []string
}

func Parse(text string) *Template {
	return &Template{text: text, vars: ExtractVariables(text)}
}

// Variables lists the placeholder names in first-use order.
func (t *Template) Variables() []string { return t.vars }

// Render fails with models.ErrConfiguration when vars lacks a placeholder
// the template uses. Extra entries in vars are ignored.
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing template variables: %s", models.ErrConfiguration, strings.Join(missing, ", "))
	}

	return variablePattern.ReplaceAllStringFunc(t.text, func(match string) string {
		return vars[match[2:len(match)-2]]
	}), nil
}

// Render parses and renders text in one step.
func Render(text string, vars map[string]string) (string, error) {
	return Parse(text).Render(vars)
}

// ExtractVariables returns the distinct placeholder names in text.
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			vars = append(vars, m[1])
			seen[m[1]] = true
		}
	}
	return vars
}
