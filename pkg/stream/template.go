package stream

import (
	"fmt"
	"net/url"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplateError reports a path placeholder with no value in the context.
type TemplateError struct {
	Template    string
	Placeholder string
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("path template %q: no value for {%s}", e.Template, e.Placeholder)
}

// Placeholders lists the placeholder names of template in order of appearance.
func Placeholders(template string) []string {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// ResolvePath substitutes every {name} in template with the path-escaped
// context value. A placeholder without a value is a *TemplateError.
func ResolvePath(template string, ctx Context) (string, error) {
	var missing string
	resolved := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := ctx.Get(name)
		if !ok || v == nil {
			if missing == "" {
				missing = name
			}
			return m
		}
		return url.PathEscape(FormatValue(v))
	})
	if missing != "" {
		return "", &TemplateError{Template: template, Placeholder: missing}
	}
	return resolved, nil
}
