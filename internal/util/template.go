package util

import (
	"bytes"
	"strings"
	"text/template"
)

// RenderTemplate expands template markers in authored text, typically agent
// personas that reference the agent's own fields ("You are {{.Name}}...").
// Text without markers is returned untouched.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"join":  strings.Join,
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPersona renders an agent persona with its standard variable set,
// falling back to the raw text when the template is malformed. Persona text
// is author-supplied data; a typo in it must not fail a cognition cycle.
func RenderPersona(persona, name, primaryGoal string) string {
	out, err := RenderTemplate(persona, map[string]any{
		"Name": name,
		"Goal": primaryGoal,
	})
	if err != nil {
		return persona
	}
	return out
}
