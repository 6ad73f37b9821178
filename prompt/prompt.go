// Package prompt assembles the texts sent to backends and shown to patients.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// Template is a named text/template.
type Template struct {
	Name     string
	template *template.Template
}

// NewTemplate parses content.
func NewTemplate(name, content string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Template{Name: name, template: tmpl}, nil
}

// MustTemplate is NewTemplate for package-level templates.
func MustTemplate(name, content string) *Template {
	t, err := NewTemplate(name, content)
	if err != nil {
		panic(err)
	}
	return t
}

// Render executes the template against data.
func (t *Template) Render(data any) (string, error) {
	var buf strings.Builder
	if err := t.template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// Builder collects blocks and joins them with blank lines. Empty blocks are skipped.
type Builder struct {
	parts []string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a block.
func (b *Builder) Add(part string) *Builder {
	if strings.TrimSpace(part) != "" {
		b.parts = append(b.parts, part)
	}
	return b
}

// AddFormat appends a formatted block.
func (b *Builder) AddFormat(format string, args ...any) *Builder {
	return b.Add(fmt.Sprintf(format, args...))
}

// AddSection appends a titled block.
func (b *Builder) AddSection(title, content string) *Builder {
	if strings.TrimSpace(content) == "" {
		return b
	}
	return b.Add(title + ":\n" + content)
}

// Parts returns the blocks added so far.
func (b *Builder) Parts() []string {
	return append([]string(nil), b.parts...)
}

// Build joins the blocks.
func (b *Builder) Build() string {
	return strings.Join(b.parts, "\n\n")
}
