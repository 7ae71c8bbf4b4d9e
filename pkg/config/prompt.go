package config

import (
	"bytes"
	"fmt"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptTemplate is a versioned, named repair-prompt asset: the AI-agent
// prompt is treated as a data asset, not code — stored as a template
// with named parameters, not a giant inline string literal buried in the
// controller.
type PromptTemplate struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
	Body    string `yaml:"body" validate:"required"`
}

// PromptParams are the named values substituted into a PromptTemplate's
// Body for one repair attempt.
type PromptParams struct {
	County          string
	Scenario        string // "MVL" or "SVL"
	ErrorsCSV       string // rendered rows from the errors artifact
	TransformScript string // current contents of the county's transform script
	Attempt         int
	MaxAttempts     int
}

// ParsePromptTemplates parses a YAML document containing a list of
// PromptTemplate entries, keyed by Name for Registry lookups.
func ParsePromptTemplates(raw []byte) (map[string]PromptTemplate, error) {
	var templates []PromptTemplate
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	out := make(map[string]PromptTemplate, len(templates))
	for _, t := range templates {
		if err := validate.Struct(&t); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
		out[t.Name] = t
	}
	return out, nil
}

// Render substitutes params into the template body via text/template,
// using Go struct field names as the template's dot-accessors
// ({{.County}}, {{.ErrorsCSV}}, ...).
func (t PromptTemplate) Render(params PromptParams) (string, error) {
	tpl, err := template.New(t.Name).Parse(t.Body)
	if err != nil {
		return "", fmt.Errorf("parse prompt template %s: %w", t.Name, err)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", t.Name, err)
	}
	return buf.String(), nil
}

// Registry holds the loaded set of prompt templates, looked up by name.
type Registry struct {
	templates map[string]PromptTemplate
}

// NewRegistry builds a Registry from already-parsed templates.
func NewRegistry(templates map[string]PromptTemplate) *Registry {
	return &Registry{templates: templates}
}

// Get returns the named template, or ErrPromptTemplateNotFound.
func (r *Registry) Get(name string) (PromptTemplate, error) {
	t, ok := r.templates[name]
	if !ok {
		return PromptTemplate{}, fmt.Errorf("%w: %s", ErrPromptTemplateNotFound, name)
	}
	return t, nil
}

// DefaultRepairPromptName is the template Name the repair controller looks
// up when no override is configured.
const DefaultRepairPromptName = "transform-script-repair"

// DefaultRepairPrompt is the built-in fallback template, used when no
// prompt-template configuration is loaded for a county.
var DefaultRepairPrompt = PromptTemplate{
	Name:    DefaultRepairPromptName,
	Version: "v1",
	Body: `You are repairing a property-data transform script for county {{.County}}.

Scenario: {{.Scenario}}
Attempt {{.Attempt}} of {{.MaxAttempts}}.

The following errors were reported by the {{.Scenario}} validator:
{{.ErrorsCSV}}

Current transform script:
{{.TransformScript}}

Produce a corrected version of the transform script that resolves every
reported error without changing its output shape for rows that did not
error.`,
}
