// Package config loads the repair-controller's configuration: the
// classification-table override file, the AI-agent prompt template, and
// the county/general lookup cascade they're both sourced through.
package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates no configuration source produced the key:
	// a single source's miss only makes Chain try the next one, and
	// Chain.Lookup returns this once every source has missed.
	ErrConfigNotFound = errors.New("configuration source not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrClassificationRuleNotFound indicates a requested classification
	// code has no entry in the loaded table.
	ErrClassificationRuleNotFound = errors.New("classification rule not found")

	// ErrPromptTemplateNotFound indicates the named repair-prompt template
	// was not found in the template registry.
	ErrPromptTemplateNotFound = errors.New("prompt template not found")

	// ErrMissingRequiredField indicates a required field is missing.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError wraps configuration validation errors with context about
// which component (classification_table, prompt_template, cascade_source)
// and field failed.
type ValidationError struct {
	Component string // "classification_table", "prompt_template", "cascade_source"
	ID        string // ID of the component (e.g. the county, or a rule code)
	Field     string // field name (optional)
	Err       error
}

// Error returns a formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError wraps configuration loading errors with the source they came
// from (the source's Name() and the key, as Chain in cascade.go builds it).
type LoadError struct {
	Source string
	Err    error
}

// Error returns a formatted error message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError creates a new load error.
func NewLoadError(source string, err error) *LoadError {
	return &LoadError{Source: source, Err: err}
}
