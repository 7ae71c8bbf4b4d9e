package config

import (
	"context"
	"fmt"
	"regexp"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/elephant-xyz/workflow-core/pkg/fingerprint"
)

// RuleOverride is the YAML shape of one classification-table override
// entry. Patterns are raw regex source strings; Compile turns them into
// fingerprint.Rule's compiled form.
type RuleOverride struct {
	Code        string   `yaml:"code" validate:"required,len=5,numeric"`
	Description string   `yaml:"description" validate:"required"`
	Patterns    []string `yaml:"patterns" validate:"required,min=1,dive,required"`
}

// ClassificationTable is the YAML document shape for a full override of
// pkg/fingerprint.Table, or a partial one merged onto it.
type ClassificationTable struct {
	Rules       []RuleOverride `yaml:"rules" validate:"required,min=1,dive"`
	DefaultCode string         `yaml:"defaultCode,omitempty" validate:"omitempty,len=5,numeric"`
}

var validate = validator.New()

// ParseClassificationTable parses and validates raw into a
// ClassificationTable, returning ErrInvalidYAML/ErrValidationFailed wrapped
// with context on failure, or a *ValidationError for a pattern that does
// not compile as a regular expression.
func ParseClassificationTable(raw []byte) (*ClassificationTable, error) {
	var table ClassificationTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidYAML, err)
	}
	if err := validate.Struct(&table); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	for _, r := range table.Rules {
		for _, p := range r.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				return nil, NewValidationError("classification_table", r.Code, "patterns", err)
			}
		}
	}
	return &table, nil
}

// MergeOntoDefault overlays override's rules onto a copy of base (matched
// by Code; an override entry with a Code already in base replaces it,
// a new Code is appended), using mergo for the DefaultCode scalar so a
// partial override file need not repeat it.
func MergeOntoDefault(base []RuleOverride, override *ClassificationTable, defaultCode string) ([]RuleOverride, string, error) {
	merged := make([]RuleOverride, len(base))
	copy(merged, base)
	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.Code] = i
	}
	for _, r := range override.Rules {
		if i, ok := index[r.Code]; ok {
			merged[i] = r
			continue
		}
		index[r.Code] = len(merged)
		merged = append(merged, r)
	}

	result := struct{ DefaultCode string }{DefaultCode: defaultCode}
	overlay := struct{ DefaultCode string }{DefaultCode: override.DefaultCode}
	if err := mergo.Merge(&result, overlay, mergo.WithOverride); err != nil {
		return nil, "", fmt.Errorf("merge default code: %w", err)
	}
	return merged, result.DefaultCode, nil
}

// BaseFromTable converts an already-compiled rule table back into
// RuleOverride form, so it can serve as the merge base for a loaded
// override file.
func BaseFromTable(rules []fingerprint.Rule) []RuleOverride {
	base := make([]RuleOverride, 0, len(rules))
	for _, r := range rules {
		patterns := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			patterns = append(patterns, p.String())
		}
		base = append(base, RuleOverride{Code: r.Code, Description: r.Description, Patterns: patterns})
	}
	return base
}

// Compile converts RuleOverride entries into fingerprint.Rule, compiling
// every pattern. Patterns are assumed pre-validated by ParseClassificationTable.
func Compile(overrides []RuleOverride) ([]fingerprint.Rule, error) {
	rules := make([]fingerprint.Rule, 0, len(overrides))
	for _, o := range overrides {
		patterns := make([]*regexp.Regexp, 0, len(o.Patterns))
		for _, p := range o.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern for code %s: %w", o.Code, err)
			}
			patterns = append(patterns, re)
		}
		rules = append(rules, fingerprint.Rule{Code: o.Code, Description: o.Description, Patterns: patterns})
	}
	return rules, nil
}

// LoadClassificationTable fetches a county's classification-table override
// through chain (keyed "classification.yaml"), merges it onto the
// in-process default table, and returns the compiled rule set ready to
// assign to fingerprint.Table. Returns the unmodified default (compiled
// back from fingerprint.Table, which is already compiled — so this is a
// passthrough) when chain reports ErrConfigNotFound: no override file is
// not an error, it's the common case.
func LoadClassificationTable(ctx context.Context, chain *Chain, base []RuleOverride, defaultCode string) ([]fingerprint.Rule, string, error) {
	raw, err := chain.Lookup(ctx, "classification.yaml")
	if err != nil {
		if err == ErrConfigNotFound {
			compiled, cerr := Compile(base)
			return compiled, defaultCode, cerr
		}
		return nil, "", err
	}
	override, err := ParseClassificationTable(ExpandEnv(raw))
	if err != nil {
		return nil, "", err
	}
	merged, mergedDefault, err := MergeOntoDefault(base, override, defaultCode)
	if err != nil {
		return nil, "", err
	}
	compiled, err := Compile(merged)
	return compiled, mergedDefault, err
}
