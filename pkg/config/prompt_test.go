package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptTemplate_RenderSubstitutesParams(t *testing.T) {
	out, err := DefaultRepairPrompt.Render(PromptParams{
		County: "palmbeach", Scenario: "SVL",
		ErrorsCSV:       "parcel.owner: required field missing\n",
		TransformScript: "function transform() {}",
		Attempt:         2, MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "county palmbeach")
	assert.Contains(t, out, "Scenario: SVL")
	assert.Contains(t, out, "Attempt 2 of 3")
	assert.Contains(t, out, "parcel.owner: required field missing")
	assert.Contains(t, out, "function transform() {}")
}

func TestPromptTemplate_RenderRejectsBadTemplate(t *testing.T) {
	bad := PromptTemplate{Name: "broken", Version: "v1", Body: "{{.County"}
	_, err := bad.Render(PromptParams{})
	assert.Error(t, err)
}

func TestParsePromptTemplates(t *testing.T) {
	raw := []byte(`
- name: transform-script-repair
  version: v2
  body: "fix {{.County}}"
- name: mvl-repair
  version: v1
  body: "mirror fix for {{.County}}"
`)
	templates, err := ParsePromptTemplates(raw)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "v2", templates["transform-script-repair"].Version)
}

func TestParsePromptTemplates_RejectsMissingFields(t *testing.T) {
	_, err := ParsePromptTemplates([]byte("- name: incomplete\n"))
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry(map[string]PromptTemplate{DefaultRepairPromptName: DefaultRepairPrompt})

	got, err := reg.Get(DefaultRepairPromptName)
	require.NoError(t, err)
	assert.Equal(t, DefaultRepairPrompt.Version, got.Version)

	_, err = reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrPromptTemplateNotFound)
}
