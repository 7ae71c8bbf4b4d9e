package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elephant-xyz/workflow-core/pkg/fingerprint"
)

const overrideYAML = `
rules:
  - code: "01256"
    description: replaced rule
    patterns:
      - 'custom required-field pattern'
  - code: "77777"
    description: brand new rule
    patterns:
      - 'county ingest exploded'
defaultCode: "10888"
`

func TestParseClassificationTable_RejectsBadYAML(t *testing.T) {
	_, err := ParseClassificationTable([]byte("rules: ["))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseClassificationTable_RejectsInvalidCode(t *testing.T) {
	_, err := ParseClassificationTable([]byte("rules:\n  - code: \"12\"\n    description: too short\n    patterns: ['x']\n"))
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestParseClassificationTable_RejectsBadRegex(t *testing.T) {
	_, err := ParseClassificationTable([]byte("rules:\n  - code: \"12345\"\n    description: broken\n    patterns: ['[unclosed']\n"))
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMergeOntoDefault_ReplacesByCodeAndAppendsNew(t *testing.T) {
	base := BaseFromTable(fingerprint.Table)
	override, err := ParseClassificationTable([]byte(overrideYAML))
	require.NoError(t, err)

	merged, defaultCode, err := MergeOntoDefault(base, override, "10999")
	require.NoError(t, err)
	assert.Equal(t, "10888", defaultCode)
	assert.Len(t, merged, len(base)+1)

	// The replaced code keeps its original position, preserving rule
	// precedence for everything after it.
	assert.Equal(t, base[0].Code, merged[0].Code)
	for i, r := range merged {
		if r.Code == "01256" {
			assert.Equal(t, "replaced rule", merged[i].Description)
		}
	}
	assert.Equal(t, "77777", merged[len(merged)-1].Code)
}

func TestLoadClassificationTable_NoOverrideIsPassthrough(t *testing.T) {
	withNotFoundCheck(t)
	chain := NewChain(S3Source{Getter: &fakeGetter{objects: map[string][]byte{}}, Bucket: "cfg", Prefix: "conf/"})

	rules, defaultCode, err := LoadClassificationTable(context.Background(), chain, BaseFromTable(fingerprint.Table), "10999")
	require.NoError(t, err)
	assert.Equal(t, "10999", defaultCode)
	assert.Len(t, rules, len(fingerprint.Table))
}

func TestLoadClassificationTable_AppliesOverrideAndEnvExpansion(t *testing.T) {
	withNotFoundCheck(t)
	t.Setenv("CLASSIFY_TEST_DESC", "expanded description")
	getter := &fakeGetter{objects: map[string][]byte{
		"cfg/conf/general/classification.yaml": []byte(`
rules:
  - code: "88888"
    description: ${CLASSIFY_TEST_DESC}
    patterns:
      - 'totally new failure mode'
`),
	}}
	chain := NewChain(S3Source{Getter: getter, Bucket: "cfg", Prefix: "conf/"})

	rules, defaultCode, err := LoadClassificationTable(context.Background(), chain, BaseFromTable(fingerprint.Table), "10999")
	require.NoError(t, err)
	assert.Equal(t, "10999", defaultCode)

	last := rules[len(rules)-1]
	assert.Equal(t, "88888", last.Code)
	assert.Equal(t, "expanded description", last.Description)
	assert.True(t, last.Patterns[0].MatchString("totally new failure mode"))
}

func TestBaseFromTable_RoundTripsThroughCompile(t *testing.T) {
	base := BaseFromTable(fingerprint.Table)
	compiled, err := Compile(base)
	require.NoError(t, err)
	require.Len(t, compiled, len(fingerprint.Table))
	for i, r := range compiled {
		assert.Equal(t, fingerprint.Table[i].Code, r.Code)
		assert.Len(t, r.Patterns, len(fingerprint.Table[i].Patterns))
	}
}
