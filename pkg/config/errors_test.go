package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *ValidationError
		contains []string
	}{
		{
			name: "classification table error",
			err:  NewValidationError("classification_table", "01256", "pattern", baseErr),
			contains: []string{
				"classification_table",
				"01256",
				"pattern",
				"base error",
			},
		},
		{
			name: "cascade source error",
			err:  NewValidationError("cascade_source", "palmbeach", "bucket", errors.New("invalid bucket")),
			contains: []string{
				"cascade_source",
				"palmbeach",
				"bucket",
				"invalid bucket",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestValidationErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	validationErr := NewValidationError("prompt_template", "repair-script-v1", "field", baseErr)

	unwrapped := validationErr.Unwrap()
	assert.Equal(t, baseErr, unwrapped)
	assert.True(t, errors.Is(validationErr, baseErr))
}

func TestLoadErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *LoadError
		contains []string
	}{
		{
			name: "s3 source error",
			err: &LoadError{
				Source: "s3://elephant-config/palmbeach/classification.yaml",
				Err:    errors.New("object not found"),
			},
			contains: []string{
				"failed to load",
				"s3://elephant-config/palmbeach/classification.yaml",
				"object not found",
			},
		},
		{
			name: "env source error",
			err: &LoadError{
				Source: "ELEPHANT_CLASSIFICATION_TABLE",
				Err:    errors.New("yaml: unmarshal error"),
			},
			contains: []string{
				"failed to load",
				"ELEPHANT_CLASSIFICATION_TABLE",
				"unmarshal error",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				assert.Contains(t, errStr, substr)
			}
		})
	}
}

func TestLoadErrorUnwrap(t *testing.T) {
	baseErr := errors.New("base error")
	loadErr := &LoadError{Source: "test.yaml", Err: baseErr}

	unwrapped := loadErr.Unwrap()
	assert.Equal(t, baseErr, unwrapped)
	assert.True(t, errors.Is(loadErr, baseErr))
}
