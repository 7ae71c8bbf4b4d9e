package config

import "os"

// ExpandEnv expands environment variables in loaded configuration content
// before parsing. Supports both ${VAR} and $VAR syntax (standard
// shell-style), so an override file can reference deployment-specific
// values (${TRANSFORM_BUCKET}, ${ELEPHANT_CONFIG_PREFIX}) without being
// rewritten per environment.
//
// Missing variables expand to empty string. Validation should catch
// required fields that are empty.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
