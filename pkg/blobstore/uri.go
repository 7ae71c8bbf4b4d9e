package blobstore

import (
	"fmt"
	"strings"
)

// ParseURI splits an "s3://bucket/key" URI into its bucket and key parts.
func ParseURI(uri string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("blobstore: not an s3 uri: %s", uri)
	}
	rest := uri[len(scheme):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("blobstore: s3 uri missing key: %s", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}

// FormatURI builds an "s3://bucket/key" URI.
func FormatURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// ScriptArchiveKey returns the per-county transform-scripts archive key
// under transformPrefix: "<transformPrefix>/<countyLowercase>.zip".
func ScriptArchiveKey(transformPrefix, county string) string {
	return strings.TrimSuffix(transformPrefix, "/") + "/" + strings.ToLower(county) + ".zip"
}

// SeedOutputKey returns "<prefix>/seed_output.zip".
func SeedOutputKey(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/seed_output.zip"
}

// PreparedOutputKey returns "<prefix>/output.zip".
func PreparedOutputKey(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/output.zip"
}

// IsMVLErrorsURI reports whether uri's key ends with "mvl_errors.csv" —
// the exact-suffix rule that tags an execution as MVL vs SVL scenario.
func IsMVLErrorsURI(uri string) bool {
	return strings.HasSuffix(uri, "mvl_errors.csv")
}
