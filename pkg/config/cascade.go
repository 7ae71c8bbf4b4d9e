package config

import (
	"context"
	"os"
)

// Source looks up one named configuration value, returning ok=false (not
// an error) when the source simply doesn't have it — Chain moves on to the
// next source in that case.
type Source interface {
	// Name identifies the source for error messages and logging.
	Name() string
	// Lookup returns the raw bytes for key, or ok=false if key isn't
	// present at this source.
	Lookup(ctx context.Context, key string) (data []byte, ok bool, err error)
}

// Chain is an ordered list of Sources: the first one to produce a value
// wins. The S3-county-specific → S3-general → env-county-specific →
// env-general cascade is modeled as an explicit, fully enumerated
// sequence rather than scattered fallback logic; Chain is that
// sequence, built once and reused for every county.
type Chain struct {
	sources []Source
}

// NewChain builds a Chain trying each source in order.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources}
}

// Lookup tries each source in order and returns the first hit. If every
// source misses, it returns ErrConfigNotFound.
func (c *Chain) Lookup(ctx context.Context, key string) ([]byte, error) {
	for _, src := range c.sources {
		data, ok, err := src.Lookup(ctx, key)
		if err != nil {
			return nil, NewLoadError(src.Name()+"/"+key, err)
		}
		if ok {
			return data, nil
		}
	}
	return nil, ErrConfigNotFound
}

// EnvSource reads a configuration blob from a single environment variable,
// optionally suffixed per-county (Prefix_KEY_COUNTY, with the county
// uppercased), falling back to the name without the county suffix. This realizes both
// "env-county-specific" and "env-general" cascade steps depending on
// whether County is set.
type EnvSource struct {
	// Prefix is the base environment variable name, e.g. "ELEPHANT_CONFIG".
	Prefix string
	// County, if non-empty, is tried first as a "_"+upper(County) suffix on
	// the key's variable name before falling back to that name alone.
	County string
}

// Name identifies this source for error messages.
func (s EnvSource) Name() string { return "env" }

// Lookup checks the county-suffixed variable first (if County is set),
// then the bare Prefix variable. key is normalized into env-var form:
// uppercased, with every non-alphanumeric byte replaced by an underscore
// ("classification.yaml" → "CLASSIFICATION_YAML").
func (s EnvSource) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	name := s.Prefix
	if key != "" {
		name = s.Prefix + "_" + envKey(key)
	}
	if s.County != "" {
		if v, ok := os.LookupEnv(name + "_" + upperASCII(s.County)); ok {
			return []byte(v), true, nil
		}
	}
	if v, ok := os.LookupEnv(name); ok {
		return []byte(v), true, nil
	}
	return nil, false, nil
}

// BlobGetter is the subset of pkg/blobstore.Client Chain needs: just
// enough to read a config object by bucket/key without importing the full
// client (avoiding an import cycle between config and blobstore).
type BlobGetter interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// S3Source reads a configuration blob from an object-store bucket,
// under a per-county prefix (Prefix + lower(county) + "/" + key) when
// County is set, else under Prefix + "general/" + key. A missing object is
// a miss for this source; it does not fall back to general/ itself.
type S3Source struct {
	Getter BlobGetter
	Bucket string
	Prefix string
	County string
}

// Name identifies this source for error messages.
func (s S3Source) Name() string { return "s3://" + s.Bucket + "/" + s.Prefix }

// Lookup fetches Prefix+County+"/"+key if County is set, else
// Prefix+"general/"+key. A NotFound-shaped error from Getter is reported
// as a miss (ok=false), not an error, so Chain proceeds to the next
// source; any other error propagates.
func (s S3Source) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	dir := "general"
	if s.County != "" {
		dir = lowerASCII(s.County)
	}
	objectKey := s.Prefix + dir + "/" + key
	data, err := s.Getter.Get(ctx, s.Bucket, objectKey)
	if err != nil {
		if IsNotFoundErr(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// IsNotFoundErr is overridable by callers wiring a concrete blob store
// whose NotFound errors don't satisfy the default check, which treats no
// error as NotFound; cmd/repair-controller sets it to blobstore.IsNotFound.
var IsNotFoundErr = func(error) bool { return false }

func envKey(key string) string {
	b := []byte(key)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}
