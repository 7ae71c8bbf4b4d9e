package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	objects map[string][]byte
	err     error
}

var errFakeNotFound = errors.New("fake not found")

func (f *fakeGetter) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errFakeNotFound
	}
	return data, nil
}

func withNotFoundCheck(t *testing.T) {
	t.Helper()
	prev := IsNotFoundErr
	IsNotFoundErr = func(err error) bool { return errors.Is(err, errFakeNotFound) }
	t.Cleanup(func() { IsNotFoundErr = prev })
}

func TestChain_FirstHitWins(t *testing.T) {
	withNotFoundCheck(t)
	getter := &fakeGetter{objects: map[string][]byte{
		"cfg/conf/palmbeach/prompts.yaml": []byte("county-specific"),
		"cfg/conf/general/prompts.yaml":   []byte("general"),
	}}
	chain := NewChain(
		S3Source{Getter: getter, Bucket: "cfg", Prefix: "conf/", County: "palmbeach"},
		S3Source{Getter: getter, Bucket: "cfg", Prefix: "conf/"},
	)

	data, err := chain.Lookup(context.Background(), "prompts.yaml")
	require.NoError(t, err)
	assert.Equal(t, "county-specific", string(data))
}

func TestChain_FallsThroughToLaterSource(t *testing.T) {
	withNotFoundCheck(t)
	getter := &fakeGetter{objects: map[string][]byte{
		"cfg/conf/general/prompts.yaml": []byte("general"),
	}}
	chain := NewChain(
		S3Source{Getter: getter, Bucket: "cfg", Prefix: "conf/", County: "palmbeach"},
		S3Source{Getter: getter, Bucket: "cfg", Prefix: "conf/"},
	)

	data, err := chain.Lookup(context.Background(), "prompts.yaml")
	require.NoError(t, err)
	assert.Equal(t, "general", string(data))
}

func TestChain_AllMiss(t *testing.T) {
	withNotFoundCheck(t)
	chain := NewChain(
		S3Source{Getter: &fakeGetter{objects: map[string][]byte{}}, Bucket: "cfg", Prefix: "conf/"},
		EnvSource{Prefix: "CASCADE_TEST_MISSING"},
	)

	_, err := chain.Lookup(context.Background(), "prompts.yaml")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestChain_SourceErrorPropagatesAsLoadError(t *testing.T) {
	withNotFoundCheck(t)
	chain := NewChain(S3Source{Getter: &fakeGetter{err: errors.New("access denied")}, Bucket: "cfg", Prefix: "conf/"})

	_, err := chain.Lookup(context.Background(), "prompts.yaml")
	require.Error(t, err)
	var loadErr *LoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestEnvSource_NormalizesKeyAndPrefersCounty(t *testing.T) {
	t.Setenv("CASCADE_TEST_CLASSIFICATION_YAML", "general")
	t.Setenv("CASCADE_TEST_CLASSIFICATION_YAML_PALMBEACH", "county")

	src := EnvSource{Prefix: "CASCADE_TEST", County: "palmbeach"}
	data, ok, err := src.Lookup(context.Background(), "classification.yaml")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "county", string(data))

	src.County = ""
	data, ok, err = src.Lookup(context.Background(), "classification.yaml")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "general", string(data))
}
