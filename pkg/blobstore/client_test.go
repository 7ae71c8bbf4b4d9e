package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func objKey(bucket, key string) string { return bucket + "/" + key }

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[objKey(*in.Bucket, *in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[objKey(*in.Bucket, *in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[objKey(*in.Bucket, *in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestClientPutGetRoundTrip(t *testing.T) {
	api := newFakeS3()
	c := New(api)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "bucket", "palmbeach.zip", []byte("script bytes")))

	got, err := c.Get(ctx, "bucket", "palmbeach.zip")
	require.NoError(t, err)
	assert.Equal(t, "script bytes", string(got))
}

func TestClientGetNotFound(t *testing.T) {
	api := newFakeS3()
	c := New(api)

	_, err := c.Get(context.Background(), "bucket", "missing.zip")
	assert.True(t, IsNotFound(err))
}

func TestClientExists(t *testing.T) {
	api := newFakeS3()
	c := New(api)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "bucket", "output.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "bucket", "output.zip", []byte("x")))
	ok, err = c.Exists(ctx, "bucket", "output.zip")
	require.NoError(t, err)
	assert.True(t, ok)
}
