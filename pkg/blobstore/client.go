package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when the requested object doesn't exist.
var ErrNotFound = errors.New("blobstore: object not found")

// Kind classifies a blobstore failure into the retry taxonomy shared
// across this module's external-collaborator clients.
type Kind int

// Classification kinds.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindThrottled
	KindTransientIO
	KindFatal
)

// Error wraps a blobstore failure with its Kind.
type Error struct {
	Kind   Kind
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("blobstore: %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err denotes a missing object.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var berr *Error
	return errors.As(err, &berr) && berr.Kind == KindNotFound
}

// IsRetryable reports whether err is a transient condition worth retrying.
func IsRetryable(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind == KindThrottled || berr.Kind == KindTransientIO
	}
	return false
}

// S3API is the subset of *s3.Client Client depends on, so tests can supply
// a fake without standing up a real bucket.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client is the Blob Store Client (C9).
type Client struct {
	api S3API
}

// New wraps an already-configured S3 client.
func New(api S3API) *Client {
	return &Client{api: api}
}

// Get downloads the full contents of bucket/key.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classify("GetObject", bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransientIO, Op: "GetObject.Read", Bucket: bucket, Key: key, Err: err}
	}
	return data, nil
}

// Put uploads data to bucket/key, overwriting any existing object.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key), Body: bytes.NewReader(data),
	})
	if err != nil {
		return classify("PutObject", bucket, key, err)
	}
	return nil
}

// Exists reports whether bucket/key is present, without downloading it.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	if IsNotFound(classify("HeadObject", bucket, key, err)) {
		return false, nil
	}
	return false, classify("HeadObject", bucket, key, err)
}

func classify(op, bucket, key string, err error) error {
	if err == nil {
		return nil
	}
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	if errors.As(err, &nsk) || errors.As(err, &nsb) {
		return &Error{Kind: KindNotFound, Op: op, Bucket: bucket, Key: key, Err: ErrNotFound}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return &Error{Kind: KindNotFound, Op: op, Bucket: bucket, Key: key, Err: ErrNotFound}
		case "SlowDown", "RequestLimitExceeded", "ThrottlingException":
			return &Error{Kind: KindThrottled, Op: op, Bucket: bucket, Key: key, Err: err}
		case "RequestTimeout", "InternalError", "ServiceUnavailable":
			return &Error{Kind: KindTransientIO, Op: op, Bucket: bucket, Key: key, Err: err}
		}
	}
	return &Error{Kind: KindFatal, Op: op, Bucket: bucket, Key: key, Err: err}
}
