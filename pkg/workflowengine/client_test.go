package workflowengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	calls []*http.Request
	body  map[string][]byte
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls = append(f.calls, req)
	if f.body == nil {
		f.body = map[string][]byte{}
	}
	data, _ := io.ReadAll(req.Body)
	f.body[req.URL.String()] = data
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func TestClientSuccess(t *testing.T) {
	doer := &fakeDoer{}
	c := New(doer, "https://engine.example/success", "https://engine.example/failure")

	err := c.Success(context.Background(), SuccessPayload{OutputS3URI: "s3://b/output.zip", County: "palmbeach", TaskToken: "tok"})
	require.NoError(t, err)
	require.Len(t, doer.calls, 1)

	var sent SuccessPayload
	require.NoError(t, json.Unmarshal(doer.body["https://engine.example/success"], &sent))
	assert.Equal(t, "palmbeach", sent.County)
}

func TestNewFailurePayloadTruncatesCause(t *testing.T) {
	longCause := strings.Repeat("x", 1000)
	payload, err := NewFailurePayload("tok", "34567", "palmbeach", map[string]string{"detail": longCause})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(payload.Cause), 256)
	assert.Equal(t, "34567palmbeach", payload.Error)
}

func TestClientFailure(t *testing.T) {
	doer := &fakeDoer{}
	c := New(doer, "https://engine.example/success", "https://engine.example/failure")

	payload, err := NewFailurePayload("tok", "34567", "palmbeach", "script execution error")
	require.NoError(t, err)

	require.NoError(t, c.Failure(context.Background(), payload))
	require.Len(t, doer.calls, 1)
	assert.Equal(t, "https://engine.example/failure", doer.calls[0].URL.String())
}
