package repairagent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	resp Response
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	data, _ := json.Marshal(f.resp)
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(data))}, nil
}

type recordingObserver struct {
	tokensIn, tokensOut int
	usd                 float64
	calls               int
}

func (o *recordingObserver) Observe(tokensIn, tokensOut int, usd float64) {
	o.tokensIn, o.tokensOut, o.usd = tokensIn, tokensOut, usd
	o.calls++
}

func TestClientRepairReportsUsage(t *testing.T) {
	doer := &fakeDoer{resp: Response{PatchedScript: "def transform(): ...", Usage: Usage{TokensIn: 100, TokensOut: 50, USD: 0.02}}}
	obs := &recordingObserver{}
	c := New(doer, "https://agent.example/repair", obs)

	resp, err := c.Repair(context.Background(), Request{County: "palmbeach", Scenario: "SVL"})
	require.NoError(t, err)
	assert.Equal(t, "def transform(): ...", resp.PatchedScript)
	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, 100, obs.tokensIn)
}

func TestClientRepairNilObserverDefaultsToNoop(t *testing.T) {
	doer := &fakeDoer{resp: Response{PatchedScript: "x"}}
	c := New(doer, "https://agent.example/repair", nil)

	_, err := c.Repair(context.Background(), Request{})
	require.NoError(t, err)
}
