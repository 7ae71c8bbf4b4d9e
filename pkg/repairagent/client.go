// Package repairagent is the outbound AI-agent client half of C10: it
// invokes the external script-repair agent with a rendered prompt and
// parses back the patched transform script.
package repairagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request is the outbound repair-agent invocation payload: the rendered
// prompt plus enough structure for the agent to return a single patched
// script body.
type Request struct {
	Prompt   string `json:"prompt"`
	County   string `json:"county"`
	Scenario string `json:"scenario"`
}

// Usage reports token/cost accounting for one invocation. Exposed so a
// CostObserver can record it; never required.
type Usage struct {
	TokensIn  int     `json:"tokensIn"`
	TokensOut int     `json:"tokensOut"`
	USD       float64 `json:"usd"`
}

// Response is the repair agent's reply: the patched transform script body
// and its usage accounting.
type Response struct {
	PatchedScript string `json:"patchedScript"`
	Usage         Usage  `json:"usage"`
}

// CostObserver receives usage accounting for every repair-agent invocation.
// Callers that don't care about cost pass NoopCostObserver.
type CostObserver interface {
	Observe(tokensIn, tokensOut int, usd float64)
}

// NoopCostObserver discards usage accounting.
type NoopCostObserver struct{}

// Observe is a no-op.
func (NoopCostObserver) Observe(int, int, float64) {}

// HTTPDoer is the subset of *http.Client Client depends on.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client invokes the repair agent and reports usage to an observer.
type Client struct {
	doer     HTTPDoer
	endpoint string
	observer CostObserver
}

// New builds a Client posting to endpoint via doer, reporting usage to
// observer (pass NoopCostObserver{} if cost accounting isn't needed).
func New(doer HTTPDoer, endpoint string, observer CostObserver) *Client {
	if observer == nil {
		observer = NoopCostObserver{}
	}
	return &Client{doer: doer, endpoint: endpoint, observer: observer}
}

// Repair invokes the agent with req and returns its parsed Response,
// reporting usage to the configured CostObserver.
func (c *Client) Repair(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal repair-agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build repair-agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call repair agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("repair agent returned %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode repair-agent response: %w", err)
	}
	c.observer.Observe(out.Usage.TokensIn, out.Usage.TokensOut, out.Usage.USD)
	return &out, nil
}
