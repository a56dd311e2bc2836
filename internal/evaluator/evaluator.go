// Package evaluator defines C2: the boundary to the external script
// evaluator process that runs a ruleset's compiled script against a
// judgment's input and returns a structured verdict.
//
// This is a pure boundary interface, grounded on the teacher's narrow
// activities-style interfaces consumed by workflow code (accept a typed
// request, return a typed result or error, no hidden state) — there is
// no in-process implementation to ship, since script execution is an
// external collaborator per spec.md §1.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/triflow-ai/core/internal/errs"
)

// Request is what the judgment pipeline sends to the evaluator for one
// rule-stage pass.
type Request struct {
	RulesetID string                 `json:"ruleset_id"`
	Script    string                 `json:"script"`
	Input     map[string]interface{} `json:"input"`
	TenantID  string                 `json:"tenant_id"`
}

// Result is the evaluator's verdict for a rule-stage pass.
type Result struct {
	Matched    bool                   `json:"matched"`
	Confidence float64                `json:"confidence"`
	Output     map[string]interface{} `json:"output"`
	DurationMS float64                `json:"duration_ms"`
}

// Evaluator is implemented by whatever transport reaches the external
// script evaluator (HTTP client, in-process sandbox, etc).
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Result, error)
}

// HTTPClient is a thin JSON-over-HTTP Evaluator implementation, used in
// production; its timeout follows config.TimeoutConfig.Evaluator
// (spec.md §5's ~2s suspension-point budget).
type HTTPClient struct {
	BaseURL    string
	Timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPClient builds a client against the external script evaluator.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, Timeout: timeout, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Evaluate(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal evaluate request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build evaluate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.Network, "call script evaluator", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, errs.New(errs.Service, fmt.Sprintf("evaluator returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, errs.New(errs.Validation, fmt.Sprintf("evaluator rejected request: %d", resp.StatusCode))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errs.Wrap(errs.Service, "decode evaluator response", err)
	}
	return &result, nil
}
