// Package llmgateway defines C3: the boundary to the external LLM
// gateway that judges ambiguous inputs the rule stage could not decide,
// and classifies intent when C4's regex table misses.
//
// Grounded on the teacher's model-tier selection convention
// (internal/activities/citation_agent.go's ModelTier field) and its
// JSON-over-HTTP collaborator shape.
package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/triflow-ai/core/internal/errs"
)

// ModelTier selects which backing model the gateway should route to.
type ModelTier string

const (
	TierSmall  ModelTier = "small"
	TierMedium ModelTier = "medium"
	TierLarge  ModelTier = "large"
)

// JudgeRequest asks the gateway to weigh in on a judgment the rule stage
// left unresolved or low-confidence.
type JudgeRequest struct {
	TenantID  string                 `json:"tenant_id"`
	RulesetID string                 `json:"ruleset_id"`
	Prompt    string                 `json:"prompt"`
	Input     map[string]interface{} `json:"input"`
	Tier      ModelTier              `json:"model_tier"`
}

// JudgeResult is the gateway's structured verdict.
type JudgeResult struct {
	Matched    bool                   `json:"matched"`
	Confidence float64                `json:"confidence"`
	Output     map[string]interface{} `json:"output"`
	Rationale  string                 `json:"rationale,omitempty"`
	TokensUsed int                    `json:"tokens_used"`
}

// ClassifyRequest asks the gateway to assign an intent label when the
// rule-stage regex table in C4 does not match.
type ClassifyRequest struct {
	TenantID string `json:"tenant_id"`
	Text     string `json:"text"`
}

// ClassifyResult is the gateway's intent classification.
type ClassifyResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Gateway is implemented by whatever transport reaches the external LLM
// gateway service.
type Gateway interface {
	Judge(ctx context.Context, req JudgeRequest) (*JudgeResult, error)
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)
}

// HTTPClient is the production JSON-over-HTTP Gateway implementation.
// Its timeout follows config.TimeoutConfig.Model (spec.md §5's ~30s
// suspension-point budget for model calls).
type HTTPClient struct {
	BaseURL    string
	Timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, Timeout: timeout, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Judge(ctx context.Context, req JudgeRequest) (*JudgeResult, error) {
	var out JudgeResult
	if err := c.post(ctx, "/judge", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	var out ClassifyResult
	if err := c.post(ctx, "/classify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.Internal, "marshal llm gateway request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.Internal, "build llm gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.Network, "call llm gateway", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errs.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return errs.New(errs.Service, fmt.Sprintf("llm gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return errs.New(errs.Validation, fmt.Sprintf("llm gateway rejected request: %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Service, "decode llm gateway response", err)
	}
	return nil
}
