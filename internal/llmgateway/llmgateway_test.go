package llmgateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientJudge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/judge", r.URL.Path)
		_ = json.NewEncoder(w).Encode(JudgeResult{Matched: true, Confidence: 0.75, TokensUsed: 120})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	res, err := client.Judge(context.Background(), JudgeRequest{TenantID: "t1", Tier: TierSmall})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, 120, res.TokensUsed)
}

func TestHTTPClientClassifyRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Classify(context.Background(), ClassifyRequest{TenantID: "t1", Text: "stop line 3"})
	require.Error(t, err)
}
