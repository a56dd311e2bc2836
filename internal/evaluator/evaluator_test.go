package evaluator

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

func TestHTTPClientEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rs-1", req.RulesetID)
		_ = json.NewEncoder(w).Encode(Result{Matched: true, Confidence: 0.9})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	res, err := client.Evaluate(context.Background(), Request{RulesetID: "rs-1", Script: "x > 1"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.InDelta(t, 0.9, res.Confidence, 0.001)
}

func TestHTTPClientEvaluateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.Evaluate(context.Background(), Request{RulesetID: "rs-1"})
	require.Error(t, err)
}
