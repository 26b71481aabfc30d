package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/mneme/internal/config"
	"github.com/scrypster/mneme/internal/service"
	"github.com/scrypster/mneme/internal/storage/sqlite"
)

func testConfig() *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{Provider: "hash", Dimension: 64, CacheSize: 16},
		Context: config.ContextConfig{
			DefaultBudgetTokens: 8192,
			WorkingMemoryTokens: 4096,
			BudgetAllocation: config.BudgetAllocation{
				SystemPrompt:      0.15,
				EntityProfile:     0.10,
				SessionSummary:    0.10,
				RetrievedMemories: 0.15,
				RecentMessages:    0.35,
				FewShotExamples:   0.05,
				ResponseReserve:   0.10,
			},
		},
		Extraction: config.ExtractionConfig{
			BatchSize:           5,
			MinImportance:       0.3,
			ConfidenceThreshold: 0.6,
			PatternsEnabled:     true,
		},
		Consolidation: config.ConsolidationConfig{
			DecayHalfLifeDays:  30,
			PruningThreshold:   0.1,
			MaxMergeCandidates: 500,
			MergeThreshold:     0.85,
		},
		Retrieval: config.RetrievalConfig{
			TopK:         5,
			VectorWeight: 0.5,
			FTSWeight:    0.3,
			GraphWeight:  0.2,
			GraphSeeds:   3,
		},
		Server: config.ServerConfig{
			Host:          "127.0.0.1",
			Port:          0,
			RateLimit:     1000,
			RateBurst:     1000,
			DefaultSystem: "You are a streamer companion.",
			AllowDeletes:  true,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)

	svc := service.NewWithBackends(cfg, store, nil)
	hub := NewWebSocketHub([]string{"localhost:0"})
	go hub.Run()

	ts := httptest.NewServer(Routes(cfg, svc, hub))
	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
		svc.Close()
	})
	return ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t, testConfig())

	// Start a session.
	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"entity_id": "viewer:alice",
		"name":      "Alice",
		"platform":  "twitch",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp, &started)
	assert.True(t, strings.HasPrefix(started.SessionID, "session_"))

	// Record a turn.
	resp = postJSON(t, ts.URL+"/api/turns", map[string]string{
		"user":      "my name is Mika",
		"assistant": "nice to meet you!",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Build a context.
	resp = postJSON(t, ts.URL+"/api/context", map[string]interface{}{
		"query":         "hello",
		"budget_tokens": 4096,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ctx struct {
		SystemPrompt string `json:"SystemPrompt"`
		Budget       int    `json:"Budget"`
	}
	decodeJSON(t, resp, &ctx)
	assert.Contains(t, ctx.SystemPrompt, "You are a streamer companion.")
	assert.Equal(t, 4096, ctx.Budget)

	// End the session.
	resp = postJSON(t, ts.URL+"/api/sessions/end", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entry struct {
		SessionID string `json:"session_id"`
	}
	decodeJSON(t, resp, &entry)
	assert.Equal(t, started.SessionID, entry.SessionID)

	// A second end conflicts.
	resp = postJSON(t, ts.URL+"/api/sessions/end", map[string]string{})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTurnWithoutSessionConflicts(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp := postJSON(t, ts.URL+"/api/turns", map[string]string{
		"user":      "hello",
		"assistant": "hi",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMemoryCRUDOverHTTP(t *testing.T) {
	ts := newTestServer(t, testConfig())

	// Create.
	resp := postJSON(t, ts.URL+"/api/memories", map[string]interface{}{
		"content":    "The user is allergic to peanuts",
		"type":       "atomic_fact",
		"importance": 0.8,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &created)
	require.NotEmpty(t, created.ID)

	// Search.
	resp, err := http.Get(ts.URL + "/api/search?q=allergic+to+peanuts")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var search struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &search)
	require.NotZero(t, search.Total)
	assert.Equal(t, created.ID, search.Results[0].ID)

	// List.
	resp, err = http.Get(ts.URL + "/api/memories")
	require.NoError(t, err)
	var list struct {
		Total int `json:"total"`
	}
	decodeJSON(t, resp, &list)
	assert.Equal(t, 1, list.Total)

	// Delete.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/memories/"+created.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deleting again is a 404.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateMemoryRejectsEmptyContent(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp := postJSON(t, ts.URL+"/api/memories", map[string]interface{}{
		"content": "   ",
		"type":    "atomic_fact",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRuleOverHTTP(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp := postJSON(t, ts.URL+"/api/rules", map[string]interface{}{
		"rule_type":  "style",
		"content":    "keep replies short",
		"confidence": 0.9,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID string `json:"id"`
	}
	decodeJSON(t, resp, &created)
	require.NotEmpty(t, created.ID)

	// The rule shows up in the next assembled context.
	resp = postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"entity_id": "viewer:alice",
		"name":      "Alice",
		"platform":  "twitch",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/context", map[string]interface{}{
		"query":         "hello",
		"budget_tokens": 4096,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ctx struct {
		SystemPrompt string `json:"SystemPrompt"`
	}
	decodeJSON(t, resp, &ctx)
	assert.Contains(t, ctx.SystemPrompt, "keep replies short")

	// Empty content is rejected.
	resp = postJSON(t, ts.URL+"/api/rules", map[string]interface{}{
		"rule_type": "style",
		"content":   "   ",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeletesCanBeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowDeletes = false
	ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/memories", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/memories/some-id", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStreamEventAndSentiment(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp := postJSON(t, ts.URL+"/api/stream/events", map[string]string{
		"event_type":  "raid",
		"description": "50 viewers raided",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Missing event type is rejected.
	resp = postJSON(t, ts.URL+"/api/stream/events", map[string]string{
		"description": "mystery event",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/sentiment", map[string]interface{}{
		"sentiment":    0.7,
		"trigger_text": "that was so funny",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Out-of-range sentiment is rejected.
	resp = postJSON(t, ts.URL+"/api/sentiment", map[string]interface{}{
		"sentiment": 2.5,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRequiresQuery(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/api/search")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/api/turns")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	handler := RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), limiter)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Burst of 1 is spent; the next request is throttled.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWebSocketHubBroadcast(t *testing.T) {
	hub := NewWebSocketHub(nil)
	go hub.Run()
	defer hub.Stop()

	client := &MockClient{SendChan: make(chan []byte, 8)}
	hub.Register(client)

	hub.Broadcast(Event{Type: "memory_created", Data: map[string]string{"id": "n1"}})

	msg := <-client.SendChan
	var event Event
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "memory_created", event.Type)
}
