package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newTestConfig builds a config pointed at a mock upstream, with timing
// knobs shrunk so retry and breaker behavior is observable in tests.
func newTestConfig(upstreamURL string) *Config {
	return &Config{
		OpenRouterAPIKey:  "test-key",
		OpenRouterBaseURL: upstreamURL,

		CouncilModels: []ModelDescriptor{
			{ID: "test/alpha", Name: "Alpha", Provider: "openrouter"},
			{ID: "test/beta", Name: "Beta", Provider: "openrouter"},
			{ID: "test/gamma", Name: "Gamma", Provider: "openrouter"},
		},
		ChairmanModel: ModelDescriptor{ID: "test/chairman", Name: "Chairman", Provider: "openrouter"},
		TitleModel:    "test/title",

		ConnectTimeout:   2 * time.Second,
		ChatTimeout:      5 * time.Second,
		MetadataTimeout:  5 * time.Second,
		RetryBaseDelay:   1 * time.Millisecond,
		MaxRetryAttempts: 3,

		BreakerFailMax:  5,
		BreakerCooldown: 50 * time.Millisecond,

		ModelsListTTL: time.Minute,
		FetchedURLTTL: time.Minute,

		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	}
}

// newTestClient builds a client and its breaker registry against a mock
// upstream.
func newTestClient(upstreamURL string) (*Client, *BreakerRegistry) {
	cfg := newTestConfig(upstreamURL)
	breakers := NewBreakerRegistry(cfg.BreakerFailMax, cfg.BreakerCooldown)
	return NewClient(cfg, breakers), breakers
}

// chatContentHandler returns a handler that answers every chat call with
// the given content.
func chatContentHandler(t *testing.T, content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") == "" {
			t.Errorf("Missing Authorization header")
		}
		writeChatContent(w, content)
	}
}

// chatPerModelHandler answers chat calls with per-model content; models
// listed in failModels get a 400 instead.
func chatPerModelHandler(t *testing.T, content map[string]string, failModels map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chat request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if failModels[req.Model] {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "model unavailable"}}`))
			return
		}
		writeChatContent(w, content[req.Model])
	}
}

// councilMockHandler simulates a full upstream for round tests: answers
// review prompts with the given rankings JSON, chairman calls with the
// synthesis text, and everything else with the answer text.
func councilMockHandler(t *testing.T, answer, rankingsJSON, synthesis string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode chat request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		userPrompt := ""
		systemPrompt := ""
		for _, m := range req.Messages {
			switch m.Role {
			case "user":
				userPrompt = m.Content
			case "system":
				systemPrompt = m.Content
			}
		}

		switch {
		case strings.Contains(systemPrompt, "Chairman"):
			writeChatContent(w, synthesis)
		case strings.Contains(userPrompt, "Provide your ranking as a JSON array"):
			writeChatContent(w, rankingsJSON)
		default:
			writeChatContent(w, answer)
		}
	}
}

// writeChatContent writes a well-formed chat-completions response.
func writeChatContent(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}},
		},
	})
}

// chatInspectHandler passes each decoded chat request to inspect and
// answers with "ok".
func chatInspectHandler(t *testing.T, inspect func(chatRequest)) http.HandlerFunc {
	return chatInspectHandlerWith(t, inspect, "ok")
}

// chatInspectHandlerWith passes each decoded chat request to inspect and
// answers with the given content.
func chatInspectHandlerWith(t *testing.T, inspect func(chatRequest), content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		decodeJSONBody(t, r, &req)
		inspect(req)
		writeChatContent(w, content)
	}
}

// decodeJSONBody decodes a request body, failing the test on error.
func decodeJSONBody(t *testing.T, r *http.Request, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Errorf("Failed to decode request body: %v", err)
	}
}

// statusHandler returns a handler that always responds with statusCode.
func statusHandler(statusCode int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		w.Write([]byte(body))
	}
}

// mockUpstream starts an httptest server for the given handler.
func mockUpstream(handler http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(handler)
}

// sampleRound builds a round with three successful responses and one
// failed one, plus matching peer reviews.
func sampleRound() ConversationRound {
	return ConversationRound{
		Question: "What is Go?",
		Responses: []ModelResponse{
			{ModelID: "test/alpha", ModelName: "Alpha", Text: "Go is a language."},
			{ModelID: "test/beta", ModelName: "Beta", Text: "Go is from Google."},
			{ModelID: "test/gamma", ModelName: "Gamma", Text: "Go is compiled."},
			{ModelID: "test/delta", ModelName: "Delta", Err: "timeout"},
		},
		PeerReviews: []PeerReview{
			{
				ReviewerModel: "Alpha",
				Rankings: []RankingEntry{
					RankedEntry(1, 1, "clear"),
					RankedEntry(2, 2, "good"),
					RankedEntry(3, 3, "brief"),
				},
			},
			{
				ReviewerModel: "Beta",
				Rankings: []RankingEntry{
					RankedEntry(1, 3, "shallow"),
					RankedEntry(2, 2, "fine"),
					RankedEntry(3, 1, "precise"),
				},
			},
		},
		Status:    RoundReviewed,
		CreatedAt: testTime(),
	}
}

// testTime returns a fixed time for testing
func testTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}
