package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// completionServer fakes an OpenAI-compatible chat completion endpoint.
type completionServer struct {
	mu      sync.Mutex
	auth    string
	request map[string]any
	status  int
	reply   string
	choices bool
}

func newCompletionServer(reply string) *completionServer {
	return &completionServer{reply: reply, choices: true}
}

func (s *completionServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.request = req
		s.mu.Unlock()

		if s.status != 0 {
			http.Error(w, `{"error": {"message": "boom"}}`, s.status)
			return
		}

		resp := map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"model":   req["model"],
			"choices": []any{},
		}
		if s.choices {
			resp["choices"] = []any{
				map[string]any{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": s.reply,
					},
				},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func (s *completionServer) lastRequest() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

func (s *completionServer) lastAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func TestOpenAIClientGenerate(t *testing.T) {
	backend := newCompletionServer("A concise summary.")
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := NewOpenAIClient("test-key",
		WithBaseURL(server.URL+"/v1"),
		WithModel("test-model"))

	got, err := client.Generate(context.Background(), "Summarize this.", GenerateOptions{
		SystemPrompt: "You are a summarizer.",
		Temperature:  DefaultTemperature,
		MaxTokens:    100,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "A concise summary." {
		t.Errorf("Generate() = %q, want %q", got, "A concise summary.")
	}

	if auth := backend.lastAuth(); auth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}

	req := backend.lastRequest()
	if req["model"] != "test-model" {
		t.Errorf("request model = %v, want test-model", req["model"])
	}
	if got := req["max_tokens"].(float64); got != 100 {
		t.Errorf("request max_tokens = %v, want 100", got)
	}
	messages := req["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	first := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "You are a summarizer." {
		t.Errorf("first message = %v, want system prompt", first)
	}
	second := messages[1].(map[string]any)
	if second["role"] != "user" || second["content"] != "Summarize this." {
		t.Errorf("second message = %v, want user prompt", second)
	}
}

func TestOpenAIClientGenerateNoSystemPrompt(t *testing.T) {
	backend := newCompletionServer("ok")
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := NewOpenAIClient("test-key", WithBaseURL(server.URL+"/v1"))

	if _, err := client.Generate(context.Background(), "hello", GenerateOptions{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	messages := backend.lastRequest()["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].(map[string]any)["role"] != "user" {
		t.Errorf("message role = %v, want user", messages[0])
	}
}

func TestOpenAIClientGenerateOptionsModelOverride(t *testing.T) {
	backend := newCompletionServer("ok")
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := NewOpenAIClient("test-key",
		WithBaseURL(server.URL+"/v1"),
		WithModel("default-model"))

	if _, err := client.Generate(context.Background(), "hello", GenerateOptions{Model: "override"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := backend.lastRequest()["model"]; got != "override" {
		t.Errorf("request model = %v, want override", got)
	}
}

func TestOpenAIClientGenerateServerError(t *testing.T) {
	backend := newCompletionServer("")
	backend.status = http.StatusInternalServerError
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := NewOpenAIClient("test-key", WithBaseURL(server.URL+"/v1"))

	if _, err := client.Generate(context.Background(), "hello", GenerateOptions{}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestOpenAIClientGenerateNoChoices(t *testing.T) {
	backend := newCompletionServer("")
	backend.choices = false
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	client := NewOpenAIClient("test-key", WithBaseURL(server.URL+"/v1"))

	_, err := client.Generate(context.Background(), "hello", GenerateOptions{})
	if err == nil {
		t.Fatal("expected error when response has no choices")
	}
	if !strings.Contains(err.Error(), "no choices") {
		t.Errorf("error = %v, want no choices message", err)
	}
}
