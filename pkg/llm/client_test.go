package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"lingua-chat-go/internal/config"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedRequest struct {
	Model          string  `json:"model"`
	Stream         bool    `json:"stream"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []Message `json:"messages"`
}

func newStreamServer(t *testing.T, chunks []string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamChatMessagesWritesChunksInOrder(t *testing.T) {
	var captured capturedRequest
	srv := newStreamServer(t, []string{"Hel", "lo", "!"}, &captured)
	defer srv.Close()

	client := NewClient(config.LLMConfig{
		APIKey:     "test",
		BaseURL:    srv.URL,
		Model:      "tutor-model",
		Generation: config.LLMGenerationConfig{Temperature: 0.7, MaxTokens: 500},
	})

	var got []string
	err := client.StreamChatMessages(context.Background(), []Message{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hi"},
	}, nil, ChunkWriterFunc(func(chunk string) error {
		got = append(got, chunk)
		return nil
	}))
	if err != nil {
		t.Fatalf("StreamChatMessages returned error: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo|!" {
		t.Errorf("unexpected chunks %q", got)
	}
	if captured.Model != "tutor-model" || !captured.Stream {
		t.Errorf("unexpected request model=%s stream=%v", captured.Model, captured.Stream)
	}
	if captured.MaxTokens != 500 {
		t.Errorf("expected configured max tokens, got %d", captured.MaxTokens)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("unexpected messages %+v", captured.Messages)
	}
}

func TestStreamChatMessagesStopsOnWriterError(t *testing.T) {
	srv := newStreamServer(t, []string{"a", "b", "c"}, nil)
	defer srv.Close()

	client := NewClient(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"})
	calls := 0
	err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil,
		ChunkWriterFunc(func(string) error {
			calls++
			return fmt.Errorf("client gone")
		}))
	if err == nil {
		t.Fatal("expected writer error to be returned")
	}
	if calls != 1 {
		t.Errorf("expected streaming to stop after first failure, got %d calls", calls)
	}
}

func TestStreamChatMessagesReportsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	client := NewClient(config.LLMConfig{APIKey: "bad", BaseURL: srv.URL, Model: "m"})
	err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil,
		ChunkWriterFunc(func(string) error { return nil }))
	if err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}

func TestCompleteJSONUsesAnalysisModelAndJSONMode(t *testing.T) {
	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"corrections\":[]}"}}]}`)
	}))
	defer srv.Close()

	client := NewClient(config.LLMConfig{
		APIKey:        "test",
		BaseURL:       srv.URL,
		Model:         "chat-model",
		AnalysisModel: "analysis-model",
	})
	out, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "analyze"}}, nil)
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if out != `{"corrections":[]}` {
		t.Errorf("unexpected content %q", out)
	}
	if captured.Model != "analysis-model" {
		t.Errorf("expected analysis model, got %s", captured.Model)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json_object response format, got %+v", captured.ResponseFormat)
	}
}

func TestCompleteJSONEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()

	client := NewClient(config.LLMConfig{APIKey: "test", BaseURL: srv.URL, Model: "m"})
	if _, err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil); err != ErrEmptyResponse {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestParamsFromConfigSkipsZeroValues(t *testing.T) {
	p := ParamsFromConfig(config.LLMGenerationConfig{Temperature: 0.3})
	if p.Temperature == nil || *p.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", p.Temperature)
	}
	if p.TopP != nil || p.MaxTokens != nil {
		t.Errorf("expected zero values to stay unset, got %+v", p)
	}
}
