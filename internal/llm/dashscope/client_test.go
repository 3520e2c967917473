package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
)

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "  "}); xerrors.CodeOf(err) != xerrors.CodeMissingCredential {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestGeneratePromptMode(t *testing.T) {
	var captured generationRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"request_id":"r1","output":{"text":"我是通义千问。","finish_reason":"stop"},"usage":{"input_tokens":8,"output_tokens":6}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Generate(context.Background(), llm.Request{Prompt: "你好，请简单介绍一下你自己"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "我是通义千问。" || resp.PromptTokens != 8 || resp.CompletionTokens != 6 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if path != generationPath {
		t.Fatalf("unexpected path %s", path)
	}
	if captured.Input.Prompt != "你好，请简单介绍一下你自己" || len(captured.Input.Messages) != 0 {
		t.Fatalf("prompt mode expected: %+v", captured.Input)
	}
	if captured.Parameters.ResultFormat != "text" || captured.Parameters.MaxTokens != llm.DefaultMaxTokens || captured.Model != llm.DefaultModel {
		t.Fatalf("unexpected parameters: %+v", captured)
	}
}

func TestGenerateMessagesModeWithSystem(t *testing.T) {
	var captured generationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"output":{"text":"ok"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "sk", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{System: "你是专家", Prompt: "问题"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.Input.Prompt != "" || len(captured.Input.Messages) != 2 || captured.Input.Messages[0].Role != "system" {
		t.Fatalf("messages mode expected: %+v", captured.Input)
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"InvalidApiKey","message":"Invalid API-key provided.","request_id":"abc"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "sk", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	_, err := client.Generate(context.Background(), llm.Request{Prompt: "x"})
	if xerrors.CodeOf(err) != llm.CodeRejected {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if !strings.Contains(err.Error(), "InvalidApiKey") || !strings.Contains(err.Error(), "abc") {
		t.Fatalf("api error details missing: %v", err)
	}
}

func TestGenerateEmptyOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"text":"  "}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "sk", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	if _, err := client.Generate(context.Background(), llm.Request{Prompt: "x"}); xerrors.CodeOf(err) != llm.CodeEmptyResponse {
		t.Fatalf("expected empty response, got %v", err)
	}
}
