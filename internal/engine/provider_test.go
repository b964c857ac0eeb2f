package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"archon/internal/config"
	"archon/internal/engine"
)

func TestHTTPConnectorSendPrompt(t *testing.T) {
	var got struct {
		Model   string         `json:"model"`
		Role    string         `json:"role"`
		Prompt  string         `json:"prompt"`
		Context map[string]any `json:"context"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":       "Looks solid.\nVERDICT: accept",
			"input_tokens":  120,
			"output_tokens": 30,
		})
	}))
	defer srv.Close()

	conn := &engine.HTTPConnector{URL: srv.URL, Model: "claude-sonnet-4", Role: "reviewer", Token: "tok-1"}
	reply, err := conn.SendPrompt(context.Background(), "review this", map[string]any{"task_id": "task_x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Model != "claude-sonnet-4" || got.Role != "reviewer" || got.Prompt != "review this" {
		t.Fatalf("request = %+v", got)
	}
	if got.Context["task_id"] != "task_x" {
		t.Fatalf("context = %+v", got.Context)
	}
	if auth != "Bearer tok-1" {
		t.Fatalf("authorization = %q", auth)
	}
	if !strings.Contains(reply.Content, "VERDICT: accept") {
		t.Fatalf("content = %q", reply.Content)
	}
	if reply.Usage.InputTokens != 120 || reply.Usage.OutputTokens != 30 {
		t.Fatalf("usage = %+v", reply.Usage)
	}
}

func TestHTTPConnectorGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	conn := &engine.HTTPConnector{URL: srv.URL, Model: "claude-sonnet-4", Role: "architect"}
	_, err := conn.SendPrompt(context.Background(), "design", nil)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected gateway error with detail, got %v", err)
	}
	if !strings.Contains(err.Error(), "architect") {
		t.Fatalf("error should name the role: %v", err)
	}
}

func TestConnectorsFromConfig(t *testing.T) {
	cfg := config.Default("proj-1")
	if conns := engine.ConnectorsFromConfig(cfg); conns != nil {
		t.Fatal("no base_url configured, expected nil connector map")
	}

	cfg.Connector.BaseURL = "http://127.0.0.1:9999/v1/complete"
	conns := engine.ConnectorsFromConfig(cfg)
	if len(conns) != len(cfg.Providers) {
		t.Fatalf("connectors = %d, want one per provider role", len(conns))
	}
	hc, ok := conns["builder_simple"].(*engine.HTTPConnector)
	if !ok {
		t.Fatalf("builder_simple connector = %T", conns["builder_simple"])
	}
	if hc.Model != cfg.Providers["builder_simple"].Model || hc.Role != "builder_simple" {
		t.Fatalf("connector = %+v", hc)
	}
	if hc.URL != cfg.Connector.BaseURL {
		t.Fatalf("url = %q", hc.URL)
	}
}
