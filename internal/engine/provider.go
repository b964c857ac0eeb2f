package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"archon/internal/config"
	"archon/internal/domain"
)

// HTTPConnector sends prompts to a model gateway over HTTP. One
// instance is bound to a single provider role and its configured model.
type HTTPConnector struct {
	URL    string
	Model  string
	Role   string
	Token  string
	Client *http.Client
}

type connectorRequest struct {
	Model   string         `json:"model"`
	Role    string         `json:"role"`
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

type connectorReply struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (c *HTTPConnector) SendPrompt(ctx context.Context, prompt string, promptContext map[string]any) (Reply, error) {
	body, err := json.Marshal(connectorRequest{Model: c.Model, Role: c.Role, Prompt: prompt, Context: promptContext})
	if err != nil {
		return Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("connector %s: %w", c.Role, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("connector %s: read response: %w", c.Role, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(data))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return Reply{}, fmt.Errorf("connector %s: gateway returned %s: %s", c.Role, resp.Status, detail)
	}
	var out connectorReply
	if err := json.Unmarshal(data, &out); err != nil {
		return Reply{}, fmt.Errorf("connector %s: decode response: %w", c.Role, err)
	}
	return Reply{
		Content: out.Content,
		Usage:   domain.TokenUsage{InputTokens: out.InputTokens, OutputTokens: out.OutputTokens},
	}, nil
}

// ConnectorsFromConfig builds one HTTP connector per configured
// provider role, all pointed at connector.base_url. Returns nil when
// no gateway is configured so callers can register their own.
func ConnectorsFromConfig(cfg *config.Config) map[string]Connector {
	if cfg == nil || cfg.Connector.BaseURL == "" {
		return nil
	}
	timeout := time.Duration(cfg.Connector.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	token := ""
	if env := cfg.Connector.APIKeyEnv; env != "" {
		token = os.Getenv(env)
	}
	client := &http.Client{Timeout: timeout}
	out := make(map[string]Connector, len(cfg.Providers))
	for role, p := range cfg.Providers {
		out[role] = &HTTPConnector{
			URL:    cfg.Connector.BaseURL,
			Model:  p.Model,
			Role:   role,
			Token:  token,
			Client: client,
		}
	}
	return out
}
