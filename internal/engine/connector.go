package engine

import (
	"context"

	"archon/internal/domain"
)

// Connector sends one prompt to a model provider and returns its reply.
// The engine never talks to a provider except through this interface.
type Connector interface {
	SendPrompt(ctx context.Context, prompt string, promptContext map[string]any) (Reply, error)
}

type Reply struct {
	Content string
	Usage   domain.TokenUsage
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, prompt string, promptContext map[string]any) (Reply, error)

func (f ConnectorFunc) SendPrompt(ctx context.Context, prompt string, promptContext map[string]any) (Reply, error) {
	return f(ctx, prompt, promptContext)
}
