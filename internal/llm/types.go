package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one streaming completion request to the provider.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}

	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}

	for i, m := range r.Messages {
		if m.Role != RoleSystem && m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid role %q in messages[%d]", m.Role, i)
		}
		if strings.TrimSpace(m.Content) == "" && m.Role != RoleSystem {
			return fmt.Errorf("content is required for messages[%d]", i)
		}
	}

	return nil
}

// StreamFragment is one incremental piece of generated text.
type StreamFragment struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// StreamResult carries either a fragment or a terminal error.
// The channel is closed after the last fragment or after the error.
type StreamResult struct {
	Fragment *StreamFragment
	Err      error
}

// Client is the streaming completion provider.
type Client interface {
	StreamChat(ctx context.Context, req *ChatRequest) (<-chan StreamResult, error)
}
