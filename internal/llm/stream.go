package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxMessageSize = 512 * 1024 // 512KB per message content

// StreamChat opens a streaming completion call and returns a channel of
// results. The channel is closed when the provider signals end of stream,
// when a terminal error is delivered, or when ctx is cancelled. Fragments
// are delivered in provider order; there is no reordering or batching.
func (c *client) StreamChat(parentCtx context.Context, req *ChatRequest) (<-chan StreamResult, error) {
	if req == nil {
		return nil, fmt.Errorf("llmclient: request is nil")
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("llmclient: invalid request: %w", err)
	}

	for i, m := range req.Messages {
		if len(m.Content) > maxMessageSize {
			return nil, fmt.Errorf(
				"llmclient: message[%d] content too large (%d bytes, max %d)",
				i, len(m.Content), maxMessageSize,
			)
		}
	}

	c.logger.Debug("stream request starting",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	// Cancellation comes from the caller (browser disconnect propagates
	// through parentCtx); no per-request deadline on top of it.
	ctx, cancel := context.WithCancel(parentCtx)

	results := make(chan StreamResult, 16)

	go func() {
		defer close(results)
		defer cancel()

		pReq := providerChatRequest{
			Model:     req.Model,
			Messages:  req.Messages,
			MaxTokens: req.MaxTokens,
			Stream:    true,
		}

		bodyBytes, err := json.Marshal(pReq)
		if err != nil {
			results <- StreamResult{Err: fmt.Errorf("llmclient: marshal stream request: %w", err)}
			return
		}

		url := c.cfg.BaseURL + "/v1/chat/completions"

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			results <- StreamResult{Err: fmt.Errorf("llmclient: build HTTP stream request: %w", err)}
			return
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Error("stream connect failed",
				zap.String("model", req.Model),
				zap.Error(err),
			)
			results <- StreamResult{Err: fmt.Errorf("llmclient: connect upstream: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)

			var perr providerErrorResponse
			if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
				c.logger.Error("provider error",
					zap.String("model", req.Model),
					zap.Int("status", resp.StatusCode),
					zap.String("error_type", perr.Error.Type),
					zap.String("error_message", perr.Error.Message),
				)
				results <- StreamResult{Err: fmt.Errorf("llmclient: upstream %d: %s (%s)",
					resp.StatusCode, perr.Error.Message, perr.Error.Type)}
				return
			}

			c.logger.Error("upstream error",
				zap.String("model", req.Model),
				zap.Int("status", resp.StatusCode),
				zap.String("body", truncate(string(body), 200)),
			)
			results <- StreamResult{Err: fmt.Errorf("llmclient: upstream %d: %s",
				resp.StatusCode, truncate(string(body), 200))}
			return
		}

		// ---------- Read SSE stream ----------

		reader := bufio.NewReader(resp.Body)
		fragmentCount := 0

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("stream cancelled",
					zap.String("model", req.Model),
					zap.Int("fragments", fragmentCount),
					zap.Error(ctx.Err()),
				)
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					// Normal end of stream without explicit [DONE]
					c.logger.Info("stream completed (EOF)",
						zap.String("model", req.Model),
						zap.Int("fragments", fragmentCount),
					)
					return
				}
				if ctx.Err() != nil {
					// Body read aborted by cancellation; not a provider fault.
					return
				}
				results <- StreamResult{Err: fmt.Errorf("llmclient: read stream line: %w", err)}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			const prefix = "data: "
			if !bytes.HasPrefix(line, []byte(prefix)) {
				// Ignore non-data SSE lines
				continue
			}

			payload := bytes.TrimSpace(line[len(prefix):])

			// End-of-stream sentinel from provider
			if bytes.Equal(payload, []byte("[DONE]")) {
				c.logger.Info("stream received [DONE]",
					zap.String("model", req.Model),
					zap.Int("fragments", fragmentCount),
				)
				return
			}

			var chunk providerStreamChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				results <- StreamResult{Err: fmt.Errorf("llmclient: unmarshal stream chunk: %w", err)}
				return
			}

			for _, choice := range chunk.Choices {
				deltaText := choice.Delta.Content
				if deltaText == "" && choice.FinishReason == "" {
					continue
				}

				frag := &StreamFragment{
					Content:      deltaText,
					FinishReason: choice.FinishReason,
				}
				fragmentCount++

				select {
				case <-ctx.Done():
					c.logger.Info("stream cancelled while sending fragment",
						zap.String("model", req.Model),
						zap.Int("fragments", fragmentCount),
						zap.Error(ctx.Err()),
					)
					return
				case results <- StreamResult{Fragment: frag}:
				}
			}
		}
	}()

	return results, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
