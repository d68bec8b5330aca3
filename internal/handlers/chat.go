package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mathchat/internal/llm"
	"mathchat/internal/metrics"
	"mathchat/pkg/logging/logging"
)

const (
	// DefaultModel is used when the request omits the model field.
	DefaultModel = "gpt-4o-mini"

	maxCompletionTokens = 2000

	systemPrompt = "You are a helpful mathematics tutor. Use LaTeX notation for all " +
		"mathematical expressions. For inline math use $...$ and for display " +
		"math use $$...$$. Provide clear, step-by-step explanations."
)

// supportedModels is the allow-list of provider model identifiers.
var supportedModels = map[string]bool{
	"gpt-4o-mini":   true,
	"gpt-4o":        true,
	"gpt-4-turbo":   true,
	"gpt-3.5-turbo": true,
}

// ChatHandler holds dependencies for the streaming /chat endpoint.
type ChatHandler struct {
	LLM     llm.Client // nil when no provider credential is configured
	Version string
}

func NewChatHandler(client llm.Client, version string) *ChatHandler {
	return &ChatHandler{
		LLM:     client,
		Version: version,
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type contentEvent struct {
	Content string `json:"content"`
}

type healthResponse struct {
	Status             string `json:"status"`
	ProviderConfigured bool   `json:"provider_configured"`
	Version            string `json:"version"`
}

type modelsResponse struct {
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

// Chat handles POST /chat. Request validation failures are plain HTTP
// statuses; once the SSE stream is open, failures become in-stream error
// events and the status stays 200.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !hasContent(req.Message) {
		respondError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	if !supportedModels[model] {
		logger.Warn("unsupported model requested", zap.String("model", model))
		respondError(w, http.StatusBadRequest, fmt.Sprintf("model %q is not supported", model))
		return
	}

	if h.LLM == nil {
		respondError(w, http.StatusServiceUnavailable, "OpenAI API key not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	logger.Info("chat request",
		zap.String("model", model),
		zap.Int("message_length", len(req.Message)),
	)

	results, err := h.LLM.StreamChat(ctx, &llm.ChatRequest{
		Model: model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: req.Message},
		},
		MaxTokens: maxCompletionTokens,
	})
	if err != nil {
		// The request is built server-side, so this is our bug, not the
		// caller's. Details stay in the log.
		logger.Error("open provider stream", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to open completion stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamsStartedTotal.Inc()
	streamStart := time.Now()
	defer func() {
		metrics.StreamDurationSeconds.Observe(time.Since(streamStart).Seconds())
	}()

	fragments := 0
	for res := range results {
		if res.Err != nil {
			// Never leak raw provider errors to the wire.
			logger.Error("provider stream error",
				zap.String("model", model),
				zap.Int("fragments", fragments),
				zap.Error(res.Err),
			)
			metrics.StreamErrorsTotal.Inc()
			writeEvent(w, flusher, errorResponse{Error: "provider request failed"})
			return
		}

		if res.Fragment == nil || res.Fragment.Content == "" {
			continue
		}

		if ctx.Err() != nil {
			// Caller went away; drop the fragment silently. The provider
			// call is already being cancelled through ctx.
			logger.Info("client disconnected mid-stream",
				zap.String("model", model),
				zap.Int("fragments", fragments),
			)
			return
		}

		writeEvent(w, flusher, contentEvent{Content: res.Fragment.Content})
		fragments++
		metrics.FragmentsForwardedTotal.Inc()
	}

	if ctx.Err() != nil {
		return
	}

	// Terminal sentinel, same shape the provider uses.
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	logger.Info("chat stream complete",
		zap.String("model", model),
		zap.Int("fragments", fragments),
		zap.Duration("duration", time.Since(streamStart)),
	)
}

// Health handles GET /health. Reports whether a credential is configured
// without calling the provider.
func (h *ChatHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "healthy",
		ProviderConfigured: h.LLM != nil,
		Version:            h.Version,
	})
}

// Models handles GET /models.
func (h *ChatHandler) Models(w http.ResponseWriter, _ *http.Request) {
	models := make([]string, 0, len(supportedModels))
	for m := range supportedModels {
		models = append(models, m)
	}
	sort.Strings(models)

	writeJSON(w, http.StatusOK, modelsResponse{
		Models:       models,
		DefaultModel: DefaultModel,
	})
}

// hasContent reports whether s contains anything besides whitespace.
func hasContent(s string) bool {
	return strings.TrimSpace(s) != ""
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
