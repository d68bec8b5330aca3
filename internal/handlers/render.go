package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mathchat/internal/cache"
	"mathchat/internal/mathmd"
	"mathchat/pkg/logging/logging"
)

// RenderHandler converts accumulated message text to HTML via the math-aware
// markdown pipeline. The browser calls it after each received fragment, so
// results are cached by content hash: re-rendering an unchanged buffer is a
// cache hit.
type RenderHandler struct {
	Pipeline *mathmd.Pipeline
	Cache    cache.RenderCache
	CacheTTL time.Duration
}

func NewRenderHandler(p *mathmd.Pipeline, c cache.RenderCache, ttl time.Duration) *RenderHandler {
	return &RenderHandler{
		Pipeline: p,
		Cache:    c,
		CacheTTL: ttl,
	}
}

type renderRequest struct {
	Text string `json:"text"`
}

type renderResponse struct {
	HTML string `json:"html"`
}

// Render handles POST /render.
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid render request", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Text == "" {
		writeJSON(w, http.StatusOK, renderResponse{HTML: ""})
		return
	}

	key := cache.BuildRenderKey(req.Text).String()

	cached, hit, err := h.Cache.Get(ctx, key)
	if err != nil {
		// Cache is best-effort; log and treat as miss.
		logger.Warn("render_cache_get_error", zap.Error(err))
	}
	if hit {
		writeJSON(w, http.StatusOK, renderResponse{HTML: string(cached)})
		return
	}

	html, err := h.Pipeline.Render(req.Text)
	if err != nil {
		logger.Error("render failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "render failed")
		return
	}

	if err := h.Cache.Set(ctx, key, []byte(html), h.CacheTTL); err != nil {
		logger.Warn("render_cache_set_error", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, renderResponse{HTML: html})
}
