package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mathchat/internal/cache"
	"mathchat/internal/mathmd"
)

func newRenderHandler(t *testing.T) (*RenderHandler, *cache.MemoryRenderCache) {
	t.Helper()
	store := cache.NewMemoryRenderCache(time.Minute)
	t.Cleanup(func() { store.Close() })
	return NewRenderHandler(mathmd.New(), store, time.Minute), store
}

func postRender(t *testing.T, text string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(renderRequest{Text: text})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/render", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRenderEndpointPreservesMath(t *testing.T) {
	h, _ := newRenderHandler(t)

	rr := httptest.NewRecorder()
	h.Render(rr, postRender(t, "Solve $x^2=4$ for $x$."))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp renderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.Contains(resp.HTML, "$x^2=4$") || !strings.Contains(resp.HTML, "$x$") {
		t.Fatalf("math spans not preserved: %s", resp.HTML)
	}
	if strings.Contains(resp.HTML, "MATH") {
		t.Fatalf("placeholder token visible in output: %s", resp.HTML)
	}
}

func TestRenderEndpointCachesByContent(t *testing.T) {
	h, store := newRenderHandler(t)

	text := "partial stream with $a+b"
	key := cache.BuildRenderKey(text).String()

	rr := httptest.NewRecorder()
	h.Render(rr, postRender(t, text))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	cached, hit, err := store.Get(context.Background(), key)
	if err != nil || !hit {
		t.Fatalf("expected rendered HTML cached, hit=%v err=%v", hit, err)
	}

	var resp renderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(cached) != resp.HTML {
		t.Fatalf("cache content diverges from response")
	}

	// Second render of the same buffer is served from cache and identical.
	rr2 := httptest.NewRecorder()
	h.Render(rr2, postRender(t, text))

	var resp2 renderResponse
	if err := json.Unmarshal(rr2.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if resp2.HTML != resp.HTML {
		t.Fatalf("non-idempotent render: %q vs %q", resp.HTML, resp2.HTML)
	}
}

func TestRenderEndpointEmptyText(t *testing.T) {
	h, _ := newRenderHandler(t)

	rr := httptest.NewRecorder()
	h.Render(rr, postRender(t, ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty text, got %d", rr.Code)
	}

	var resp renderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.HTML != "" {
		t.Fatalf("expected empty HTML, got %q", resp.HTML)
	}
}

func TestRenderEndpointInvalidJSON(t *testing.T) {
	h, _ := newRenderHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/render", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.Render(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
