package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RenderCache stores rendered HTML keyed by a hash of the accumulated
// message text. The render pipeline re-runs on every stream fragment, so
// repeated renders of the same buffer (idle clients, page reloads, shared
// prompts) are served from here instead of re-converting.
// Implemented by the memory cache (dev) and the Redis cache (prod).
type RenderCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RenderKey identifies one rendered buffer.
type RenderKey struct {
	Hash string // sha256 of the accumulated text
}

// String converts the structured key into the final string used in Redis/map.
func (k RenderKey) String() string {
	return fmt.Sprintf("render:%s", k.Hash)
}

// BuildRenderKey hashes the accumulated message text into a cache key.
// The text is the whole identity of a render: same text, same HTML.
func BuildRenderKey(text string) RenderKey {
	sum := sha256.Sum256([]byte(text))
	return RenderKey{Hash: hex.EncodeToString(sum[:])}
}
