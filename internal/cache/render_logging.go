package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mathchat/internal/metrics"
	"mathchat/pkg/logging/logging"
)

// LoggingRenderCache wraps a RenderCache with logging + metrics.
type LoggingRenderCache struct {
	inner RenderCache
}

func NewLoggingRenderCache(inner RenderCache) RenderCache {
	return &LoggingRenderCache{inner: inner}
}

func (c *LoggingRenderCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.RenderCacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("render_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("render_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingRenderCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Int("value_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("render_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("render_cache_set", fields...)
	}

	return err
}
