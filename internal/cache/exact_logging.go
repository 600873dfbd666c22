package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/metrics"
	"chatrelay/pkg/logging"
)

// LoggingExactCache wraps an ExactCache with logging + metrics.
type LoggingExactCache struct {
	inner ExactCache
}

// NewLoggingExactCache returns a cache that logs and records metrics.
// A nil inner cache stays nil so callers can keep treating nil as "disabled".
func NewLoggingExactCache(inner ExactCache) ExactCache {
	if inner == nil {
		return nil
	}
	return &LoggingExactCache{inner: inner}
}

func (c *LoggingExactCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.ExactHitsTotal.Inc()
	}

	fields := append(keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Duration("latency", time.Since(start)),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("exact_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("exact_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingExactCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)

	fields := append(keyFields(key),
		zap.Duration("ttl", ttl),
		zap.Duration("latency", time.Since(start)),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("exact_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("exact_cache_set", fields...)
	}

	return err
}

func keyFields(key string) []zap.Field {
	fields := []zap.Field{zap.String("cache_tier", "exact")}

	parts, ok := parseExactKey(key)
	if !ok {
		return append(fields, zap.String("cache_key", key))
	}
	return append(fields,
		zap.String("scope", parts.scope),
		zap.String("model_id", parts.modelID),
		zap.String("version_id", parts.versionID),
		zap.String("hash", parts.hash),
	)
}

type exactKeyParts struct {
	scope     string
	modelID   string
	versionID string
	hash      string
}

// Expecting: exact:<SCOPE>:<MODEL_ID>:<VERSION_ID>:<HASH>
func parseExactKey(key string) (exactKeyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "exact" {
		return exactKeyParts{}, false
	}
	return exactKeyParts{
		scope:     parts[1],
		modelID:   parts[2],
		versionID: parts[3],
		hash:      parts[4],
	}, true
}
