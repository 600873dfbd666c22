package cache

import (
	"context"
	"fmt"
	"time"
)

// ExactCacheKey identifies one upstream request. Hash is the sha256 of the
// normalized request (model + messages + sampling params).
type ExactCacheKey struct {
	Scope     string
	ModelID   string
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map.
func (k ExactCacheKey) String() string {
	// exact:<SCOPE>:<MODEL_ID>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("exact:%s:%s:%s:%s", k.Scope, k.ModelID, k.VersionID, k.Hash)
}

// ExactCache is the interface used by the relay.
// Implemented by the memory cache (single process) and the Redis cache (shared).
type ExactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
