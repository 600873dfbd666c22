package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"chatrelay/internal/llm"
)

// BuildExactCacheKey hashes the full upstream request. Two calls share a key
// only when model, every message (in order) and the sampling params match.
func BuildExactCacheKey(req llm.ChatRequest, scope, versionID string) (ExactCacheKey, error) {
	modelID := strings.TrimSpace(req.Model)

	body, err := json.Marshal(req)
	if err != nil {
		return ExactCacheKey{}, err
	}

	normalized := "model:" + modelID + "|body:" + string(body)

	sum := sha256.Sum256([]byte(normalized))

	return ExactCacheKey{
		Scope:     strings.TrimSpace(scope),
		ModelID:   modelID,
		VersionID: strings.TrimSpace(versionID),
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}
