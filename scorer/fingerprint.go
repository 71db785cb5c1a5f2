package scorer

import (
	"crypto/sha256"
	"encoding/base64"
)

const (
	cacheKeyPrefix = "sentiment:"

	// FingerprintVersion names the digest behind CacheKey. Bump it when the
	// algorithm changes so old entries are never read back.
	FingerprintVersion = "v1"
)

// CacheKey is the fingerprint of a text under which its score is cached
type CacheKey string

// Fingerprint derives the cache key for content. It depends on content only.
func Fingerprint(content string) CacheKey {
	sum := sha256.Sum256([]byte(content))
	return CacheKey(cacheKeyPrefix + FingerprintVersion + ":" + base64.StdEncoding.EncodeToString(sum[:]))
}

func (k CacheKey) String() string { return string(k) }
