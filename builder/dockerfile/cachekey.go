package dockerfile

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

// CachePrefix is the reference namespace of build cache entries.
const CachePrefix = "buildcache/"

// ChainKey returns the cache key of an instruction: the hex SHA-256 of the
// ancestor commit id immediately followed by the trimmed instruction text.
// ancestor is empty when the chain starts from scratch.
func ChainKey(ancestor, text string) string {
	return digest.SHA256.FromString(ancestor + strings.TrimSpace(text)).Encoded()
}

// CacheReference returns the store reference name for a cache key.
func CacheReference(key string) string {
	return CachePrefix + key
}
