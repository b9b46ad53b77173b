package replay

import (
	"encoding/hex"
	"net/url"

	"golang.org/x/crypto/blake2b"
)

// CacheKey identifies a cached response by method and request URI. The
// host is left out so the cache survives a change of server address.
func CacheKey(method string, u *url.URL) string {
	sum := blake2b.Sum256([]byte(method + " " + u.RequestURI()))
	return hex.EncodeToString(sum[:])
}
