package cache

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// KeyPrefix namespaces every key written by this service.
const KeyPrefix = "assessment"

// Key joins parts under KeyPrefix, e.g. Key("submit", id) -> "assessment:submit:<id>".
func Key(parts ...string) string {
	return KeyPrefix + ":" + strings.Join(parts, ":")
}

// JitterTTL shortens ttl by up to 10% so keys written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
