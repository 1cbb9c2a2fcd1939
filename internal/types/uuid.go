package types

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for generated identifiers, one per entity kind.
const (
	UUIDPrefixUsageEvent    = "evt"
	UUIDPrefixRequest       = "req"
	UUIDPrefixErrorDocument = "errdoc"
)

// GenerateUUID returns a lowercase ULID. ULIDs sort lexicographically by
// creation time which keeps generated ids range-scan friendly.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns a prefixed ULID, e.g. "evt_01hv...".
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return prefix + "_" + GenerateUUID()
}
