// Package idgen centralizes entity id generation so every component stamps
// ids the same way instead of rolling its own crypto/rand+hex helper.
package idgen

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh v4 UUID string.
func New() string {
	return uuid.NewString()
}

// Prefixed returns "<prefix>-<uuid>", used for page hosts, pages and
// recordings so ids are self-describing in logs.
func Prefixed(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// ClientID builds the dispatcher's "client-<seq>-<rand>" session id
// (spec.md §4.J).
func ClientID(seq uint64) string {
	return fmt.Sprintf("client-%d-%s", seq, randomSuffix(6))
}

const alphanum = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteByte(alphanum[rand.Intn(len(alphanum))])
	}
	return sb.String()
}
