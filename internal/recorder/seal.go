package recorder

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Sealed is a frozen, hash-verified recording.
type Sealed struct {
	Events      []Event
	Checkpoints []Checkpoint
	Metadata    map[string]any
	Hash        string
}

// canonical renders events, checkpoints, and metadata into a deterministic
// byte form independent of map iteration order, suitable for hashing.
func canonical(events []Event, checkpoints []Checkpoint, metadata map[string]any) []byte {
	var b strings.Builder
	for _, e := range events {
		elSel, elType, elName := "", "", ""
		if e.Element != nil {
			elSel, elType, elName = e.Element.Selector, e.Element.Type, e.Element.Name
		}
		fmt.Fprintf(&b, "E|%s|%s|%s|%s|%s|%d|%d|%t\n",
			e.Type, e.Value, elSel, elType, elName, e.X, e.Y, e.Masked)
	}
	for _, c := range checkpoints {
		fmt.Fprintf(&b, "C|%s|%s|%d|%d\n", c.Name, c.Description, c.EventIndex, c.RelativeTime)
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "M|%s|%v\n", k, metadata[k])
	}
	return []byte(b.String())
}

func hashOf(events []Event, checkpoints []Checkpoint, metadata map[string]any) string {
	sum := sha256.Sum256(canonical(events, checkpoints, metadata))
	return hex.EncodeToString(sum[:])
}

func seal(events []Event, checkpoints []Checkpoint, metadata map[string]any) *Sealed {
	evCopy := append([]Event(nil), events...)
	cpCopy := append([]Checkpoint(nil), checkpoints...)
	return &Sealed{
		Events: evCopy, Checkpoints: cpCopy, Metadata: metadata,
		Hash: hashOf(evCopy, cpCopy, metadata),
	}
}

// VerifyHash recomputes the canonical hash and compares it to the sealed
// value, detecting any post-seal tampering.
func (s *Sealed) VerifyHash() bool {
	return hashOf(s.Events, s.Checkpoints, s.Metadata) == s.Hash
}
