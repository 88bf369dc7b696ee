// Package trigram decomposes lowercased filenames into overlapping
// 3-byte windows, the unit the on-disk FST and posting lists are
// keyed by (§3 "3-gram"). Both the Index Writer and the Index Query
// share this logic so a query's n-grams are computed identically to
// the ones a file was indexed under, the same symmetry
// other_examples/8ff171b1_sourcegraph-zoekt__indexdata.go.go relies on
// between indexing and query-time n-gram extraction.
package trigram

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MinLength is the shortest query that n-gram decomposition applies
// to; shorter queries use an FST prefix scan instead (§4.D step 1).
const MinLength = 3

// RareTokenPrefix marks the synthetic posting key used for filenames
// that can't be decomposed into ASCII trigrams (§4.C step 2).
const RareTokenPrefix = "\x00rare:"

// Extract returns the set of distinct lowercase ASCII 3-grams in s.
// Non-ASCII input should be routed to RareTokenKey instead; Extract
// itself does not special-case it.
func Extract(s string) []string {
	lower := strings.ToLower(s)
	if len(lower) < MinLength {
		return nil
	}

	seen := make(map[string]struct{}, len(lower))
	var out []string
	for i := 0; i+MinLength <= len(lower); i++ {
		g := lower[i : i+MinLength]
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// RareTokenKey returns the synthetic posting-list key a non-ASCII
// filename registers under instead of 3-grams (§4.C step 2): a hash
// of the whole lowercased name, so an exact-name query still finds it
// even though substring search over it isn't guaranteed (§8
// "Unicode filename").
func RareTokenKey(s string) string {
	lower := strings.ToLower(s)
	return RareTokenPrefix + strconv.FormatUint(xxhash.Sum64String(lower), 16)
}

// IsASCII reports whether every byte of s is within the ASCII range,
// the condition under which 3-gram decomposition applies cleanly
// (§4.A "non-ASCII filenames... flagged so downstream components
// route them to a fallback").
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
