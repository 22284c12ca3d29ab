// Package ids generates short, URL-safe public identifiers for fuel
// entities. Ids are random base32 values prefixed by entity type and widen
// adaptively as collision pressure grows.
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// Entity type prefixes.
const (
	PrefixTask   = "f"
	PrefixEpic   = "e"
	PrefixRun    = "r"
	PrefixReview = "v"
)

// lowercase base32 without padding; url-safe and easy to type.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// minLength is the starting id body length in characters.
const minLength = 4

// maxLength caps adaptive widening.
const maxLength = 7

// widenEvery widens the body by one character per this many collisions
// observed at insert time.
const widenEvery = 2

// New returns a fresh id with the given prefix, e.g. "f-k3qz".
// attempt is the number of collisions already seen for this insert; the id
// body widens as attempts accumulate.
func New(prefix string, attempt int) (string, error) {
	length := minLength + attempt/widenEvery
	if length > maxLength {
		length = maxLength
	}
	// 5 bits per base32 character, round the byte count up.
	raw := make([]byte, (length*5+7)/8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	body := encoding.EncodeToString(raw)[:length]
	return prefix + "-" + body, nil
}

// HasPrefix returns true if id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-")
}

// Normalize lowercases an id for comparison and lookup.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// MatchesPartial returns true if candidate should be considered a match for
// the user-supplied query: an exact id, or a prefix of the id with or
// without the entity prefix.
func MatchesPartial(candidate, query string) bool {
	candidate = Normalize(candidate)
	query = Normalize(query)
	if query == "" {
		return false
	}
	if candidate == query {
		return true
	}
	if strings.HasPrefix(candidate, query) {
		return true
	}
	// Allow matching the body without the "f-" style prefix.
	if i := strings.IndexByte(candidate, '-'); i >= 0 {
		return strings.HasPrefix(candidate[i+1:], query)
	}
	return false
}
