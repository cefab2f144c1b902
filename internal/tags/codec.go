// Package tags handles user tag sets: the stored encoding, the similarity
// metric used for matching, and popularity counts.
package tags

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes the stored form of a tag set (a JSON array of strings).
// Empty input and "null" decode to a nil slice. Order is preserved.
func Parse(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return out, nil
}

// Encode produces the stored form of a tag set. A nil or empty set encodes
// as "[]".
func Encode(set []string) string {
	if len(set) == 0 {
		return "[]"
	}
	b, err := json.Marshal(set)
	if err != nil {
		// []string always marshals.
		panic(err)
	}
	return string(b)
}

// Normalize trims every tag, drops blanks and removes repeats while keeping
// first-seen order.
func Normalize(set []string) []string {
	seen := make(map[string]struct{}, len(set))
	out := make([]string, 0, len(set))
	for _, t := range set {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ContainsAll reports whether set holds every tag in want.
func ContainsAll(set, want []string) bool {
	have := make(map[string]struct{}, len(set))
	for _, t := range set {
		have[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
