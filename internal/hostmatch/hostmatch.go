// Package hostmatch implements ssh-style host pattern matching: glob
// patterns with '*' and '?', where a leading '!' negates. A host
// matches a pattern list iff some positive pattern matches and no
// negated one does. Matching is case-insensitive, as host names are.
package hostmatch

import (
	"path"
	"strings"
)

// Matches evaluates a pattern list against a host name. An empty host
// (no host known) matches only the bare "*" wildcard.
func Matches(patterns []string, host string) bool {
	host = strings.ToLower(host)
	matched := false
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		p = strings.ToLower(strings.TrimPrefix(p, "!"))
		if p == "" {
			continue
		}
		if host == "" {
			if p != "*" {
				continue
			}
		} else if ok, err := path.Match(p, host); err != nil || !ok {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}
