// Package common holds small string helpers shared across packages.
package common

import "strings"

// HasAny reports whether s contains at least one of subs. Empty entries in
// subs never match.
func HasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
