// Package hostmatch extracts the subdomain portion of a request host against
// a configured virtual-host suffix.
//
// Matching is a byte-wise suffix test and strip, not DNS-label-aware:
// "foobar.evil.com" suffix-matches ".evil.com". This is acceptable only
// because config validates the configured suffix starts with a leading dot.
package hostmatch

import "strings"

// Subdomain strips the port from host, then strips the trailing vhostSuffix.
// It returns (subdomain, true) on a match, or ("", false) if host does not
// end with vhostSuffix. The returned subdomain may be empty.
func Subdomain(host, vhostSuffix string) (string, bool) {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if !strings.HasSuffix(host, vhostSuffix) {
		return "", false
	}
	return strings.TrimSuffix(host, vhostSuffix), true
}
