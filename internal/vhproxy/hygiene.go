package vhproxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders is the fixed RFC 7230 §6.1 set that must never be
// forwarded by an intermediary.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
}

// stripHopByHop removes the fixed hop-by-hop header set from h, plus (per
// strict RFC 7230 behavior) any header named in h's own Connection token
// list.
func stripHopByHop(h http.Header) {
	for _, name := range connectionTokens(h) {
		h.Del(name)
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}
