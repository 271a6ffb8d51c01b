// Package vhproxy is the virtual-host reverse proxy: it resolves a request's
// Host against the configured suffix, looks up the bound tunnel port in the
// catalog, and streams the request/response through a cached
// httputil.ReverseProxy for that port.
//
// The transport cache is sharded and keyed by live proxy_port rather than by
// a push-registered host map: the catalog, not an in-process table, is the
// single source of routing truth.
package vhproxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vhtunnel/internal/catalog"
	"vhtunnel/internal/hostmatch"
)

const portShards = 64

// The send and receive budgets are independent, sequential clocks: up to
// sendTimeout for response headers once the request has been written
// (connecting has its own dial timeout), then a fresh receiveTimeout to
// stream the body once headers have arrived.
const (
	sendTimeout    = 10 * time.Second
	receiveTimeout = 10 * time.Second
)

type shard struct {
	sync.RWMutex
	m map[string]*httputil.ReverseProxy
}

// Dispatcher is the vhost reverse proxy handler.
type Dispatcher struct {
	vhostSuffix string
	store       catalog.Store
	log         zerolog.Logger
	shards      [portShards]*shard
}

// NewDispatcher builds a Dispatcher resolving subdomains against store.
func NewDispatcher(vhostSuffix string, store catalog.Store, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		vhostSuffix: vhostSuffix,
		store:       store,
		log:         log.With().Str("component", "vhproxy").Logger(),
	}
	for i := range d.shards {
		d.shards[i] = &shard{m: make(map[string]*httputil.ReverseProxy)}
	}
	return d
}

func (d *Dispatcher) shardFor(port string) *shard {
	var h uint32
	for i := 0; i < len(port); i++ {
		h = h*16777619 ^ uint32(port[i])
	}
	return d.shards[h%portShards]
}

// reverseProxyFor returns the cached *httputil.ReverseProxy for proxyPort,
// constructing and caching one on first use.
func (d *Dispatcher) reverseProxyFor(proxyPort string) *httputil.ReverseProxy {
	s := d.shardFor(proxyPort)

	s.RLock()
	rp, ok := s.m[proxyPort]
	s.RUnlock()
	if ok {
		return rp
	}

	target := &url.URL{Scheme: "http", Host: "localhost:" + proxyPort}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: sendTimeout,
		DisableCompression:    true,
	}

	rp = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			if req.Header.Get("User-Agent") == "" {
				req.Header.Set("User-Agent", "")
			}
			// Only the first incoming X-Forwarded-For value is kept;
			// httputil.ReverseProxy then appends the peer IP to it.
			if prior := req.Header.Values("X-Forwarded-For"); len(prior) > 1 {
				req.Header.Set("X-Forwarded-For", prior[0])
			}
			stripHopByHop(req.Header)
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHop(resp.Header)
			resp.Header.Del("Connection")
			// Headers are in; start the receive clock for the body stream.
			if cancel, ok := resp.Request.Context().Value(receiveCancelKey{}).(context.CancelFunc); ok {
				resp.Body = newReceiveTimeoutBody(resp.Body, receiveTimeout, cancel)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			d.log.Warn().Err(err).Str("proxy_port", proxyPort).Msg("upstream request failed")
			if isTimeout(err) {
				http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
				return
			}
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}

	s.Lock()
	s.m[proxyPort] = rp
	s.Unlock()
	return rp
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	t, ok := err.(timeout)
	return ok && t.Timeout()
}

// ServeHTTP implements the wildcard vhost route: resolve the subdomain,
// look up its catalog record, and stream the request through the cached
// reverse proxy for the bound tunnel port. Anything unresolvable is a 404;
// callers that want to fall through to another handler instead should
// check Matches first.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host == "" {
		http.NotFound(w, r)
		return
	}

	subdomain, ok := hostmatch.Subdomain(host, d.vhostSuffix)
	if !ok || subdomain == "" {
		http.NotFound(w, r)
		return
	}

	conn, err := d.store.GetBySubdomain(r.Context(), subdomain)
	if err != nil || !conn.Active() {
		http.NotFound(w, r)
		return
	}

	// The send budget is enforced by the transport's ResponseHeaderTimeout;
	// the cancel stashed here is fired by the body wrapper if the receive
	// budget expires mid-stream.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx = context.WithValue(ctx, receiveCancelKey{}, cancel)

	d.reverseProxyFor(*conn.ProxyPort).ServeHTTP(w, r.WithContext(ctx))
}

type receiveCancelKey struct{}

// receiveTimeoutBody bounds how long an upstream body may take to stream:
// the timer starts when headers are received and, on expiry, cancels the
// outbound request's context, aborting the blocked body read. Close stops
// the timer for bodies that finish in time.
type receiveTimeoutBody struct {
	rc    io.ReadCloser
	timer *time.Timer
}

func newReceiveTimeoutBody(rc io.ReadCloser, d time.Duration, cancel context.CancelFunc) *receiveTimeoutBody {
	return &receiveTimeoutBody{rc: rc, timer: time.AfterFunc(d, cancel)}
}

func (b *receiveTimeoutBody) Read(p []byte) (int, error) {
	return b.rc.Read(p)
}

func (b *receiveTimeoutBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}

// Matches reports whether host falls under the configured vhost suffix, for
// callers that need to route before invoking ServeHTTP.
func (d *Dispatcher) Matches(host string) bool {
	return strings.HasSuffix(stripPort(host), d.vhostSuffix)
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
