// Package sshreg is the SSH tunnel registrar: it accepts tcpip-forward and
// cancel-tcpip-forward global requests, binds a local listener per accepted
// forward, and keeps the catalog's ProxyPort column in sync with live
// forwarding state.
package sshreg

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"vhtunnel/internal/catalog"
	"vhtunnel/internal/hostmatch"
	"vhtunnel/internal/keymaterial"
)

// Registrar wraps the SSH server configuration and the catalog it keeps in
// sync with live forwarding state.
type Registrar struct {
	listen      string
	vhostSuffix string
	store       catalog.Store
	config      *ssh.ServerConfig
	fingerprint string
	log         zerolog.Logger
	nextSession uint64
}

// New builds a Registrar listening on listen, serving host key hostKey,
// resolving subdomains against vhostSuffix and store, authenticating
// sessions via auth.
func New(listen, vhostSuffix string, hostKey *keymaterial.HostKey, store catalog.Store, auth Authenticator, log zerolog.Logger) *Registrar {
	cfg := &ssh.ServerConfig{}
	auth.apply(cfg)
	cfg.AddHostKey(hostKey.Signer)

	return &Registrar{
		listen:      listen,
		vhostSuffix: vhostSuffix,
		store:       store,
		config:      cfg,
		fingerprint: hostKey.Fingerprint,
		log:         log.With().Str("component", "sshreg").Logger(),
	}
}

// Serve binds the registrar's listen address and accepts SSH connections
// until ctx is cancelled or the listener fails. Each connection is handled
// in its own goroutine via a freshly constructed Session.
func (r *Registrar) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.listen)
	if err != nil {
		return fmt.Errorf("sshreg: listen %s: %w", r.listen, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	r.log.Info().Str("addr", r.listen).Str("fingerprint", r.fingerprint).Msg("ssh registrar listening")

	for {
		nConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go r.handleConn(ctx, nConn)
	}
}

func (r *Registrar) handleConn(ctx context.Context, nConn net.Conn) {
	nConn = newIdleTimeoutConn(nConn, idleTimeout)
	sshConn, chans, reqs, err := ssh.NewServerConn(nConn, r.config)
	if err != nil {
		r.log.Debug().Err(err).Msg("ssh handshake failed")
		nConn.Close()
		return
	}
	defer sshConn.Close()

	// Top-level cancel tears down live sessions too: closing the transport
	// ends the request loop below, which runs the forward cleanup.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			sshConn.Close()
		case <-connDone:
		}
	}()

	session := &Session{
		id:   atomic.AddUint64(&r.nextSession, 1),
		conn: sshConn,
		reg:  r,
	}
	log := r.log.With().Uint64("session", session.id).Logger()

	// This is a control-channel-only server: we never accept an inbound
	// channel from the client, we only open outbound forwarded-tcpip
	// channels ourselves.
	go func() {
		for newChan := range chans {
			newChan.Reject(ssh.UnknownChannelType, "tunneling only, no interactive sessions")
		}
	}()

	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			r.handleTCPIPForward(ctx, session, req)
		case "cancel-tcpip-forward":
			r.handleCancelTCPIPForward(ctx, session, req)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}

	// reqs closed: the connection is gone. Clean up any live forward
	// without waiting for an explicit cancel-tcpip-forward.
	log.Info().Msg("session ended, cleaning up")
	session.teardown(context.Background())
}

func (r *Registrar) handleTCPIPForward(ctx context.Context, session *Session, req *ssh.Request) {
	var payload forwardRequest
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		r.reply(req, false, nil)
		return
	}

	subdomain, ok := hostmatch.Subdomain(payload.BindAddr, r.vhostSuffix)
	if !ok || subdomain == "" {
		r.log.Info().Str("bind_addr", payload.BindAddr).Msg("tcpip-forward: no subdomain extracted")
		r.reply(req, false, nil)
		return
	}

	conn, err := r.store.GetBySubdomain(ctx, subdomain)
	if err != nil {
		r.log.Info().Str("subdomain", subdomain).Err(err).Msg("tcpip-forward: unknown subdomain")
		r.reply(req, false, nil)
		return
	}

	// A session holds at most one forward. Cancel-and-clear any prior task
	// before binding the new listener, so a re-forward of the same subdomain
	// cannot have the old task's cleanup wipe the port written for the new
	// one.
	if prior := session.takeForward(); prior != nil {
		prior.cancelAndWait()
		r.clearProxyPort(ctx, prior.subdomain)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(int(payload.BindPort))))
	if err != nil {
		r.log.Warn().Err(err).Msg("tcpip-forward: bind failed")
		r.reply(req, false, nil)
		return
	}
	actualPort := listener.Addr().(*net.TCPAddr).Port
	actualPortStr := strconv.Itoa(actualPort)

	conn.ProxyPort = &actualPortStr
	if err := r.store.Save(ctx, conn); err != nil {
		r.log.Warn().Err(err).Msg("tcpip-forward: catalog save failed")
		listener.Close()
		r.reply(req, false, nil)
		return
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	task := &ForwardTask{
		subdomain: subdomain,
		listener:  listener,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	session.setForward(task)
	go session.runForwardTask(taskCtx, task, payload.BindAddr, uint32(actualPort))

	r.log.Info().Str("subdomain", subdomain).Int("port", actualPort).Msg("tcpip-forward accepted")
	r.reply(req, true, ssh.Marshal(&forwardSuccess{Port: uint32(actualPort)}))
}

func (r *Registrar) handleCancelTCPIPForward(ctx context.Context, session *Session, req *ssh.Request) {
	var payload forwardRequest
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		r.reply(req, false, nil)
		return
	}

	subdomain, ok := hostmatch.Subdomain(payload.BindAddr, r.vhostSuffix)
	if !ok {
		r.reply(req, false, nil)
		return
	}

	task := session.clearIfMatches(subdomain)
	if task == nil {
		// No active forward-task for this subdomain. A repeated cancel is
		// a failed request, not a no-op success.
		r.reply(req, false, nil)
		return
	}

	task.cancelAndWait()
	r.clearProxyPort(ctx, subdomain)
	r.log.Info().Str("subdomain", subdomain).Msg("tcpip-forward cancelled")
	r.reply(req, true, nil)
}

func (r *Registrar) clearProxyPort(ctx context.Context, subdomain string) {
	conn, err := r.store.GetBySubdomain(ctx, subdomain)
	if err != nil {
		return
	}
	conn.ProxyPort = nil
	if err := r.store.Save(ctx, conn); err != nil {
		r.log.Warn().Err(err).Str("subdomain", subdomain).Msg("failed to clear proxy_port")
	}
}

func (r *Registrar) reply(req *ssh.Request, ok bool, payload []byte) {
	if req.WantReply {
		req.Reply(ok, payload)
	}
}
