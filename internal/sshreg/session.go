package sshreg

import (
	"context"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ForwardTask is the accept-loop handle for one accepted "tcpip-forward":
// a cancellation signal plus a completion handle, owned by at most one
// Session at a time.
type ForwardTask struct {
	subdomain string
	listener  net.Listener
	cancel    context.CancelFunc
	done      chan struct{}
}

// cancelAndWait fires the task's cancel signal, closes its listener to
// unblock any pending Accept, and waits for the accept-loop goroutine to
// exit. Safe to call at most once per task.
func (t *ForwardTask) cancelAndWait() {
	t.cancel()
	t.listener.Close()
	<-t.done
}

// Session is the per-SSH-connection runtime state: at most one live
// ForwardTask, plus the handles needed to open forwarded-tcpip channels and
// reach the catalog. Every accepted connection gets its own Session,
// constructed fresh — none of this state is shared across connections.
type Session struct {
	id      uint64
	conn    *ssh.ServerConn
	reg     *Registrar
	mu      sync.Mutex
	forward *ForwardTask
}

// takeForward removes and returns the session's current forward task, or nil
// if none is installed. The caller owns cancellation of the returned task.
func (s *Session) takeForward() *ForwardTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.forward
	s.forward = nil
	return task
}

// setForward installs task as the session's current forward. Any prior task
// must already have been taken and cancelled by the caller.
func (s *Session) setForward(task *ForwardTask) {
	s.mu.Lock()
	s.forward = task
	s.mu.Unlock()
}

// clearIfMatches removes and returns the session's forward task if it is for
// the given subdomain (used by cancel-tcpip-forward), or nil otherwise.
func (s *Session) clearIfMatches(subdomain string) *ForwardTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forward == nil || s.forward.subdomain != subdomain {
		return nil
	}
	task := s.forward
	s.forward = nil
	return task
}

// teardown cancels-and-clears whatever forward task is still live when the
// SSH connection itself goes away (session drop without an explicit
// cancel-tcpip-forward).
func (s *Session) teardown(ctx context.Context) {
	if task := s.takeForward(); task != nil {
		task.cancelAndWait()
		s.reg.clearProxyPort(ctx, task.subdomain)
	}
}
