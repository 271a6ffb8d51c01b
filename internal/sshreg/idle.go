package sshreg

import (
	"net"
	"time"
)

// idleTimeout is the SSH connection idle timeout: past this long without any
// read or write traffic, the underlying TCP connection's deadline expires
// and the session is torn down.
const idleTimeout = 3600 * time.Second

// idleTimeoutConn wraps a net.Conn so that every successful Read or Write
// pushes the connection's deadline forward by timeout. ssh.NewServerConn
// performs all of its transport I/O directly against the net.Conn it is
// given, so wrapping it here is sufficient to cover the handshake, the
// global-request loop, and any forwarded-tcpip channel traffic multiplexed
// over the same connection.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleTimeoutConn(c net.Conn, timeout time.Duration) *idleTimeoutConn {
	c.SetDeadline(time.Now().Add(timeout))
	return &idleTimeoutConn{Conn: c, timeout: timeout}
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err == nil {
		c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}

func (c *idleTimeoutConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err == nil {
		c.Conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return n, err
}
