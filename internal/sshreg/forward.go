package sshreg

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
)

const bufferSize = 32 << 10

var bufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// runForwardTask accepts connections on listener until ctx is cancelled or
// Accept fails, spawning a stream handler per accepted socket. It signals
// completion by closing done, always, on every exit path.
func (s *Session) runForwardTask(ctx context.Context, task *ForwardTask, bindAddr string, bindPort uint32) {
	defer close(task.done)
	log := s.reg.log.With().Str("subdomain", task.subdomain).Logger()
	for {
		conn, err := task.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Info().Err(err).Msg("forward accept loop ended")
			s.reg.clearProxyPort(context.Background(), task.subdomain)
			return
		}
		go s.handleForwardedConn(conn, bindAddr, bindPort)
	}
}

// handleForwardedConn opens a forwarded-tcpip SSH channel back to the
// client for one accepted TCP socket and pumps bytes between them until
// either side closes.
func (s *Session) handleForwardedConn(conn net.Conn, bindAddr string, bindPort uint32) {
	defer conn.Close()

	originatorAddr, originatorPortStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return
	}
	originatorPort, _ := strconv.Atoi(originatorPortStr)

	payload := ssh.Marshal(&forwardedTCPIPPayload{
		ConnectedAddress:  bindAddr,
		ConnectedPort:     bindPort,
		OriginatorAddress: originatorAddr,
		OriginatorPort:    uint32(originatorPort),
	})

	channel, requests, err := s.conn.OpenChannel(forwardedTCPIPChannelType, payload)
	if err != nil {
		s.reg.log.Debug().Err(err).Msg("client rejected forwarded-tcpip channel")
		return
	}
	defer channel.Close()
	go ssh.DiscardRequests(requests)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := bufPool.Get().(*[]byte)
		defer bufPool.Put(buf)
		io.CopyBuffer(channel, conn, *buf)
		channel.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		buf := bufPool.Get().(*[]byte)
		defer bufPool.Put(buf)
		io.CopyBuffer(conn, channel, *buf)
	}()
	wg.Wait()
}
