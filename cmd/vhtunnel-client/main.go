// Command vhtunnel-client is a demo/testing SSH client: it authenticates
// with either a private key or a password, requests a tcpip-forward for a
// subdomain (used as both the bind address prefix and, by convention, the
// SSH username), and for every forwarded-tcpip channel the server opens
// back to it, dials a local service address and pumps bytes between the
// channel and that local connection.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"
)

type forwardedTCPIPPayload struct {
	ConnectedAddress  string
	ConnectedPort     uint32
	OriginatorAddress string
	OriginatorPort    uint32
}

func main() {
	serverAddr := flag.String("server", "localhost:2222", "SSH server address")
	subdomain := flag.String("subdomain", "", "subdomain to request (also used as SSH username)")
	suffix := flag.String("suffix", ".t.local", "virtual-host suffix the server routes under")
	keyPath := flag.String("key", "", "path to a private SSH key file (mutually exclusive with -password)")
	password := flag.String("password", "", "SSH password (mutually exclusive with -key)")
	localAddr := flag.String("local", "localhost:3000", "local service address to forward traffic to")
	verbose := flag.Bool("v", false, "enable verbose logging")
	flag.Parse()

	logger := log.New(os.Stderr, "vhtunnel-client: ", log.LstdFlags)
	if !*verbose {
		logger.SetOutput(io.Discard)
	}

	if *subdomain == "" {
		fmt.Fprintln(os.Stderr, "error: -subdomain is required")
		os.Exit(1)
	}

	auth, err := authMethod(*keyPath, *password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg := &ssh.ClientConfig{
		User:            *subdomain,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	conn, err := ssh.Dial("tcp", *serverAddr, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: dial %s: %v\n", *serverAddr, err)
		os.Exit(1)
	}
	defer conn.Close()

	bindHost := *subdomain + *suffix
	port, err := requestForward(conn, bindHost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: tcpip-forward: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tunnel established: remote port %d bound for %s\n", port, bindHost)

	chans := conn.HandleChannelOpen("forwarded-tcpip")
	go serveForwardedChannels(chans, *localAddr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
}

func authMethod(keyPath, password string) (ssh.AuthMethod, error) {
	switch {
	case keyPath != "":
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	case password != "":
		return ssh.Password(password), nil
	default:
		return nil, fmt.Errorf("one of -key or -password is required")
	}
}

func requestForward(conn ssh.Conn, bindHost string) (uint32, error) {
	payload := ssh.Marshal(struct {
		Addr string
		Port uint32
	}{Addr: bindHost, Port: 0})

	ok, reply, err := conn.SendRequest("tcpip-forward", true, payload)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("server rejected tcpip-forward")
	}
	if len(reply) < 4 {
		return 0, fmt.Errorf("malformed tcpip-forward reply")
	}
	return binary.BigEndian.Uint32(reply[:4]), nil
}

func serveForwardedChannels(chans <-chan ssh.NewChannel, localAddr string, logger *log.Logger) {
	for newChan := range chans {
		var payload forwardedTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
			newChan.Reject(ssh.ConnectionFailed, "malformed forwarded-tcpip payload")
			continue
		}

		channel, requests, err := newChan.Accept()
		if err != nil {
			logger.Printf("accept channel: %v", err)
			continue
		}
		go ssh.DiscardRequests(requests)
		go pumpToLocal(channel, localAddr, logger)
	}
}

func pumpToLocal(channel ssh.Channel, localAddr string, logger *log.Logger) {
	defer channel.Close()

	local, err := net.Dial("tcp", localAddr)
	if err != nil {
		logger.Printf("dial local service %s: %v", localAddr, err)
		return
	}
	defer local.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(local, channel)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(channel, local)
		done <- struct{}{}
	}()
	<-done
}
