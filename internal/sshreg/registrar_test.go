package sshreg

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"vhtunnel/internal/catalog"
	"vhtunnel/internal/keymaterial"
)

func testHostKey(t *testing.T) *keymaterial.HostKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return &keymaterial.HostKey{
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}
}

// dialRegistrar opens an authenticated SSH client connection to the
// registrar at addr, retrying until its listener is up. The returned client
// can send global requests directly and register forwarded-tcpip handlers.
func dialRegistrar(t *testing.T, addr string) *ssh.Client {
	t.Helper()
	cfg := &ssh.ClientConfig{
		User:            "irrelevant",
		Auth:            []ssh.AuthMethod{ssh.Password("anything")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	var client *ssh.Client
	require.Eventually(t, func() bool {
		c, err := ssh.Dial("tcp", addr, cfg)
		if err != nil {
			return false
		}
		client = c
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return client
}

func startTestRegistrar(t *testing.T, store catalog.Store) string {
	t.Helper()
	return startTestRegistrarAuth(t, store, AcceptAnyPassword())
}

func startTestRegistrarAuth(t *testing.T, store catalog.Store, auth Authenticator) string {
	t.Helper()
	reg := New("127.0.0.1:0", ".t.local", testHostKey(t), store, auth, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	reg.listen = addr
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go reg.Serve(ctx)
	return addr
}

func TestTCPIPForwardAcceptedAndCatalogUpdated(t *testing.T) {
	store := catalog.NewMemStore()
	_, err := store.Insert(context.Background(), catalog.Connection{Subdomain: "a", UpstreamPort: "9000"})
	require.NoError(t, err)

	addr := startTestRegistrar(t, store)
	conn := dialRegistrar(t, addr)
	defer conn.Close()

	payload := ssh.Marshal(&forwardRequest{BindAddr: "a.t.local", BindPort: 0})
	ok, reply, err := conn.SendRequest("tcpip-forward", true, payload)
	require.NoError(t, err)
	require.True(t, ok)

	var success forwardSuccess
	require.NoError(t, ssh.Unmarshal(reply, &success))
	assert.NotZero(t, success.Port)

	got, err := store.GetBySubdomain(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, got.Active())
}

func TestCancelTCPIPForwardSecondCallFails(t *testing.T) {
	store := catalog.NewMemStore()
	_, err := store.Insert(context.Background(), catalog.Connection{Subdomain: "a", UpstreamPort: "9000"})
	require.NoError(t, err)

	addr := startTestRegistrar(t, store)
	conn := dialRegistrar(t, addr)
	defer conn.Close()

	fwdPayload := ssh.Marshal(&forwardRequest{BindAddr: "a.t.local", BindPort: 0})
	ok, _, err := conn.SendRequest("tcpip-forward", true, fwdPayload)
	require.NoError(t, err)
	require.True(t, ok)

	cancelPayload := ssh.Marshal(&forwardRequest{BindAddr: "a.t.local", BindPort: 0})
	ok1, _, err := conn.SendRequest("cancel-tcpip-forward", true, cancelPayload)
	require.NoError(t, err)
	assert.True(t, ok1)

	ok2, _, err := conn.SendRequest("cancel-tcpip-forward", true, cancelPayload)
	require.NoError(t, err)
	assert.False(t, ok2, "second cancel-tcpip-forward with no active forward-task must fail")

	got, err := store.GetBySubdomain(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestSecondForwardCancelsPrior(t *testing.T) {
	store := catalog.NewMemStore()
	ctx := context.Background()
	_, err := store.Insert(ctx, catalog.Connection{Subdomain: "a", UpstreamPort: "9000"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, catalog.Connection{Subdomain: "b", UpstreamPort: "9001"})
	require.NoError(t, err)

	addr := startTestRegistrar(t, store)
	conn := dialRegistrar(t, addr)
	defer conn.Close()

	ok, _, err := conn.SendRequest("tcpip-forward", true, ssh.Marshal(&forwardRequest{BindAddr: "a.t.local"}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, reply, err := conn.SendRequest("tcpip-forward", true, ssh.Marshal(&forwardRequest{BindAddr: "b.t.local"}))
	require.NoError(t, err)
	require.True(t, ok)
	var success forwardSuccess
	require.NoError(t, ssh.Unmarshal(reply, &success))

	gotA, err := store.GetBySubdomain(ctx, "a")
	require.NoError(t, err)
	assert.False(t, gotA.Active(), "prior forward's proxy_port must be cleared")

	gotB, err := store.GetBySubdomain(ctx, "b")
	require.NoError(t, err)
	require.True(t, gotB.Active())
	assert.Equal(t, strconv.Itoa(int(success.Port)), *gotB.ProxyPort)
}

func TestReForwardSameSubdomainKeepsNewPort(t *testing.T) {
	store := catalog.NewMemStore()
	ctx := context.Background()
	_, err := store.Insert(ctx, catalog.Connection{Subdomain: "a", UpstreamPort: "9000"})
	require.NoError(t, err)

	addr := startTestRegistrar(t, store)
	conn := dialRegistrar(t, addr)
	defer conn.Close()

	payload := ssh.Marshal(&forwardRequest{BindAddr: "a.t.local"})
	ok, _, err := conn.SendRequest("tcpip-forward", true, payload)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reply, err := conn.SendRequest("tcpip-forward", true, payload)
	require.NoError(t, err)
	require.True(t, ok)
	var success forwardSuccess
	require.NoError(t, ssh.Unmarshal(reply, &success))

	got, err := store.GetBySubdomain(ctx, "a")
	require.NoError(t, err)
	require.True(t, got.Active())
	assert.Equal(t, strconv.Itoa(int(success.Port)), *got.ProxyPort)
}

func TestTCPIPForwardUnknownSubdomainRejected(t *testing.T) {
	store := catalog.NewMemStore()
	addr := startTestRegistrar(t, store)
	conn := dialRegistrar(t, addr)
	defer conn.Close()

	payload := ssh.Marshal(&forwardRequest{BindAddr: "nope.t.local", BindPort: 0})
	ok, _, err := conn.SendRequest("tcpip-forward", true, payload)
	require.NoError(t, err)
	assert.False(t, ok)
}
