package sshreg

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Authenticator configures how the registrar's ssh.ServerConfig validates
// incoming sessions. It is the seam for swapping in real authentication;
// the default is AcceptAnyPassword, since the subdomain itself is the
// shared secret in this design.
type Authenticator interface {
	apply(cfg *ssh.ServerConfig)
}

// acceptAnyPassword is the default Authenticator: any username/password
// combination succeeds. Only the password method is advertised to clients.
type acceptAnyPassword struct{}

// AcceptAnyPassword returns the default authenticator: every username and
// password combination is allowed in.
func AcceptAnyPassword() Authenticator { return acceptAnyPassword{} }

func (acceptAnyPassword) apply(cfg *ssh.ServerConfig) {
	cfg.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
		return &ssh.Permissions{Extensions: map[string]string{"username": conn.User()}}, nil
	}
}

// publicKeyAuthenticator restricts sessions to a known set of public keys.
// Not the registrar's default; deployments that want real authentication
// swap it in at construction time.
type publicKeyAuthenticator struct {
	keys map[string]ssh.PublicKey
}

// NewPublicKeyAuthenticator loads newline-separated authorized_keys data and
// returns an Authenticator that accepts only those keys.
func NewPublicKeyAuthenticator(authorizedKeysData string) (Authenticator, error) {
	keys := make(map[string]ssh.PublicKey)
	scanner := bufio.NewScanner(strings.NewReader(authorizedKeysData))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parse authorized key: %w", err)
		}
		keys[string(ssh.MarshalAuthorizedKey(pub))] = pub
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("no authorized keys loaded")
	}
	return publicKeyAuthenticator{keys: keys}, nil
}

func (a publicKeyAuthenticator) apply(cfg *ssh.ServerConfig) {
	cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		if _, ok := a.keys[string(ssh.MarshalAuthorizedKey(key))]; ok {
			return &ssh.Permissions{Extensions: map[string]string{"username": conn.User()}}, nil
		}
		return nil, fmt.Errorf("unauthorized key")
	}
}
