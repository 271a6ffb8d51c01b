// Package keymaterial decodes the SSH host key the registrar presents to
// clients and derives its public fingerprint for the startup log line.
package keymaterial

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// HostKey is the decoded host key plus its fingerprint.
type HostKey struct {
	Signer      ssh.Signer
	Fingerprint string
}

// Load reads and parses the private key at path. The key must be in
// PEM/OpenSSH format, matching golang.org/x/crypto/ssh.ParsePrivateKey.
func Load(path string) (*HostKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse server key %s: %w", path, err)
	}
	return &HostKey{
		Signer:      signer,
		Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()),
	}, nil
}
