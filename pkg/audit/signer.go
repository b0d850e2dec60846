package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/mod/sumdb/note"
)

var _ note.Signer = (*Ed25519Signer)(nil)

// Ed25519Signer signs audit checkpoints as c2sp.org/signed-note notes.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	name       string
}

// NewEd25519Signer creates a checkpoint signer. An empty name defaults to
// quorumsig-<first 4 bytes of the public key>.
func NewEd25519Signer(privateKey ed25519.PrivateKey, name string) (*Ed25519Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)

	if name == "" {
		name = fmt.Sprintf("quorumsig-%x", publicKey[:4])
	}

	return &Ed25519Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		name:       name,
	}, nil
}

func (s *Ed25519Signer) Name() string {
	return s.name
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.privateKey, data), nil
}

// KeyHash returns the key ID per c2sp.org/signed-note:
// SHA256(name + "\n" + 0x01 + public key)[:4].
func (s *Ed25519Signer) KeyHash() uint32 {
	encoded := append([]byte{0x01}, s.publicKey...)
	h := sha256.Sum256([]byte(s.name + "\n" + string(encoded)))
	return binary.BigEndian.Uint32(h[:4])
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// Verifier returns the note verifier for this signer's key.
func (s *Ed25519Signer) Verifier() (note.Verifier, error) {
	return NewVerifier(s.name, s.publicKey)
}

// NewVerifier returns a note verifier for checkpoints signed by the named
// Ed25519 key.
func NewVerifier(name string, pub ed25519.PublicKey) (note.Verifier, error) {
	vkey, err := note.NewEd25519VerifierKey(name, pub)
	if err != nil {
		return nil, err
	}
	return note.NewVerifier(vkey)
}
