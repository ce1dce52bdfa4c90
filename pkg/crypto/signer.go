package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrBadKeyLength = errors.New("crypto: bad key length")
	ErrSignFailed   = errors.New("crypto: signing failed")
)

// Ed25519Signer signs block headers with the node's validator key.
// It implements types.Signer.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer derives a signer from a 32-byte hex seed, or generates a
// fresh keypair when seed is empty (dev/test only).
func NewEd25519Signer(seedHex string) (*Ed25519Signer, error) {
	if seedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignFailed, err)
		}
		return &Ed25519Signer{priv: priv, pub: pub}, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("%w: seed is not hex", ErrBadKeyLength)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrBadKeyLength, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

func (s *Ed25519Signer) Sign(data []byte) ([]byte, error) {
	if len(s.priv) != ed25519.PrivateKeySize {
		return nil, ErrBadKeyLength
	}
	return ed25519.Sign(s.priv, data), nil
}

func (s *Ed25519Signer) Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

func (s *Ed25519Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}
