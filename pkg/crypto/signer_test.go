package crypto

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestSignerRoundTrip(t *testing.T) {
	s, err := NewEd25519Signer("")
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("block header bytes")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Verify(msg, sig, s.PublicKey()) {
		t.Fatal("signature did not verify under the signer's own key")
	}
	if s.Verify([]byte("tampered"), sig, s.PublicKey()) {
		t.Fatal("signature verified over different data")
	}
}

func TestSignerDeterministicFromSeed(t *testing.T) {
	seed := strings.Repeat("ab", 32)
	a, err := NewEd25519Signer(seed)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEd25519Signer(seed)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(a.PublicKey()) != hex.EncodeToString(b.PublicKey()) {
		t.Fatal("same seed produced different public keys")
	}
}

func TestSignerRejectsBadSeed(t *testing.T) {
	if _, err := NewEd25519Signer("zz"); !errors.Is(err, ErrBadKeyLength) {
		t.Fatalf("non-hex seed: got %v, want ErrBadKeyLength", err)
	}
	if _, err := NewEd25519Signer("abcd"); !errors.Is(err, ErrBadKeyLength) {
		t.Fatalf("short seed: got %v, want ErrBadKeyLength", err)
	}
}

func TestVerifyRejectsMalformedInputs(t *testing.T) {
	s, err := NewEd25519Signer("")
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("payload")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	if s.Verify(msg, sig[:10], s.PublicKey()) {
		t.Fatal("truncated signature accepted")
	}
	if s.Verify(msg, sig, s.PublicKey()[:16]) {
		t.Fatal("truncated public key accepted")
	}
}
