package crypto

import (
	"bytes"
	"errors"
	"testing"
)

var testMasterKey = bytes.Repeat([]byte{0x42}, 32)

func TestShardAEADRoundTrip(t *testing.T) {
	c, err := NewShardAEAD(testMasterKey, 3)
	if err != nil {
		t.Fatal(err)
	}
	if c.ShardID() != 3 {
		t.Fatalf("ShardID() = %d, want 3", c.ShardID())
	}
	plain := []byte("pending transaction bytes")
	sealed, err := c.Encrypt(plain)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("decrypted %q, want %q", got, plain)
	}
}

func TestShardAEADKeysAreShardScoped(t *testing.T) {
	a, err := NewShardAEAD(testMasterKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewShardAEAD(testMasterKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := a.Encrypt([]byte("shard zero payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("cross-shard decrypt: got %v, want ErrDecryptFailed", err)
	}
}

func TestShardAEADRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewShardAEAD(testMasterKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := c.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Decrypt(sealed); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("tampered ciphertext: got %v, want ErrDecryptFailed", err)
	}
}

func TestShardAEADShortInputs(t *testing.T) {
	if _, err := NewShardAEAD([]byte("short"), 0); !errors.Is(err, ErrBadKeyLength) {
		t.Fatalf("short master key: got %v, want ErrBadKeyLength", err)
	}
	c, err := NewShardAEAD(testMasterKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decrypt([]byte{1, 2, 3}); !errors.Is(err, ErrCiphertextShort) {
		t.Fatalf("short ciphertext: got %v, want ErrCiphertextShort", err)
	}
}
