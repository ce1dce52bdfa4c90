package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrCiphertextShort = errors.New("crypto: ciphertext too short")
	ErrDecryptFailed   = errors.New("crypto: decrypt failed")
)

// ShardAEAD is one shard's security context: AES-256-GCM under a key derived
// from the cluster master key and the shard id. A transaction moving between
// shards must decrypt cleanly under the target's context before the move
// commits. Implements types.ShardCipher.
type ShardAEAD struct {
	shardID uint64
	aead    cipher.AEAD
}

// NewShardAEAD derives the shard's AEAD from the master key via HKDF-SHA256
// with the shard id as context info.
func NewShardAEAD(masterKey []byte, shardID uint64) (*ShardAEAD, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("%w: master key too short", ErrBadKeyLength)
	}
	var info [8]byte
	binary.BigEndian.PutUint64(info[:], shardID)
	key, err := hkdf.Key(sha256.New, masterKey, nil, "BLEEP_SHARD_KEY_V1"+string(info[:]), 32)
	if err != nil {
		return nil, err
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(blk)
	if err != nil {
		return nil, err
	}
	return &ShardAEAD{shardID: shardID, aead: aead}, nil
}

func (s *ShardAEAD) ShardID() uint64 { return s.shardID }

// Encrypt seals plaintext with a random nonce prefix
func (s *ShardAEAD) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt under the same shard context
func (s *ShardAEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < s.aead.NonceSize() {
		return nil, ErrCiphertextShort
	}
	nonce, sealed := ciphertext[:s.aead.NonceSize()], ciphertext[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
