package state

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Domain for transaction hashing
const DomainTransfer = "BLEEP_TRANSFER_V1"

// Size limits (bytes)
const (
	MaxAddressSize   = 64
	MaxSignatureSize = 256
)

var (
	ErrOversize      = errors.New("state: field too large")
	ErrSkew          = errors.New("state: timestamp skew too large")
	ErrEmptyParty    = errors.New("state: sender and receiver required")
	ErrDecodeFailed  = errors.New("state: transaction decode failed")
	ErrHashMismatch  = errors.New("state: content hash mismatch after decode")
	ErrInvalidAmount = errors.New("state: negative amount")
)

// Transaction is a value transfer between two parties. Immutable once
// admitted; a transaction belongs to exactly one shard's pending set at a time.
type Transaction struct {
	ID        string  `cbor:"1,keyasint"`
	Sender    string  `cbor:"2,keyasint"`
	Receiver  string  `cbor:"3,keyasint"`
	Amount    float64 `cbor:"4,keyasint"`
	Timestamp int64   `cbor:"5,keyasint"` // unix seconds
	Signature []byte  `cbor:"6,keyasint"` // opaque, verified by the crypto collaborator
}

// NewTransaction builds a transaction with a fresh unique ID
func NewTransaction(sender, receiver string, amount float64, ts time.Time) Transaction {
	return Transaction{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		Timestamp: ts.Unix(),
	}
}

// Validate checks structural bounds; signature verification is the crypto
// collaborator's job and happens at admission.
func (t *Transaction) Validate() error {
	if t.Sender == "" || t.Receiver == "" {
		return ErrEmptyParty
	}
	if len(t.Sender) > MaxAddressSize || len(t.Receiver) > MaxAddressSize {
		return ErrOversize
	}
	if len(t.Signature) > MaxSignatureSize {
		return ErrOversize
	}
	if t.Amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ContentHash returns the canonical SHA-256 digest of the transaction.
// Layout: domain||0x00||id||0x00||sender||0x00||receiver||0x00||amount(8B)||ts(8B)
func (t *Transaction) ContentHash() [32]byte {
	h := sha256.New()
	h.Write([]byte(DomainTransfer))
	h.Write([]byte{0x00})
	h.Write([]byte(t.ID))
	h.Write([]byte{0x00})
	h.Write([]byte(t.Sender))
	h.Write([]byte{0x00})
	h.Write([]byte(t.Receiver))
	h.Write([]byte{0x00})
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(int64(t.Amount*1e6))) // micro-units
	h.Write(amt[:])
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(t.Timestamp))
	h.Write(ts[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SigningBytes returns the bytes a validator signs for this transaction
func (t *Transaction) SigningBytes() []byte {
	h := t.ContentHash()
	return h[:]
}

// EncodeTransaction serializes a transaction to canonical CBOR
func EncodeTransaction(t Transaction) ([]byte, error) {
	return utils.Encode(&t)
}

// DecodeTransaction deserializes a transaction from canonical CBOR
func DecodeTransaction(data []byte) (Transaction, error) {
	var t Transaction
	if err := utils.Decode(data, &t); err != nil {
		return Transaction{}, ErrDecodeFailed
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// CheckSkew verifies a unix timestamp is within the allowed skew window
func CheckSkew(unixSeconds int64, now time.Time, skew time.Duration) error {
	ts := time.Unix(unixSeconds, 0)
	if now.Sub(ts) > skew || ts.Sub(now) > skew {
		return ErrSkew
	}
	return nil
}
