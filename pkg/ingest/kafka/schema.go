package kafka

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Telemetry message limits (DoS protection)
const (
	MaxMessageSize = 64 * 1024 // 64KB total message
	MaxIDLength    = 128
	NonceSize      = 16
	SignatureSize  = 64
	PubKeySize     = 32
)

const domainTelemetry = "BLEEP_TELEMETRY_V1"

var (
	ErrMessageTooLarge = errors.New("kafka: message exceeds size limit")
	ErrSchemaInvalid   = errors.New("kafka: telemetry message malformed")
)

// TelemetrySample is one signed network observation published by a monitor
// node on telemetry.samples.v1. Load is a percentage, Reliability a
// probability; both are range-checked before the sample reaches the
// selector's history.
type TelemetrySample struct {
	NodeID      string  `cbor:"1,keyasint"`
	Load        uint64  `cbor:"2,keyasint"` // 0-100
	LatencyMS   uint64  `cbor:"3,keyasint"`
	Reliability float64 `cbor:"4,keyasint"` // 0.0-1.0
	TS          int64   `cbor:"5,keyasint"`
	Nonce       []byte  `cbor:"6,keyasint"`
	PubKey      []byte  `cbor:"7,keyasint"`
	Signature   []byte  `cbor:"8,keyasint"`
}

// Validate checks structural bounds before any crypto work
func (m *TelemetrySample) Validate() error {
	if m.NodeID == "" || len(m.NodeID) > MaxIDLength {
		return fmt.Errorf("%w: node id length %d", ErrSchemaInvalid, len(m.NodeID))
	}
	if m.Load > 100 {
		return fmt.Errorf("%w: load %d out of [0,100]", ErrSchemaInvalid, m.Load)
	}
	if math.IsNaN(m.Reliability) || m.Reliability < 0 || m.Reliability > 1 {
		return fmt.Errorf("%w: reliability %f out of [0,1]", ErrSchemaInvalid, m.Reliability)
	}
	if m.TS <= 0 {
		return fmt.Errorf("%w: timestamp %d", ErrSchemaInvalid, m.TS)
	}
	if len(m.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrSchemaInvalid, len(m.Nonce))
	}
	if len(m.PubKey) != PubKeySize {
		return fmt.Errorf("%w: pubkey length %d", ErrSchemaInvalid, len(m.PubKey))
	}
	if len(m.Signature) != SignatureSize {
		return fmt.Errorf("%w: signature length %d", ErrSchemaInvalid, len(m.Signature))
	}
	return nil
}

// SigningBytes builds the canonical byte layout the producer signed:
// domain || ts || node_id_len || node_id || nonce || load || latency || rel_bits
func (m *TelemetrySample) SigningBytes() []byte {
	buf := make([]byte, 0, len(domainTelemetry)+8+2+len(m.NodeID)+NonceSize+24)
	buf = append(buf, domainTelemetry...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(m.TS))
	buf = append(buf, u64[:]...)

	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(m.NodeID)))
	buf = append(buf, idLen[:]...)
	buf = append(buf, m.NodeID...)

	buf = append(buf, m.Nonce...)

	binary.BigEndian.PutUint64(u64[:], m.Load)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], m.LatencyMS)
	buf = append(buf, u64[:]...)
	binary.BigEndian.PutUint64(u64[:], math.Float64bits(m.Reliability))
	buf = append(buf, u64[:]...)

	return buf
}

// ReplayKey identifies a sample for duplicate suppression
func (m *TelemetrySample) ReplayKey() [32]byte {
	h := sha256.New()
	h.Write(m.PubKey)
	h.Write(m.Nonce)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// DecodeTelemetry parses a wire message with the size cap applied first
func DecodeTelemetry(data []byte) (TelemetrySample, error) {
	if len(data) > MaxMessageSize {
		return TelemetrySample{}, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	var m TelemetrySample
	if err := utils.Decode(data, &m); err != nil {
		return TelemetrySample{}, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	return m, nil
}

// EncodeTelemetry serializes a sample for publishing
func EncodeTelemetry(m TelemetrySample) ([]byte, error) {
	return utils.Encode(m)
}
