package utils

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Serialization limits
const (
	DefaultSerializeMaxSize = 10 << 20 // 10MB
)

// Serialization errors
var (
	ErrSizeLimitExceeded = errors.New("serialize: size limit exceeded")
	ErrEncodingFailed    = errors.New("serialize: encoding failed")
	ErrDecodingFailed    = errors.New("serialize: decoding failed")
)

var (
	cborOnce sync.Once
	cborEnc  cbor.EncMode
	cborDec  cbor.DecMode
	initErr  error
)

// initCBOR configures canonical CBOR encoding once. Canonical mode keeps
// encodings byte-stable so content hashes are reproducible across nodes.
func initCBOR() {
	cborOnce.Do(func() {
		encOpts := cbor.CanonicalEncOptions()
		encOpts.Time = cbor.TimeRFC3339Nano
		cborEnc, initErr = encOpts.EncMode()
		if initErr != nil {
			return
		}
		decOpts := cbor.DecOptions{
			MaxArrayElements: 1 << 20,
			MaxMapPairs:      1 << 20,
		}
		cborDec, initErr = decOpts.DecMode()
	})
}

// Encode serializes v to canonical CBOR
func Encode(v interface{}) ([]byte, error) {
	initCBOR()
	if initErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, initErr)
	}
	data, err := cborEnc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if len(data) > DefaultSerializeMaxSize {
		return nil, ErrSizeLimitExceeded
	}
	return data, nil
}

// Decode deserializes canonical CBOR into v
func Decode(data []byte, v interface{}) error {
	initCBOR()
	if initErr != nil {
		return fmt.Errorf("%w: %v", ErrDecodingFailed, initErr)
	}
	if len(data) > DefaultSerializeMaxSize {
		return ErrSizeLimitExceeded
	}
	if err := cborDec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return nil
}
