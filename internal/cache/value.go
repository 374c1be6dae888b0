package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned by DecodeVector when a cached value is neither
// the binary vector form nor a JSON array of numbers.
var ErrInvalidVector = errors.New("cache: invalid vector encoding")

// Value is a raw cached value as read from Redis.
type Value []byte

// Decode JSON-decodes the value into dst.
func (v Value) Decode(dst any) error {
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("cache: decode value: %w", err)
	}
	return nil
}

// Bytes returns the raw stored bytes.
func (v Value) Bytes() []byte {
	return []byte(v)
}

// Any decodes the value as generic JSON. Values that are not valid JSON are
// returned as their raw bytes.
func (v Value) Any() any {
	var out any
	if err := json.Unmarshal(v, &out); err != nil {
		return v.Bytes()
	}
	return out
}

// vectorMagic prefixes binary-encoded vectors so they can be told apart from
// JSON arrays written by other clients.
var vectorMagic = []byte{'v', 'f', '3', '2'}

// EncodeVector serialises vec as the magic header followed by little-endian
// float32 values.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vectorMagic)+4*len(vec))
	copy(buf, vectorMagic)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[len(vectorMagic)+4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector parses a vector written by EncodeVector. A JSON array of
// numbers is accepted as well.
func DecodeVector(b []byte) ([]float32, error) {
	if bytes.HasPrefix(b, vectorMagic) {
		body := b[len(vectorMagic):]
		if len(body)%4 != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidVector, len(body)%4)
		}
		vec := make([]float32, len(body)/4)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
		}
		return vec, nil
	}

	var vec []float32
	if err := json.Unmarshal(b, &vec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVector, err)
	}
	return vec, nil
}
