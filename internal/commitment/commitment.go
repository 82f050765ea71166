// Package commitment implements the hash commitment that binds a bidder to a
// bid amount and secret without revealing either.
//
// The byte layout of the hash input is a hard contract shared with every
// off-service commitment generator (see cmd/sealtool): the amount's
// big-endian 8-byte encoding followed by the raw secret bytes, hashed with
// SHA-256. Any generator that deviates from this layout produces commitments
// that can never be revealed.
package commitment

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Size is the commitment length in bytes.
const Size = sha256.Size

// Commitment is an opaque fixed-size hash value. The zero value is reserved
// and means "no commitment".
type Commitment [Size]byte

// Compute derives the commitment for an amount and secret.
func Compute(amount uint64, secret []byte) Commitment {
	buf := make([]byte, 8+len(secret))
	binary.BigEndian.PutUint64(buf, amount)
	copy(buf[8:], secret)
	return sha256.Sum256(buf)
}

// IsZero reports whether c is the reserved zero value.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// String returns the lowercase hex encoding of c.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Parse decodes a hex-encoded commitment as produced by String.
func Parse(s string) (Commitment, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Commitment{}, fmt.Errorf("decoding commitment hex: %w", err)
	}
	return FromBytes(raw)
}

// FromBytes converts a raw byte slice into a Commitment.
func FromBytes(b []byte) (Commitment, error) {
	if len(b) != Size {
		return Commitment{}, fmt.Errorf("commitment must be %d bytes, got %d", Size, len(b))
	}
	var c Commitment
	copy(c[:], b)
	return c, nil
}
