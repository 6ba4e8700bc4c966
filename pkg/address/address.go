// Package address implements the fabric's opaque 32-byte agent identifier.
package address

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Size is the fixed byte length of an Address.
const Size = 32

// ErrInvalidLength is returned when raw bytes of the wrong length are used
// to construct an Address.
var ErrInvalidLength = errors.New("address: raw value must be exactly 32 bytes")

// Address is a 32-byte opaque identifier with no embedded routing
// information. Locality is a property of the actor registry, not the
// address itself.
type Address [Size]byte

// New returns a cryptographically random Address.
func New() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return Address{}, fmt.Errorf("address: generate random: %w", err)
	}
	return a, nil
}

// MustNew panics if random generation fails; intended for call sites that
// cannot usefully recover from an exhausted entropy source.
func MustNew() Address {
	a, err := New()
	if err != nil {
		panic(err)
	}
	return a
}

// FromBytes constructs an Address from raw bytes. The slice must be exactly
// Size bytes long.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Size {
		return Address{}, ErrInvalidLength
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// FromUUID zero-pads a 16-byte UUID into the first half of an Address.
func FromUUID(u uuid.UUID) Address {
	var a Address
	copy(a[:16], u[:])
	return a
}

// FromHex parses the canonical 64-character lower-case hex form. Parsing is
// case-insensitive, matching the wire contract's reader side.
func FromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: decode hex: %w", err)
	}
	return FromBytes(b)
}

// String renders the canonical lower-case 64-character hex form.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all-zero (the unset value).
func (a Address) IsZero() bool {
	return a == Address{}
}

// Equal reports byte-for-byte equality. Provided alongside Go's native `==`
// for callers that hold an interface or pointer and want an explicit method.
func (a Address) Equal(other Address) bool {
	return a == other
}
