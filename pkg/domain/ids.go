package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "chaindir/pkg/domain-errors"
)

// DomainID names one independent execution domain (chain). Each domain hosts
// its own replica of the directory.
type DomainID uint64

// Timestamp is the origin-side logical time of a mutation, in Unix
// milliseconds. It is taken exactly once per accepted mutation so every peer
// observes the same value for that event.
type Timestamp uint64

// Now returns the current wall clock as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMilli())
}

// Address is a 20-byte account address on some domain.
type Address [20]byte

// ParseAddress parses a 0x-prefixed or bare 40-hex-char address. IDs and
// addresses are validated at trust boundaries; internal code passes the
// typed values around.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return Address{}, dErrors.New(dErrors.CodeValidation, "address must be 20 hex-encoded bytes")
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the all-zero value, which is never a
// valid participant.
func (a Address) IsZero() bool {
	return a == Address{}
}

// IdentityID is the opaque 32-byte handle of a directory identity. It is
// assigned at creation and immutable afterwards.
type IdentityID [32]byte

// ParseIdentityID parses a 64-hex-char identity id.
func ParseIdentityID(s string) (IdentityID, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != 32 {
		return IdentityID{}, dErrors.New(dErrors.CodeValidation, "identity id must be 32 hex-encoded bytes")
	}
	var id IdentityID
	copy(id[:], raw)
	return id, nil
}

func (id IdentityID) String() string {
	return hex.EncodeToString(id[:])
}

func (id IdentityID) IsZero() bool {
	return id == IdentityID{}
}

// NewIdentityID derives a fresh identity id from the creator, the home
// domain, and a random uuid. The uuid keeps ids unique without any
// cross-domain coordination; the hash keeps them opaque and fixed-width.
func NewIdentityID(creator Address, home DomainID) IdentityID {
	h := sha256.New()
	h.Write(creator[:])
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(home))
	h.Write(d[:])
	salt := uuid.New()
	h.Write(salt[:])
	var id IdentityID
	copy(id[:], h.Sum(nil))
	return id
}

// AddressKey is the reverse-index key for a (domain, address) pair.
type AddressKey [32]byte

// DeriveAddressKey hashes the domain id (big-endian) concatenated with the
// address. The store and every external resolver must use this same
// derivation to stay interoperable.
func DeriveAddressKey(domain DomainID, addr Address) AddressKey {
	h := sha256.New()
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], uint64(domain))
	h.Write(d[:])
	h.Write(addr[:])
	var k AddressKey
	copy(k[:], h.Sum(nil))
	return k
}
