package nid

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"
)

const (
	idVersionV01 = 0x01
	idKindNode   = 0x03
)

var ErrInvalidIDString = errors.New("invalid node ID string")
var ErrInvalidIDFormat = errors.New("invalid node ID format")

// Byte structure of a node ID is <version:1><kind:1><hash:32>.
// Raw bytes are encoded by Base32.

// ID holds the string representation of a node identifier as well as the cached
// binary representation. An ID is a comparable value type and can be used as a map key.
// ID implements the MarshalBinary and UnmarshalBinary interfaces to assist CBOR
// encoding and avoid redundancy.
type ID struct {
	b [34]byte
	s string
}

func (id *ID) String() string {
	return id.s
}

func (id *ID) MarshalBinary() ([]byte, error) {
	return id.b[:], nil
}

func (id *ID) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidIDFormat
	}

	switch data[0] {
	case idVersionV01:
		if len(data) != 34 {
			return ErrInvalidIDString
		}
		if data[1] != idKindNode {
			return ErrInvalidIDString
		}
		copy(id.b[:], data)
		id.s = base32.StdEncoding.EncodeToString(data)
	default:
		return ErrInvalidIDFormat
	}

	return nil
}

func (id *ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*id = *parsed
	return nil
}

// Compare defines the total order over node IDs, comparing the raw bytes.
// The Base32 string form is not order-preserving, so ordering always goes
// through the binary form.
func (id *ID) Compare(other *ID) int {
	return bytes.Compare(id.b[:], other.b[:])
}

func (id *ID) Less(other *ID) bool {
	return id.Compare(other) < 0
}

// Equal helper
func (id *ID) Equal(other *ID) bool {
	if id == nil && other == nil {
		return true
	}
	if id == nil || other == nil {
		return false
	}
	return id.b == other.b
}

func Encode(hash [32]byte) *ID {
	idbytes := []byte{idVersionV01, idKindNode}
	idbytes = append(idbytes, hash[:]...)

	id := &ID{
		s: base32.StdEncoding.EncodeToString(idbytes),
	}
	copy(id.b[:], idbytes)
	return id
}

// FromSeed derives a node ID from arbitrary seed data.
func FromSeed(seed []byte) *ID {
	return Encode(sha256.Sum256(seed))
}

func FromString(s string) (*ID, error) {
	idBytes, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}

	id := &ID{}
	if err := id.UnmarshalBinary(idBytes); err != nil {
		return nil, err
	}
	return id, nil
}

func FromStringMustParse(s string) *ID {
	id, err := FromString(s)
	if err != nil {
		log.Fatalf("Failed to parse node ID: %v", err)
	}
	return id
}

func Random() (*ID, error) {
	// Generate 32 random bytes and craft an ID
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	if err != nil {
		return nil, err
	}

	return Encode([32]byte(buf)), nil
}
