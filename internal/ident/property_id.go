package ident

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Size is the width of a PropertyID in bytes (Solidity bytes32).
const Size = 32

// PropertyID is the registry key for a property.
type PropertyID [Size]byte

// Zero is the reserved "no selection" identifier.
var Zero PropertyID

// IsZero reports whether id is the sentinel.
func (id PropertyID) IsZero() bool {
	return id == Zero
}

// Hex returns the 0x-prefixed lowercase hex form.
func (id PropertyID) Hex() string {
	return hexutil.Encode(id[:])
}

func (id PropertyID) String() string {
	return id.Hex()
}

// Hash converts the identifier to an event topic / bytes32 word.
func (id PropertyID) Hash() common.Hash {
	return common.Hash(id)
}

// MarshalText implements encoding.TextMarshaler so identifiers render as hex in JSON.
func (id PropertyID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PropertyID) UnmarshalText(text []byte) error {
	parsed, err := ParsePropertyID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromHash converts a bytes32 word (for example an indexed event topic) to a PropertyID.
func FromHash(h common.Hash) PropertyID {
	return PropertyID(h)
}

// ParsePropertyID parses a 0x-prefixed 32-byte hex string.
func ParsePropertyID(s string) (PropertyID, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("parse property id %q: %w", s, err)
	}
	if len(b) != Size {
		return Zero, fmt.Errorf("parse property id %q: got %d bytes, want %d", s, len(b), Size)
	}
	var id PropertyID
	copy(id[:], b)
	return id, nil
}
