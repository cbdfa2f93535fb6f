package ident

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
)

// Scheme selects how descriptions are turned into identifiers.
type Scheme string

const (
	SchemePrefix    Scheme = "prefix"
	SchemeKeccak    Scheme = "keccak"
	SchemeLegacyABI Scheme = "legacy-abi"
)

// Schemes lists the accepted scheme names in display order.
var Schemes = []Scheme{SchemePrefix, SchemeKeccak, SchemeLegacyABI}

// ParseScheme validates a scheme name. The empty string selects SchemePrefix.
func ParseScheme(s string) (Scheme, error) {
	if s == "" {
		return SchemePrefix, nil
	}
	for _, known := range Schemes {
		if Scheme(s) == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown identifier scheme %q: must be one of %v", s, Schemes)
}

// Codec maps descriptions to identifiers. The zero value is not usable; use NewCodec.
//
// A Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	scheme    Scheme
	normalize bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithScheme selects the identifier scheme.
func WithScheme(s Scheme) Option {
	return func(c *Codec) {
		c.scheme = s
	}
}

// WithNFC normalizes descriptions to Unicode NFC before encoding, so visually
// identical input typed on different keyboards yields the same key. Off by
// default: enabling it changes keys for non-NFC input already on chain.
func WithNFC() Option {
	return func(c *Codec) {
		c.normalize = true
	}
}

// NewCodec returns a codec using SchemePrefix unless configured otherwise.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{scheme: SchemePrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCodec = NewCodec()

// Encode maps a description to its identifier using the default codec.
func Encode(description string) PropertyID {
	return defaultCodec.Encode(description)
}

// Scheme returns the configured scheme.
func (c *Codec) Scheme() Scheme {
	return c.scheme
}

// Normalizes reports whether NFC normalization is applied.
func (c *Codec) Normalizes() bool {
	return c.normalize
}

// Encode maps a description to its identifier. Encoding never fails.
// The empty description always yields Zero.
func (c *Codec) Encode(description string) PropertyID {
	if description == "" {
		return Zero
	}
	s := c.prepare(description)

	switch c.scheme {
	case SchemeKeccak:
		return PropertyID(crypto.Keccak256Hash([]byte(s)))
	case SchemeLegacyABI:
		return legacyHead(s)
	default:
		var id PropertyID
		copy(id[:], lengthPrefixed(s))
		return id
	}
}

// Truncates reports whether encoding drops part of the description, i.e.
// whether some other description could share its identifier.
func (c *Codec) Truncates(description string) bool {
	if description == "" {
		return false
	}
	switch c.scheme {
	case SchemeKeccak:
		return false
	case SchemeLegacyABI:
		return true
	default:
		return len(lengthPrefixed(c.prepare(description))) > Size
	}
}

// Collide reports whether two different descriptions map to the same identifier.
func (c *Codec) Collide(a, b string) bool {
	if c.prepare(a) == c.prepare(b) {
		return false
	}
	return c.Encode(a) == c.Encode(b)
}

func (c *Codec) prepare(description string) string {
	if c.normalize {
		return norm.NFC.String(description)
	}
	return description
}

// lengthPrefixed serializes s as uvarint(len(s)) followed by its bytes.
func lengthPrefixed(s string) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(s))
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

var abiString = abi.Arguments{{Type: mustABIType("string")}}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("ident: abi type %q: %v", t, err))
	}
	return typ
}

// legacyHead returns the first 32 bytes of abi.encode(string).
func legacyHead(s string) PropertyID {
	enc, err := abiString.Pack(s)
	if err != nil {
		// Packing a Go string into an ABI string cannot fail.
		panic(fmt.Sprintf("ident: abi pack: %v", err))
	}
	var id PropertyID
	copy(id[:], enc)
	return id
}
