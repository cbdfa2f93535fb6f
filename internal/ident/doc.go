// Package ident derives the fixed-width property identifiers used as keys in the
// on-chain mortgage registry.
//
// An identifier is 32 bytes. The default scheme is positional, not
// cryptographic: the description is serialized with a uvarint length prefix and
// the first 32 bytes of that serialization become the identifier. Descriptions
// of up to 31 bytes survive intact and can be read back out of the identifier;
// longer descriptions are truncated, so two long descriptions that share a
// prefix (and a length) map to the same identifier. Codec.Truncates and
// Codec.Collide make that visible to callers instead of hiding it.
//
// The all-zero identifier (Zero) is reserved as the "no selection" sentinel.
// The empty description maps to it under every scheme and no other description
// does under the default scheme.
//
// # Schemes
//
//   - prefix: length-prefixed truncation (default, wire compatible with the
//     deployed registry keys)
//   - keccak: Keccak-256 of the description bytes; collision resistant but
//     produces different keys for the same property
//   - legacy-abi: first word of the Solidity ABI encoding of the string, which
//     is what the original web client submitted. That word is the dynamic
//     offset, so every non-empty description collapses to the same key. Only
//     useful for looking up records the legacy client wrote.
package ident
