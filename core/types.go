// Package core implements the block kernel: admission, eviction, mining,
// validation and durability for a single-node proof-of-work chain with
// dual-denominated balances.
package core

import (
	"encoding/hex"
	"fmt"
)

// Address is the 32-byte BLAKE3 digest of a public key.
type Address [32]byte

// PublicKey is a fixed-width Ed25519 public key.
type PublicKey [32]byte

// Signature is a fixed-width Ed25519 signature.
type Signature [64]byte

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// IsZero reports whether the address is the all-zero sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex returns the full hexadecimal representation of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Short returns a shortened hex form (first 4 + last 4 hex chars).
func (a Address) Short() string {
	full := hex.EncodeToString(a[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) Short() string {
	full := hex.EncodeToString(h[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}

// Token identifies one of the two ledger denominations.
type Token uint8

const (
	TokenConsumer Token = iota
	TokenIndustrial
)

func (t Token) String() string {
	if t == TokenConsumer {
		return "consumer"
	}
	return "industrial"
}
