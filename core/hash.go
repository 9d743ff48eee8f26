package core

import (
	"crypto/ed25519"

	"lukechampine.com/blake3"
)

// Hash256 computes the 32-byte BLAKE3 digest of b. Every hash in this
// kernel — transaction ids, block headers, the fee checksum — goes through
// this single entry point so implementations stay byte-for-byte comparable.
func Hash256(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

// hashConcat hashes the concatenation of parts without an intermediate
// allocation-heavy append chain.
func hashConcat(parts ...[]byte) Hash {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Verify performs strict, non-malleable Ed25519 verification. Go's
// crypto/ed25519.Verify already rejects non-canonical signature encodings
// per RFC 8032's cofactored verification equation, so no supplementary
// malleability check is required.
func Verify(pub PublicKey, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// AddressFromPublicKey derives the 32-byte address as BLAKE3(pubkey).
func AddressFromPublicKey(pub PublicKey) Address {
	return Address(Hash256(pub[:]))
}
