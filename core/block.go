package core

import (
	"encoding/binary"
	"math/bits"
)

// BlockHeader is everything that gets hashed to produce Block.Hash, save
// the transaction list itself (which is represented only via
// FeeChecksum + the coinbase fields).
type BlockHeader struct {
	Height            uint64
	PrevHash          Hash
	TimestampMS       uint64
	Difficulty        uint32
	CoinbaseConsumer  uint64
	CoinbaseIndustrial uint64
	FeeChecksum       Hash
	Nonce             uint64
}

// Block is an immutable, mined or imported chain element.
type Block struct {
	Header       BlockHeader
	Transactions []SignedTransaction // Transactions[0] is the coinbase
}

// encodeHeader produces the canonical little-endian byte representation of
// a header for hashing: every field is fixed-width little-endian, no
// implicit default.
func encodeHeader(h BlockHeader) []byte {
	out := make([]byte, 8+32+8+4+8+8+32+8)
	off := 0
	binary.LittleEndian.PutUint64(out[off:], h.Height)
	off += 8
	copy(out[off:], h.PrevHash[:])
	off += 32
	binary.LittleEndian.PutUint64(out[off:], h.TimestampMS)
	off += 8
	binary.LittleEndian.PutUint32(out[off:], h.Difficulty)
	off += 4
	binary.LittleEndian.PutUint64(out[off:], h.CoinbaseConsumer)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], h.CoinbaseIndustrial)
	off += 8
	copy(out[off:], h.FeeChecksum[:])
	off += 32
	binary.LittleEndian.PutUint64(out[off:], h.Nonce)
	return out
}

// HashHeader computes the block hash: BLAKE3 over the canonical header
// encoding.
func HashHeader(h BlockHeader) Hash {
	return Hash256(encodeHeader(h))
}

// Hash returns the block's header hash.
func (b Block) Hash() Hash {
	return HashHeader(b.Header)
}

// LeadingZeroBits returns the number of leading zero bits in h, used by the
// miner and validator to check proof-of-work satisfaction.
func LeadingZeroBits(h Hash) uint32 {
	var total uint32
	for _, byt := range h {
		if byt == 0 {
			total += 8
			continue
		}
		total += uint32(bits.LeadingZeros8(byt))
		break
	}
	return total
}

// MeetsDifficulty reports whether h has at least `difficulty` leading zero
// bits.
func MeetsDifficulty(h Hash, difficulty uint32) bool {
	return LeadingZeroBits(h) >= difficulty
}
