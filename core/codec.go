package core

import (
	"encoding/binary"
	"fmt"
)

// maxMemoLen is the hard cap on RawTxPayload.Memo.
const maxMemoLen = 140

// CodecConfig is the single encoding configuration resolved once per
// process and threaded through every call site, forbidding accidental use
// of an unconfigured default. Construct it once via NewCodecConfig and
// pass it to every component that signs, hashes or (de)serializes a
// payload.
type CodecConfig struct {
	// ChainID is embedded in the domain tag to prevent cross-network
	// signature replay.
	ChainID string
}

// NewCodecConfig resolves the process-wide codec configuration. chainID
// must be non-empty; it becomes part of every signing preimage.
func NewCodecConfig(chainID string) (CodecConfig, error) {
	if chainID == "" {
		return CodecConfig{}, fmt.Errorf("codec: chain_id must not be empty")
	}
	return CodecConfig{ChainID: chainID}, nil
}

// DomainTag returns "THE_BLOCKv2|<chain_id>|", embedded ahead of every
// canonical payload before hashing for signatures.
func (c CodecConfig) DomainTag() []byte {
	return []byte("THE_BLOCKv2|" + c.ChainID + "|")
}

// RawTxPayload is the canonical, fixed-width (save for Memo) transaction
// body signed by the sender. All integers are little-endian.
type RawTxPayload struct {
	From             Address
	To               Address
	AmountConsumer   uint64
	AmountIndustrial uint64
	Fee              uint64
	FeeSelector      uint8
	Nonce            uint64
	Memo             []byte
}

// rawTxFixedLen is the length of every field except the length-prefixed
// memo: from(32) + to(32) + amount_c(8) + amount_i(8) + fee(8) +
// selector(1) + nonce(8).
const rawTxFixedLen = 32 + 32 + 8 + 8 + 8 + 1 + 8

// Encode produces the canonical byte representation of the payload. The
// encoding is total: every valid payload maps to exactly one byte string.
func (c CodecConfig) Encode(p RawTxPayload) []byte {
	out := make([]byte, rawTxFixedLen+2+len(p.Memo))
	off := 0
	copy(out[off:], p.From[:])
	off += 32
	copy(out[off:], p.To[:])
	off += 32
	binary.LittleEndian.PutUint64(out[off:], p.AmountConsumer)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], p.AmountIndustrial)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], p.Fee)
	off += 8
	out[off] = p.FeeSelector
	off++
	binary.LittleEndian.PutUint64(out[off:], p.Nonce)
	off += 8
	binary.LittleEndian.PutUint16(out[off:], uint16(len(p.Memo)))
	off += 2
	copy(out[off:], p.Memo)
	return out
}

// Decode parses the canonical encoding produced by Encode, rejecting any
// trailing bytes, any memo exceeding maxMemoLen, and any selector outside
// {0,1,2}.
func (c CodecConfig) Decode(b []byte) (RawTxPayload, error) {
	var p RawTxPayload
	if len(b) < rawTxFixedLen+2 {
		return p, ErrDecode.withf("decode: payload too short (%d bytes)", len(b))
	}
	off := 0
	copy(p.From[:], b[off:off+32])
	off += 32
	copy(p.To[:], b[off:off+32])
	off += 32
	p.AmountConsumer = binary.LittleEndian.Uint64(b[off:])
	off += 8
	p.AmountIndustrial = binary.LittleEndian.Uint64(b[off:])
	off += 8
	p.Fee = binary.LittleEndian.Uint64(b[off:])
	off += 8
	p.FeeSelector = b[off]
	off++
	p.Nonce = binary.LittleEndian.Uint64(b[off:])
	off += 8
	memoLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if memoLen > maxMemoLen {
		return RawTxPayload{}, ErrDecode.withf("decode: memo length %d exceeds %d", memoLen, maxMemoLen)
	}
	if off+memoLen != len(b) {
		return RawTxPayload{}, ErrDecode.withf("decode: trailing bytes (have %d, want %d)", len(b), off+memoLen)
	}
	if p.FeeSelector > 2 {
		return RawTxPayload{}, ErrDecode.withf("decode: fee_selector %d not in {0,1,2}", p.FeeSelector)
	}
	p.Memo = append([]byte(nil), b[off:off+memoLen]...)
	return p, nil
}
