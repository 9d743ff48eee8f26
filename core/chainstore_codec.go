package core

import (
	"bytes"
	"encoding/binary"
)

// writeU32 / writeU64 append a little-endian fixed-width integer.
func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, ErrDecode.withf("chainstore: short read")
	}
	return n, nil
}

// writeFramed writes fn's output prefixed with its u32 length, the
// length-prefix-everything convention used throughout the on-disk layout.
func writeFramed(buf *bytes.Buffer, fn func(*bytes.Buffer)) {
	var inner bytes.Buffer
	fn(&inner)
	writeU32(buf, uint32(inner.Len()))
	buf.Write(inner.Bytes())
}

// readFramed reads a u32-length-prefixed byte slice.
func readFramed(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeSignedTx / decodeSignedTx frame a SignedTransaction as
// payload ‖ pubkey ‖ signature using codec's canonical payload encoding.
func encodeSignedTx(codec CodecConfig, tx SignedTransaction) []byte {
	var buf bytes.Buffer
	enc := codec.Encode(tx.Payload)
	writeU32(&buf, uint32(len(enc)))
	buf.Write(enc)
	buf.Write(tx.PublicKey[:])
	buf.Write(tx.Signature[:])
	return buf.Bytes()
}

func decodeSignedTx(codec CodecConfig, b []byte) (SignedTransaction, error) {
	r := bytes.NewReader(b)
	payloadLen, err := readU32(r)
	if err != nil {
		return SignedTransaction{}, err
	}
	payloadBytes := make([]byte, payloadLen)
	if _, err := readFull(r, payloadBytes); err != nil {
		return SignedTransaction{}, err
	}
	payload, err := codec.Decode(payloadBytes)
	if err != nil {
		return SignedTransaction{}, err
	}
	var pub PublicKey
	var sig Signature
	if _, err := readFull(r, pub[:]); err != nil {
		return SignedTransaction{}, err
	}
	if _, err := readFull(r, sig[:]); err != nil {
		return SignedTransaction{}, err
	}
	if r.Len() != 0 {
		return SignedTransaction{}, ErrDecode.withf("decode_signed_tx: trailing bytes")
	}
	return SignedTransaction{Payload: payload, PublicKey: pub, Signature: sig}, nil
}

// encodeBlock / decodeBlock frame a Block as header ‖ tx-count ‖ txs.
func encodeBlock(codec CodecConfig, b Block) []byte {
	var buf bytes.Buffer
	buf.Write(encodeHeader(b.Header))
	writeU32(&buf, uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		enc := encodeSignedTx(codec, tx)
		writeU32(&buf, uint32(len(enc)))
		buf.Write(enc)
	}
	return buf.Bytes()
}

const blockHeaderEncodedLen = 8 + 32 + 8 + 4 + 8 + 8 + 32 + 8

func decodeBlock(codec CodecConfig, b []byte) (Block, error) {
	if len(b) < blockHeaderEncodedLen {
		return Block{}, ErrDecode.withf("decode_block: too short")
	}
	header, err := decodeHeader(b[:blockHeaderEncodedLen])
	if err != nil {
		return Block{}, err
	}
	r := bytes.NewReader(b[blockHeaderEncodedLen:])
	nTx, err := readU32(r)
	if err != nil {
		return Block{}, err
	}
	txs := make([]SignedTransaction, 0, nTx)
	for i := uint32(0); i < nTx; i++ {
		enc, err := readFramed(r)
		if err != nil {
			return Block{}, err
		}
		tx, err := decodeSignedTx(codec, enc)
		if err != nil {
			return Block{}, err
		}
		txs = append(txs, tx)
	}
	if r.Len() != 0 {
		return Block{}, ErrDecode.withf("decode_block: trailing bytes")
	}
	return Block{Header: header, Transactions: txs}, nil
}

// decodeHeader is encodeHeader's inverse.
func decodeHeader(b []byte) (BlockHeader, error) {
	if len(b) != blockHeaderEncodedLen {
		return BlockHeader{}, ErrDecode.withf("decode_header: wrong length %d", len(b))
	}
	var h BlockHeader
	off := 0
	h.Height = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(h.PrevHash[:], b[off:])
	off += 32
	h.TimestampMS = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Difficulty = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.CoinbaseConsumer = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.CoinbaseIndustrial = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(h.FeeChecksum[:], b[off:])
	off += 32
	h.Nonce = binary.LittleEndian.Uint64(b[off:])
	return h, nil
}

func writeAccountRecord(buf *bytes.Buffer, rec accountRecord) {
	buf.Write(rec.Addr[:])
	writeU64(buf, rec.BalanceC)
	writeU64(buf, rec.BalanceI)
	writeU64(buf, rec.Nonce)
	writeU64(buf, rec.PendingC)
	writeU64(buf, rec.PendingI)
	writeU64(buf, rec.PendingNonce)
}

func readAccountRecord(r *bytes.Reader) (accountRecord, error) {
	var rec accountRecord
	if _, err := readFull(r, rec.Addr[:]); err != nil {
		return rec, err
	}
	var err error
	if rec.BalanceC, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.BalanceI, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.Nonce, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.PendingC, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.PendingI, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.PendingNonce, err = readU64(r); err != nil {
		return rec, err
	}
	return rec, nil
}

func writeMempoolRecord(buf *bytes.Buffer, rec mempoolRecord) {
	buf.Write(rec.Sender[:])
	writeU64(buf, rec.Nonce)
	writeU32(buf, uint32(len(rec.TxEncoded)))
	buf.Write(rec.TxEncoded)
	writeU64(buf, rec.TimestampMillis)
	writeU64(buf, rec.TimestampTicks)
}

func readMempoolRecord(r *bytes.Reader) (mempoolRecord, error) {
	var rec mempoolRecord
	if _, err := readFull(r, rec.Sender[:]); err != nil {
		return rec, err
	}
	var err error
	if rec.Nonce, err = readU64(r); err != nil {
		return rec, err
	}
	txLen, err := readU32(r)
	if err != nil {
		return rec, err
	}
	rec.TxEncoded = make([]byte, txLen)
	if _, err := readFull(r, rec.TxEncoded); err != nil {
		return rec, err
	}
	if rec.TimestampMillis, err = readU64(r); err != nil {
		return rec, err
	}
	if rec.TimestampTicks, err = readU64(r); err != nil {
		return rec, err
	}
	return rec, nil
}
