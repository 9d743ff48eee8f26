package core

import (
	"bytes"
	"testing"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	cfg := testCodec(t)
	p := RawTxPayload{
		From:             Address{1, 2, 3},
		To:               Address{4, 5, 6},
		AmountConsumer:   1234,
		AmountIndustrial: 5678,
		Fee:              42,
		FeeSelector:      2,
		Nonce:            7,
		Memo:             []byte("hello"),
	}
	enc := cfg.Encode(p)
	got, err := cfg.Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != p {
		if !bytes.Equal(got.Memo, p.Memo) || got.From != p.From || got.To != p.To ||
			got.AmountConsumer != p.AmountConsumer || got.AmountIndustrial != p.AmountIndustrial ||
			got.Fee != p.Fee || got.FeeSelector != p.FeeSelector || got.Nonce != p.Nonce {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestCodecDecodeRejectsTrailingBytes(t *testing.T) {
	cfg := testCodec(t)
	enc := cfg.Encode(RawTxPayload{})
	enc = append(enc, 0xFF)
	if _, err := cfg.Decode(enc); CodeOf(err) == CodeOK {
		t.Fatalf("expected decode error for trailing bytes")
	}
}

func TestCodecDecodeRejectsBadSelector(t *testing.T) {
	cfg := testCodec(t)
	enc := cfg.Encode(RawTxPayload{FeeSelector: 0})
	enc[rawTxFixedLen-8-1] = 9 // overwrite the selector byte
	if _, err := cfg.Decode(enc); err == nil {
		t.Fatalf("expected decode error for out-of-range selector")
	}
}

func TestSignAndVerify(t *testing.T) {
	cfg := testCodec(t)
	s := newTestSender(t)
	to := newTestSender(t)
	tx := signTx(cfg, s, to.addr, 1, 2, 3, 0, 1)
	if !cfg.VerifySignature(tx) {
		t.Fatalf("expected valid signature to verify")
	}
	if tx.Payload.From != s.addr {
		t.Fatalf("Sign did not set From to the signer's derived address")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	cfg := testCodec(t)
	s := newTestSender(t)
	to := newTestSender(t)
	tx := signTx(cfg, s, to.addr, 1, 2, 3, 0, 1)
	tx.Payload.AmountConsumer = 999
	if cfg.VerifySignature(tx) {
		t.Fatalf("expected tampered payload to fail verification")
	}
}

func FuzzCodecRoundTrip(f *testing.F) {
	cfg, _ := NewCodecConfig("fuzznet")
	f.Add(uint64(1), uint64(2), uint64(3), uint8(0), uint64(4), []byte("memo"))
	f.Fuzz(func(t *testing.T, ac, ai, fee uint64, selector uint8, nonce uint64, memo []byte) {
		if len(memo) > maxMemoLen {
			memo = memo[:maxMemoLen]
		}
		p := RawTxPayload{AmountConsumer: ac, AmountIndustrial: ai, Fee: fee, FeeSelector: selector % 3, Nonce: nonce, Memo: memo}
		enc := cfg.Encode(p)
		got, err := cfg.Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.AmountConsumer != p.AmountConsumer || got.AmountIndustrial != p.AmountIndustrial ||
			got.Fee != p.Fee || got.FeeSelector != p.FeeSelector || got.Nonce != p.Nonce {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
		}
	})
}
