package core

import "crypto/ed25519"

// SignedTransaction bundles a canonical payload with the public key that
// authorizes it and the signature over domain_tag ‖ canonical(payload).
type SignedTransaction struct {
	Payload   RawTxPayload
	PublicKey PublicKey
	Signature Signature
}

// ID computes tx.id() = blake3("TX" ‖ canonical(payload) ‖ pubkey).
func (cfg CodecConfig) ID(tx SignedTransaction) Hash {
	return hashConcat([]byte("TX"), cfg.Encode(tx.Payload), tx.PublicKey[:])
}

// SigningPreimage returns domain_tag ‖ encode(payload), the exact bytes an
// Ed25519 signature over a transaction must cover.
func (cfg CodecConfig) SigningPreimage(p RawTxPayload) []byte {
	tag := cfg.DomainTag()
	body := cfg.Encode(p)
	out := make([]byte, 0, len(tag)+len(body))
	out = append(out, tag...)
	out = append(out, body...)
	return out
}

// VerifySignature checks that tx.Signature is a valid Ed25519 signature by
// tx.PublicKey over cfg.SigningPreimage(tx.Payload).
func (cfg CodecConfig) VerifySignature(tx SignedTransaction) bool {
	return Verify(tx.PublicKey, cfg.SigningPreimage(tx.Payload), tx.Signature)
}

// Sign produces a SignedTransaction for payload using priv, setting From
// to the address derived from priv's public key. It is a test/fixture
// helper — key generation and wallet storage are external collaborators,
// so production signing happens outside this package.
func (cfg CodecConfig) Sign(priv ed25519.PrivateKey, payload RawTxPayload) SignedTransaction {
	var pubKey PublicKey
	copy(pubKey[:], priv.Public().(ed25519.PublicKey))
	payload.From = AddressFromPublicKey(pubKey)
	sigBytes := ed25519.Sign(priv, cfg.SigningPreimage(payload))
	var sig Signature
	copy(sig[:], sigBytes)
	return SignedTransaction{Payload: payload, PublicKey: pubKey, Signature: sig}
}

// SerializedSize returns the canonical encoded byte length of tx's payload
// (public key and signature are not counted), used for
// fee-per-byte computation without re-encoding (MempoolEntry.SerializedSize).
func (cfg CodecConfig) SerializedSize(tx SignedTransaction) int {
	return len(cfg.Encode(tx.Payload))
}
