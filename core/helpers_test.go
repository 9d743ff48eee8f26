package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

func testCodec(t *testing.T) CodecConfig {
	t.Helper()
	cfg, err := NewCodecConfig("testnet")
	if err != nil {
		t.Fatalf("NewCodecConfig: %v", err)
	}
	return cfg
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type testSender struct {
	priv ed25519.PrivateKey
	addr Address
}

func newTestSender(t *testing.T) testSender {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk PublicKey
	copy(pk[:], pub)
	return testSender{priv: priv, addr: AddressFromPublicKey(pk)}
}

// signTx builds and signs a transaction from s to `to` with the given
// amounts/fee/selector/nonce, using cfg's domain tag.
func signTx(cfg CodecConfig, s testSender, to Address, amountC, amountI, fee uint64, selector uint8, nonce uint64) SignedTransaction {
	payload := RawTxPayload{
		To:               to,
		AmountConsumer:   amountC,
		AmountIndustrial: amountI,
		Fee:              fee,
		FeeSelector:      selector,
		Nonce:            nonce,
	}
	return cfg.Sign(s.priv, payload)
}

func newMockClock() *clock.Mock {
	return clock.NewMock()
}
