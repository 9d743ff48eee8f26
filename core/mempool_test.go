package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestMempool(t *testing.T, cfg Config) (*Mempool, *Ledger, *clock.Mock) {
	t.Helper()
	codec := testCodec(t)
	led := NewLedger(testLogger())
	mc := newMockClock()
	tel := NewTelemetry(testLogger())
	mp := NewMempool(cfg, codec, led, mc, tel, testLogger())
	return mp, led, mc
}

func TestMempoolAdmitsAndEvictsLowerPriority(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMempoolSize = 1
	cfg.MinFeePerByte = 0
	mp, led, _ := newTestMempool(t, cfg)
	codec := testCodec(t)

	a := newTestSender(t)
	b := newTestSender(t)
	if err := led.Provision(a.addr, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("provision a: %v", err)
	}
	if err := led.Provision(b.addr, 1_000_000, 1_000_000); err != nil {
		t.Fatalf("provision b: %v", err)
	}

	low := signTx(codec, a, b.addr, 10, 0, 1, 0, 1)
	if err := mp.Submit(low); err != nil {
		t.Fatalf("submit low: %v", err)
	}
	if mp.Size() != 1 {
		t.Fatalf("expected size 1, got %d", mp.Size())
	}

	high := signTx(codec, b, a.addr, 10, 0, 1000, 0, 1)
	if err := mp.Submit(high); err != nil {
		t.Fatalf("submit high: %v", err)
	}
	if mp.Size() != 1 {
		t.Fatalf("expected eviction to keep size at 1, got %d", mp.Size())
	}
	if _, ok := mp.byKey[senderNonceKey{sender: a.addr, nonce: 1}]; ok {
		t.Fatalf("expected lower-priority entry to have been evicted")
	}
}

func TestMempoolRejectsDuplicate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	mp, led, _ := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	_ = led.Provision(a.addr, 1_000_000, 1_000_000)

	tx := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	if err := mp.Submit(tx); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := mp.Submit(tx); CodeOf(err) != CodeDuplicate {
		t.Fatalf("expected CodeDuplicate on resubmit, got %v", err)
	}
}

func TestMempoolRejectsNonceGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	mp, led, _ := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	_ = led.Provision(a.addr, 1_000_000, 1_000_000)

	tx := signTx(codec, a, b.addr, 10, 0, 5, 0, 3) // expected next nonce is 1
	if err := mp.Submit(tx); CodeOf(err) != CodeNonceGap {
		t.Fatalf("expected CodeNonceGap, got %v", err)
	}
}

func TestMempoolRejectsUnknownSender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	mp, _, _ := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	tx := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	if err := mp.Submit(tx); CodeOf(err) != CodeUnknownSender {
		t.Fatalf("expected CodeUnknownSender, got %v", err)
	}
}

func TestMempoolTTLPurge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	cfg.TxTTLSecs = 1
	mp, led, mc := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	_ = led.Provision(a.addr, 1_000_000, 1_000_000)

	tx := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	if err := mp.Submit(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	mc.Add(2 * time.Second)
	dropped, err := mp.PurgeExpired(uint64(mc.Now().UnixNano()))
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", dropped)
	}
	if mp.Size() != 0 {
		t.Fatalf("expected empty pool after purge, got size %d", mp.Size())
	}
}

func TestMempoolPendingCapRejectsOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	cfg.MaxPendingPerAccount = 1
	mp, led, _ := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	_ = led.Provision(a.addr, 1_000_000, 1_000_000)

	tx1 := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	if err := mp.Submit(tx1); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	tx2 := signTx(codec, a, b.addr, 10, 0, 5, 0, 2)
	if err := mp.Submit(tx2); CodeOf(err) != CodePendingLimit {
		t.Fatalf("expected CodePendingLimit, got %v", err)
	}
}

func TestMempoolDrainForMiningRespectsNonceContiguity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	cfg.MaxPendingPerAccount = 10
	mp, led, _ := newTestMempool(t, cfg)
	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	_ = led.Provision(a.addr, 1_000_000, 1_000_000)

	tx1 := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	tx2 := signTx(codec, a, b.addr, 10, 0, 5, 0, 2)
	tx3 := signTx(codec, a, b.addr, 10, 0, 50, 0, 3)
	if err := mp.Submit(tx1); err != nil {
		t.Fatalf("submit tx1: %v", err)
	}
	if err := mp.Submit(tx2); err != nil {
		t.Fatalf("submit tx2: %v", err)
	}
	if err := mp.Submit(tx3); err != nil {
		t.Fatalf("submit tx3: %v", err)
	}
	// Admission rejects gaps, so open one after the fact: the pool now
	// holds nonces 1 and 3 with a gap at nonce 2.
	if err := mp.Drop(a.addr, 2); err != nil {
		t.Fatalf("drop tx2: %v", err)
	}

	drained := mp.DrainForMining(10)
	if len(drained) != 1 {
		t.Fatalf("expected only the contiguous nonce-1 entry to drain, got %d entries", len(drained))
	}
	if drained[0].Entry.Tx.Payload.Nonce != 1 {
		t.Fatalf("expected nonce 1 to drain, got %d", drained[0].Entry.Tx.Payload.Nonce)
	}
}

func TestMempoolHealClearsPoison(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFeePerByte = 0
	mp, _, _ := newTestMempool(t, cfg)
	mp.mu.Lock()
	mp.poisoned = true
	mp.mu.Unlock()

	codec := testCodec(t)
	a := newTestSender(t)
	b := newTestSender(t)
	tx := signTx(codec, a, b.addr, 10, 0, 5, 0, 1)
	if err := mp.Submit(tx); CodeOf(err) != CodeLockPoisoned {
		t.Fatalf("expected CodeLockPoisoned before Heal, got %v", err)
	}
	mp.Heal()
	if err := mp.Submit(tx); CodeOf(err) != CodeUnknownSender {
		t.Fatalf("expected normal admission flow to resume after Heal, got %v", err)
	}
}
