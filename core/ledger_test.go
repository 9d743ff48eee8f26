package core

import "testing"

func TestApplyBlockSupplyNeutrality(t *testing.T) {
	led := NewLedger(testLogger())
	codec := testCodec(t)
	a := newTestSender(t)
	miner := newTestSender(t)

	if err := led.Provision(a.addr, 1000, 1000); err != nil {
		t.Fatalf("provision a: %v", err)
	}
	if err := led.Provision(miner.addr, 0, 0); err != nil {
		t.Fatalf("provision miner: %v", err)
	}

	tx := signTx(codec, a, miner.addr, 100, 0, 10, 0, 1)
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 50_000_010, AmountIndustrial: 50_000_000}}
	block := Block{Header: BlockHeader{Height: 0}, Transactions: []SignedTransaction{coinbase, tx}}

	beforeC, beforeI := led.Emitted()
	if err := led.ApplyBlock(block); err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	afterC, afterI := led.Emitted()

	// Net new emission is the base reward only; the fee component of the
	// coinbase (10 consumer) moves within the account set, it doesn't mint.
	if afterC-beforeC != 50_000_000 {
		t.Fatalf("expected net emission of 50_000_000 consumer units, got %d", afterC-beforeC)
	}
	if afterI-beforeI != 50_000_000 {
		t.Fatalf("expected net emission of 50_000_000 industrial units, got %d", afterI-beforeI)
	}

	aC, aI, _ := led.Balance(a.addr)
	if aC != 1000-110 || aI != 1000 {
		t.Fatalf("sender balance after debit = (%d, %d), want (890, 1000)", aC, aI)
	}
	mC, mI, _ := led.Balance(miner.addr)
	if mC != 100+50_000_010 || mI != 50_000_000 {
		t.Fatalf("miner balance after credit = (%d, %d)", mC, mI)
	}
}

func TestApplyBlockRejectsInsufficientBalance(t *testing.T) {
	led := NewLedger(testLogger())
	codec := testCodec(t)
	a := newTestSender(t)
	miner := newTestSender(t)
	_ = led.Provision(a.addr, 5, 0)
	_ = led.Provision(miner.addr, 0, 0)

	tx := signTx(codec, a, miner.addr, 100, 0, 10, 0, 1)
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 50_000_010, AmountIndustrial: 50_000_000}}
	block := Block{Header: BlockHeader{Height: 0}, Transactions: []SignedTransaction{coinbase, tx}}

	beforeC, beforeI, _ := led.Balance(a.addr)
	if err := led.ApplyBlock(block); CodeOf(err) != CodeInsufficientBalance {
		t.Fatalf("expected CodeInsufficientBalance, got %v", err)
	}
	afterC, afterI, _ := led.Balance(a.addr)
	if afterC != beforeC || afterI != beforeI {
		t.Fatalf("ledger mutated on a rejected block: before (%d,%d) after (%d,%d)", beforeC, beforeI, afterC, afterI)
	}
}

func TestApplyBlockRejectsUnknownRecipient(t *testing.T) {
	led := NewLedger(testLogger())
	codec := testCodec(t)
	a := newTestSender(t)
	miner := newTestSender(t)
	ghost := newTestSender(t)
	_ = led.Provision(a.addr, 1000, 1000)
	_ = led.Provision(miner.addr, 0, 0)

	tx := signTx(codec, a, ghost.addr, 10, 0, 1, 0, 1)
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 50_000_001, AmountIndustrial: 50_000_000}}
	block := Block{Header: BlockHeader{Height: 0}, Transactions: []SignedTransaction{coinbase, tx}}
	if err := led.ApplyBlock(block); CodeOf(err) != CodeUnknownSender {
		t.Fatalf("expected CodeUnknownSender for unprovisioned recipient, got %v", err)
	}
}

func TestApplyBlockRejectsEmptyTransactionList(t *testing.T) {
	led := NewLedger(testLogger())
	if err := led.ApplyBlock(Block{}); err == nil {
		t.Fatalf("expected error for empty transaction list")
	}
}

func TestApplyBlockRejectsCoinbaseSmallerThanFees(t *testing.T) {
	led := NewLedger(testLogger())
	codec := testCodec(t)
	a := newTestSender(t)
	miner := newTestSender(t)
	_ = led.Provision(a.addr, 1000, 1000)
	_ = led.Provision(miner.addr, 0, 0)

	tx := signTx(codec, a, miner.addr, 10, 0, 100, 0, 1)
	// Coinbase carries no fee component at all, but the block's aggregated
	// fee (100) exceeds it.
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 50, AmountIndustrial: 0}}
	block := Block{Header: BlockHeader{Height: 0}, Transactions: []SignedTransaction{coinbase, tx}}
	if err := led.ApplyBlock(block); CodeOf(err) == CodeOK {
		t.Fatalf("expected rejection when coinbase is smaller than aggregated fees")
	}
}
