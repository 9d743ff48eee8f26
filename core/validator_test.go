package core

import (
	"testing"
	"time"
)

func newTestValidator(t *testing.T) (*Validator, *Ledger, CodecConfig) {
	t.Helper()
	codec := testCodec(t)
	led := NewLedger(testLogger())
	diff := NewDifficultyController(100, 1000, 0) // genesis difficulty 0, window never reached in these tests
	val := NewValidator(led, diff, codec, NewRealClock(), testLogger(), Hash{})
	return val, led, codec
}

func validBlockFixture(t *testing.T, codec CodecConfig, led *Ledger) (Block, testSender, testSender) {
	t.Helper()
	a := newTestSender(t)
	miner := newTestSender(t)
	if err := led.Provision(a.addr, 1000, 1000); err != nil {
		t.Fatalf("provision a: %v", err)
	}
	if err := led.Provision(miner.addr, 0, 0); err != nil {
		t.Fatalf("provision miner: %v", err)
	}
	tx := signTx(codec, a, miner.addr, 10, 0, 10, 0, 1)
	feeAcc := NewFeeAccumulator()
	feeAcc.Add(10, 0)
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 1000, AmountIndustrial: 0}}
	block := Block{
		Header: BlockHeader{
			Height:             0,
			TimestampMS:        uint64(time.Now().UnixMilli()),
			Difficulty:         0,
			CoinbaseConsumer:   1000,
			CoinbaseIndustrial: 0,
			FeeChecksum:        feeAcc.Checksum(),
		},
		Transactions: []SignedTransaction{coinbase, tx},
	}
	return block, a, miner
}

func TestValidateBlockAcceptsWellFormedBlock(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	if err := val.ValidateBlock(block, 0); err != nil {
		t.Fatalf("expected valid block to pass validation, got %v", err)
	}
}

func TestValidateBlockRejectsEmptyTransactionList(t *testing.T) {
	val, _, _ := newTestValidator(t)
	if err := val.ValidateBlock(Block{}, 0); err == nil {
		t.Fatalf("expected rejection of empty transaction list")
	}
}

func TestValidateBlockRejectsNonMonotonicTimestamp(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	val.SetPrevTimestamp(block.Header.TimestampMS + 1)
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of non-increasing timestamp")
	}
}

func TestValidateBlockRejectsExcessiveClockSkew(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	block.Header.TimestampMS = uint64(time.Now().Add(time.Hour).UnixMilli())
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of a block stamped an hour in the future")
	}
}

func TestValidateBlockRejectsDifficultyMismatch(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	block.Header.Difficulty = 5
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection when header difficulty disagrees with the controller's expectation")
	}
}

func TestValidateBlockRejectsUnmetPoW(t *testing.T) {
	codec := testCodec(t)
	led := NewLedger(testLogger())
	diff := NewDifficultyController(100, 1000, 200) // 200 leading zero bits is unreachable by chance
	val := NewValidator(led, diff, codec, NewRealClock(), testLogger(), Hash{})
	block, _, _ := validBlockFixture(t, codec, led)
	block.Header.Difficulty = 200
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of a block whose hash does not meet the claimed difficulty")
	}
}

func TestValidateBlockRejectsDuplicateNonceWithinBlock(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, a, miner := validBlockFixture(t, codec, led)
	dup := signTx(codec, a, miner.addr, 1, 0, 1, 0, 1) // same nonce as the fixture's tx
	block.Transactions = append(block.Transactions, dup)
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of duplicate (sender, nonce) within a block")
	}
}

func TestValidateBlockRejectsNonceGap(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, a, miner := validBlockFixture(t, codec, led)
	gapTx := signTx(codec, a, miner.addr, 1, 0, 1, 0, 3) // skips nonce 2
	block.Transactions = append(block.Transactions, gapTx)
	if CodeOf(val.ValidateBlock(block, 0)) != CodeNonceGap {
		t.Fatalf("expected CodeNonceGap for a within-block nonce gap")
	}
}

func TestValidateBlockRejectsBadSignature(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	block.Transactions[1].Payload.AmountConsumer = 999 // invalidates the signature without re-signing
	if CodeOf(val.ValidateBlock(block, 0)) != CodeBadSignature {
		t.Fatalf("expected CodeBadSignature for a tampered, unsigned-over field")
	}
}

func TestValidateBlockRejectsFeeChecksumMismatch(t *testing.T) {
	val, led, codec := newTestValidator(t)
	block, _, _ := validBlockFixture(t, codec, led)
	block.Header.FeeChecksum = Hash{0xFF}
	if err := val.ValidateBlock(block, 0); err == nil {
		t.Fatalf("expected rejection of a mismatched fee_checksum")
	}
}

func TestValidateBlockRejectsInsufficientBalanceViaStatefulDryRun(t *testing.T) {
	val, led, codec := newTestValidator(t)
	a := newTestSender(t)
	miner := newTestSender(t)
	_ = led.Provision(a.addr, 5, 0) // too little to cover amount+fee
	_ = led.Provision(miner.addr, 0, 0)

	tx := signTx(codec, a, miner.addr, 100, 0, 10, 0, 1)
	feeAcc := NewFeeAccumulator()
	feeAcc.Add(10, 0)
	coinbase := SignedTransaction{Payload: RawTxPayload{To: miner.addr, AmountConsumer: 1000, AmountIndustrial: 0}}
	block := Block{
		Header: BlockHeader{
			TimestampMS: uint64(time.Now().UnixMilli()),
			Difficulty:  0,
			CoinbaseConsumer: 1000,
			FeeChecksum: feeAcc.Checksum(),
		},
		Transactions: []SignedTransaction{coinbase, tx},
	}
	if CodeOf(val.ValidateBlock(block, 0)) != CodeInsufficientBalance {
		t.Fatalf("expected CodeInsufficientBalance via the stateful dry run")
	}
}
