package core

import "testing"

func TestDecomposeFeeSelectors(t *testing.T) {
	cases := []struct {
		selector       uint8
		fee            uint64
		wantC, wantI   uint64
	}{
		{0, 100, 100, 0},
		{1, 100, 0, 100},
		{2, 100, 50, 50},
		{2, 101, 51, 50}, // odd unit goes to consumer
		{0, 0, 0, 0},
	}
	for _, c := range cases {
		gotC, gotI, err := DecomposeFee(c.selector, c.fee)
		if err != nil {
			t.Fatalf("DecomposeFee(%d, %d): unexpected error %v", c.selector, c.fee, err)
		}
		if gotC != c.wantC || gotI != c.wantI {
			t.Fatalf("DecomposeFee(%d, %d) = (%d, %d), want (%d, %d)", c.selector, c.fee, gotC, gotI, c.wantC, c.wantI)
		}
		if gotC+gotI != c.fee {
			t.Fatalf("fee decomposition dropped or invented units: %d + %d != %d", gotC, gotI, c.fee)
		}
	}
}

func TestDecomposeFeeInvalidSelector(t *testing.T) {
	if _, _, err := DecomposeFee(3, 10); CodeOf(err) != CodeInvalidSelector {
		t.Fatalf("expected CodeInvalidSelector, got %v", err)
	}
}

func TestDecomposeFeeTooLarge(t *testing.T) {
	if _, _, err := DecomposeFee(0, maxFee); CodeOf(err) != CodeFeeTooLarge {
		t.Fatalf("expected CodeFeeTooLarge, got %v", err)
	}
}

func TestFeeAccumulatorChecksumDeterministic(t *testing.T) {
	a := NewFeeAccumulator()
	a.Add(10, 20)
	a.Add(5, 5)
	b := NewFeeAccumulator()
	b.Add(15, 25)
	if a.Checksum() != b.Checksum() {
		t.Fatalf("checksums of equal totals differ: %x vs %x", a.Checksum(), b.Checksum())
	}
	c, i, err := a.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if c != 15 || i != 25 {
		t.Fatalf("Totals() = (%d, %d), want (15, 25)", c, i)
	}
}

func TestFeeAccumulatorOverflow(t *testing.T) {
	a := NewFeeAccumulator()
	a.Add(MaxSupply, 0)
	a.Add(1, 0)
	if _, _, err := a.Totals(); CodeOf(err) != CodeFeeOverflow {
		t.Fatalf("expected CodeFeeOverflow, got %v", err)
	}
}
