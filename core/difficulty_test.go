package core

import "testing"

func TestDifficultyControllerGenesisWindowReturnsGenesisDifficulty(t *testing.T) {
	d := NewDifficultyController(4, 1000, 100)
	for h := uint64(0); h < 4; h++ {
		if got := d.ExpectedDifficulty(h); got != 100 {
			t.Fatalf("ExpectedDifficulty(%d) = %d, want genesis difficulty 100 (insufficient window)", h, got)
		}
	}
}

func TestDifficultyControllerClampsToFourX(t *testing.T) {
	d := NewDifficultyController(4, 1000, 1000)
	// Four blocks mined almost instantaneously (10ms spacing vs a 1000ms
	// target) would naively imply a 100x retarget; the clamp caps it at 4x.
	ts := []uint64{0, 10, 20, 30}
	for i, tsv := range ts {
		d.RecordBlock(tsv, 1000)
		_ = i
	}
	got := d.ExpectedDifficulty(4)
	want := uint32(4000) // 1000 * 4, the upper clamp
	if got != want {
		t.Fatalf("ExpectedDifficulty = %d, want %d (clamped to 4x)", got, want)
	}
}

func TestDifficultyControllerClampsToQuarterX(t *testing.T) {
	d := NewDifficultyController(4, 1000, 1000)
	// Blocks mined far slower than target (100s spacing vs 1s target) would
	// naively imply a 1/100 retarget; the clamp floors it at 1/4.
	ts := []uint64{0, 100_000, 200_000, 300_000}
	for _, tsv := range ts {
		d.RecordBlock(tsv, 1000)
	}
	got := d.ExpectedDifficulty(4)
	want := uint32(250) // 1000 / 4, the lower clamp
	if got != want {
		t.Fatalf("ExpectedDifficulty = %d, want %d (clamped to 1/4x)", got, want)
	}
}

func TestDifficultyControllerStableSpacingHoldsDifficulty(t *testing.T) {
	d := NewDifficultyController(4, 1000, 1000)
	ts := []uint64{0, 1000, 2000, 3000}
	for _, tsv := range ts {
		d.RecordBlock(tsv, 1000)
	}
	if got := d.ExpectedDifficulty(4); got != 1000 {
		t.Fatalf("ExpectedDifficulty = %d, want 1000 (unchanged at target spacing)", got)
	}
}

func TestDifficultyControllerNeverRetargetsToZero(t *testing.T) {
	d := NewDifficultyController(2, 1000, 1)
	ts := []uint64{0, 1_000_000}
	for _, tsv := range ts {
		d.RecordBlock(tsv, 1)
	}
	if got := d.ExpectedDifficulty(2); got == 0 {
		t.Fatalf("ExpectedDifficulty must never retarget a non-zero difficulty to zero, got 0")
	}
}
