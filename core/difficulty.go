package core

// DifficultyController implements a moving-average proof-of-work
// retarget: a window of blocks' timestamps is used to compute an actual
// average spacing, compared against a fixed target, and the next
// difficulty is the previous one scaled by a factor clamped to [1/4, 4].
type DifficultyController struct {
	window        int
	targetSpacing uint64 // milliseconds
	genesisDiff   uint32

	// timestamps[i] is the timestamp_ms of block i; difficulty[i] is the
	// difficulty that governed block i. Both grow append-only as blocks
	// commit (see RecordBlock).
	timestamps []uint64
	difficulty []uint32

	current uint32 // last difficulty handed to a miner/validator, refreshed at startup
}

// NewDifficultyController constructs a controller with the given window
// length (blocks), target spacing (ms), and genesis difficulty.
func NewDifficultyController(window int, targetSpacingMS uint64, genesisDiff uint32) *DifficultyController {
	return &DifficultyController{
		window:        window,
		targetSpacing: targetSpacingMS,
		genesisDiff:   genesisDiff,
	}
}

// refreshCurrent stores d, the freshly recomputed expected difficulty for
// the current tip, as computed during startup rebuild.
func (d *DifficultyController) refreshCurrent(diff uint32) {
	d.current = diff
}

// Current returns the difficulty last stored by refreshCurrent
// (ExpectedDifficulty does not update it), useful for adapters exposing it
// as a metric.
func (d *DifficultyController) Current() uint32 {
	return d.current
}

// RecordBlock appends a committed block's timestamp and the difficulty
// that governed it, so future ExpectedDifficulty calls can look back over
// the window.
func (d *DifficultyController) RecordBlock(timestampMS uint64, difficulty uint32) {
	d.timestamps = append(d.timestamps, timestampMS)
	d.difficulty = append(d.difficulty, difficulty)
}

// ExpectedDifficulty returns the difficulty a block at height must carry.
func (d *DifficultyController) ExpectedDifficulty(height uint64) uint32 {
	if height < uint64(d.window) || len(d.timestamps) < d.window {
		return d.genesisDiff
	}
	n := len(d.timestamps)
	first := d.timestamps[n-d.window]
	last := d.timestamps[n-1]
	var actualSpacing uint64
	if last > first {
		actualSpacing = (last - first) / uint64(d.window-1)
	}
	if actualSpacing == 0 {
		actualSpacing = 1 // avoid division by zero; this is an extreme-jitter edge case
	}

	prevDiff := d.difficulty[n-1]
	// factor = target / actual, clamped to [1/4, 4], applied as
	// next = prev * factor. Expressed in fixed-point quarters to avoid
	// floating point: factor_q = clamp(target*4/actual, 1, 16) quarters.
	factorQuarters := (d.targetSpacing * 4) / actualSpacing
	if factorQuarters < 1 {
		factorQuarters = 1 // clamp to 1/4 (lower bound)
	}
	if factorQuarters > 16 {
		factorQuarters = 16 // clamp to 4x (upper bound)
	}
	next := uint64(prevDiff) * factorQuarters / 4
	if next > 0xFFFFFFFF {
		next = 0xFFFFFFFF
	}
	if next == 0 && prevDiff > 0 {
		next = 1 // never retarget to zero difficulty once non-zero
	}
	return uint32(next)
}
