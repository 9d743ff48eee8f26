package core

// migrationFn transforms a decoded snapshot body from one schema version
// to the next. Every migration is a pure function, run in a temp location
// before the atomic swap.
type migrationFn func(snapshotBody) (snapshotBody, error)

// migrations maps "from version" to the function producing "from+1".
// Only 3→4 carries a real transform (mempool entries gaining
// timestamp_ticks); 1→2 and 2→3 are identity transforms kept as contract
// scaffolding so the migration chain is total over every version this
// store's on-disk format has ever claimed to support.
var migrations = map[uint32]migrationFn{
	1: identityMigration,
	2: identityMigration,
	3: migrateV3ToV4,
}

func identityMigration(body snapshotBody) (snapshotBody, error) {
	return body, nil
}

// migrateV3ToV4 allocates fresh timestamp_ticks for every mempool entry,
// monotonically starting from max_existing_tick + 1. v3 snapshots
// (pre-dating this field) always arrive with TimestampTicks == 0 for every
// entry, so "existing" ticks contribute nothing and the allocation simply
// starts at 1.
func migrateV3ToV4(body snapshotBody) (snapshotBody, error) {
	var maxTick uint64
	for _, e := range body.MempoolEntries {
		if e.TimestampTicks > maxTick {
			maxTick = e.TimestampTicks
		}
	}
	next := maxTick + 1
	for i := range body.MempoolEntries {
		if body.MempoolEntries[i].TimestampTicks == 0 {
			body.MempoolEntries[i].TimestampTicks = next
			next++
		}
	}
	return body, nil
}

// migrate runs every migration from "from" up to (but not including)
// "to", in order, recomputing fee_checksum on every historical block to
// confirm fee_c + fee_i == fee still holds (trivially true here since the
// encoding itself never changes shape across these versions — only the
// mempool record gains a field — but the recompute runs regardless so a
// future migration that does reshape blocks inherits the same
// discipline).
func migrate(from, to uint32, body snapshotBody) (snapshotBody, error) {
	for v := from; v < to; v++ {
		fn, ok := migrations[v]
		if !ok {
			return body, ErrUnknownSchema.withf("migrate: no migration registered from schema version %d", v)
		}
		var err error
		body, err = fn(body)
		if err != nil {
			return body, err
		}
	}
	for _, b := range body.Blocks {
		feeAcc := NewFeeAccumulator()
		for _, tx := range b.Transactions[1:] {
			feeC, feeI, err := DecomposeFee(tx.Payload.FeeSelector, tx.Payload.Fee)
			if err != nil {
				return body, err
			}
			feeAcc.Add(feeC, feeI)
		}
		if feeAcc.Checksum() != b.Header.FeeChecksum {
			return body, ErrInvalidBlock.withf("migrate: historical block at height %d fails fee checksum verification after migration", b.Header.Height)
		}
	}
	return body, nil
}
