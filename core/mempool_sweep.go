package core

import "container/heap"

// rebuildThresholdDivisor controls how eagerly purge/sweep rebuild the heap
// from scratch versus repairing it incrementally — see purgeExpiredLocked.
const rebuildThresholdDivisor = 4

// maybeSweepOrphansLocked runs the orphan sweep whenever orphan_counter
// exceeds size/2. Caller holds mp.mu.
func (mp *Mempool) maybeSweepOrphansLocked() {
	if mp.orphanCounter <= mp.size/2 {
		return
	}
	mp.sweepOrphansLocked()
}

// sweepOrphansLocked walks the map unconditionally, drops every entry whose
// sender is no longer provisioned, rebuilds the heap from survivors, and
// resets orphan_counter. Caller holds mp.mu.
func (mp *Mempool) sweepOrphansLocked() {
	removed := 0
	for key, e := range mp.byKey {
		if _, ok := mp.led.Lookup(key.sender); ok {
			continue
		}
		delete(mp.byKey, key)
		mp.size--
		removed++
		_ = e
	}
	mp.rebuildHeapLocked()
	mp.orphanCounter = 0
	if removed > 0 {
		mp.orphanSweepTotal++
		if mp.telemetry != nil {
			mp.telemetry.IncOrphanSweep()
			mp.telemetry.Span("orphan_sweep", map[string]interface{}{
				"orphan_counter": 0,
				"removed":        removed,
				"size":           mp.size,
			})
		}
	}
}

// rebuildHeapLocked reconstructs mp.heap from the current mp.byKey map in
// O(n). Caller holds mp.mu.
func (mp *Mempool) rebuildHeapLocked() {
	items := make([]*MempoolEntry, 0, len(mp.byKey))
	for _, e := range mp.byKey {
		items = append(items, e)
	}
	mp.heap.items = items
	mp.heap.ttlTick = mp.ttlTicks
	heap.Init(&mp.heap)
}

// PurgeExpired removes every entry whose expires_at is strictly less than
// nowTicks, releasing reservations and advancing ttl_drop_total once per
// removal (saturating). It returns the number of entries dropped.
func (mp *Mempool) PurgeExpired(nowTicks uint64) (dropped int, err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.poisoned {
		return 0, ErrLockPoisoned
	}
	defer mp.recoverPoison(&err)
	dropped = mp.purgeExpiredLocked(nowTicks)
	return dropped, err
}

// purgeExpiredLocked implements TTL-based purge. Rather than popping the
// live min-heap (whose root is the lowest fee_per_byte entry, not
// necessarily the soonest-expiring one once fee_per_byte ties are broken
// by expiry), it scans the map directly and rebuilds or repairs the heap
// afterward. Caller holds mp.mu.
func (mp *Mempool) purgeExpiredLocked(nowTicks uint64) int {
	var expired []*MempoolEntry
	for key, e := range mp.byKey {
		if e.expiresAt(mp.ttlTicks) < nowTicks {
			expired = append(expired, e)
			delete(mp.byKey, key)
		}
	}
	if len(expired) == 0 {
		return 0
	}
	mp.size -= len(expired)
	for _, e := range expired {
		if acc, ok := mp.led.Lookup(e.Tx.Payload.From); ok {
			acc.release(TokenConsumer, e.FeeConsumer+e.Tx.Payload.AmountConsumer)
			acc.release(TokenIndustrial, e.FeeIndustrial+e.Tx.Payload.AmountIndustrial)
			if acc.PendingNonce > 0 {
				acc.PendingNonce--
			}
		}
		mp.ttlDropTotal = satAddU64(mp.ttlDropTotal, 1)
	}

	if len(expired) > mp.heap.Len()/rebuildThresholdDivisor {
		mp.rebuildHeapLocked()
	} else {
		for _, e := range expired {
			if e.heapIndex >= 0 && e.heapIndex < mp.heap.Len() && mp.heap.items[e.heapIndex] == e {
				heap.Remove(&mp.heap, e.heapIndex)
			}
		}
	}

	if mp.telemetry != nil {
		mp.telemetry.IncTTLDrop(uint64(len(expired)))
	}
	return len(expired)
}

// satAddU64 adds b to a, saturating at u64::MAX instead of wrapping.
func satAddU64(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}
