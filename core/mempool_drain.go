package core

import "sort"

// DrainedTx is one entry selected by DrainForMining: the signed
// transaction plus its decomposed fee, so the miner never has to
// re-decompose (and potentially re-validate) the selector.
type DrainedTx struct {
	Entry         *MempoolEntry
	FeeConsumer   uint64
	FeeIndustrial uint64
}

// DrainForMining returns up to budget entries in priority order, grouped
// per-sender and sorted by nonce ascending, skipping any entry that would
// introduce a nonce gap relative to the sender's confirmed nonce. The pool
// itself is left unmodified — removal happens only once the assembled
// block is committed.
//
// Each sender's pool entries form a nonce-ascending queue; only the queue
// head can ever be selected, and selecting it advances the queue, so a
// later (higher-nonce) entry for a sender can never be chosen ahead of an
// earlier one still sitting in the pool — contiguity is structural, not a
// post-hoc filter.
func (mp *Mempool) DrainForMining(budget int) []DrainedTx {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.maybeSweepOrphansLocked()

	perSender := make(map[Address][]*MempoolEntry)
	for _, e := range mp.byKey {
		sender := e.Tx.Payload.From
		perSender[sender] = append(perSender[sender], e)
	}
	for sender, list := range perSender {
		sort.Slice(list, func(i, j int) bool {
			return list[i].Tx.Payload.Nonce < list[j].Tx.Payload.Nonce
		})
		perSender[sender] = list
	}

	headIdx := make(map[Address]int, len(perSender))
	nextWant := make(map[Address]uint64, len(perSender))
	for sender := range perSender {
		headIdx[sender] = 0
		if acc, ok := mp.led.Lookup(sender); ok {
			nextWant[sender] = acc.Nonce + 1
		} else {
			nextWant[sender] = 0 // orphan: no valid nonce can ever match, queue stays blocked
		}
	}

	selected := make([]DrainedTx, 0, budget)
	for len(selected) < budget {
		var bestSender Address
		var best *MempoolEntry
		found := false
		for sender, list := range perSender {
			idx := headIdx[sender]
			if idx >= len(list) {
				continue
			}
			head := list[idx]
			if head.Tx.Payload.Nonce != nextWant[sender] {
				continue // gap: this sender's queue is stuck until the pool fills it or it expires
			}
			if !found || entryLess(best, head, mp.ttlTicks) {
				best = head
				bestSender = sender
				found = true
			}
		}
		if !found {
			break
		}
		feeC, feeI, err := DecomposeFee(best.Tx.Payload.FeeSelector, best.Tx.Payload.Fee)
		if err != nil {
			// Stateless-invalid entries should never have been admitted;
			// skip defensively rather than block the sender's queue forever.
			headIdx[bestSender]++
			nextWant[bestSender] = best.Tx.Payload.Nonce + 1
			continue
		}
		selected = append(selected, DrainedTx{Entry: best, FeeConsumer: feeC, FeeIndustrial: feeI})
		headIdx[bestSender]++
		nextWant[bestSender] = best.Tx.Payload.Nonce + 1
	}

	return selected
}
