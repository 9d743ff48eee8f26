package core

import (
	"container/heap"

	"github.com/sirupsen/logrus"
)

// txSizeAndHash recomputes a transaction's canonical size and id using mp's
// resolved codec config. Both are needed before any lock is taken (the
// stateless checks of admission step 1 run lock-free).
func (mp *Mempool) txSizeAndHash(tx SignedTransaction) (size int, id Hash) {
	return mp.cfg_.SerializedSize(tx), mp.cfg_.ID(tx)
}

// Submit runs the admission algorithm against tx and, on success, reserves
// its balance/nonce footprint and inserts it into the pool. Submit is safe
// for concurrent use.
func (mp *Mempool) Submit(tx SignedTransaction) error {
	// Step 1: stateless checks, performed lock-free.
	if tx.Payload.FeeSelector > 2 {
		return ErrInvalidSelector
	}
	if tx.Payload.Fee >= maxFee {
		return ErrFeeTooLarge
	}
	if !mp.cfg_.VerifySignature(tx) {
		return ErrBadSignature
	}
	if len(tx.Payload.Memo) > maxMemoLen {
		return ErrDecode.withf("submit: memo exceeds %d bytes", maxMemoLen)
	}
	size, id := mp.txSizeAndHash(tx)
	if cmpFeePerByte(tx.Payload.Fee, size, mp.cfg.MinFeePerByte, 1) < 0 {
		return ErrFeeTooLow
	}

	// Step 2: acquire the mempool primitive, then the sender primitive — in
	// that order, both held for the entire admission.
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.poisoned {
		mp.recordRejection(CodeLockPoisoned)
		return ErrLockPoisoned
	}
	sLock := mp.senderLock(tx.Payload.From)
	sLock.Lock()
	defer sLock.Unlock()

	return mp.submitLocked(tx, size, id)
}

// submitLocked performs steps 3-9 of admission. Both the mempool primitive
// and tx.Payload.From's sender primitive are held by the caller for the
// entire call; any panic here is recovered by submitLocked's own deferred
// recoverPoison, which marks the mempool primitive poisoned.
func (mp *Mempool) submitLocked(tx SignedTransaction, size int, id Hash) (err error) {
	defer mp.recoverPoison(&err)

	// Step 3: look up sender.
	acc, ok := mp.led.Lookup(tx.Payload.From)
	if !ok {
		mp.orphanCounter++
		mp.recordRejection(CodeUnknownSender)
		return ErrUnknownSender
	}

	// Step 4: nonce continuity.
	expected := acc.Nonce + acc.PendingNonce + 1
	if tx.Payload.Nonce != expected {
		mp.recordRejection(CodeNonceGap)
		return ErrNonceGap
	}

	// Step 5: per-account pending cap.
	if int(acc.PendingNonce) >= mp.cfg.MaxPendingPerAccount {
		mp.recordRejection(CodePendingLimit)
		return ErrPendingLimit
	}

	// Step 6: decompose fee, check available balance.
	feeC, feeI, ferr := DecomposeFee(tx.Payload.FeeSelector, tx.Payload.Fee)
	if ferr != nil {
		mp.recordRejection(CodeOf(ferr))
		return ferr
	}
	needC := tx.Payload.AmountConsumer + feeC
	needI := tx.Payload.AmountIndustrial + feeI
	if needC < tx.Payload.AmountConsumer || needI < tx.Payload.AmountIndustrial {
		mp.recordRejection(CodeBalanceOverflow)
		return ErrBalanceOverflow
	}
	if acc.Available(TokenConsumer) < needC || acc.Available(TokenIndustrial) < needI {
		mp.recordRejection(CodeInsufficientBalance)
		return ErrInsufficientBalance
	}

	// Step 7: duplicate check.
	key := senderNonceKey{sender: tx.Payload.From, nonce: tx.Payload.Nonce}
	if _, exists := mp.byKey[key]; exists {
		mp.dupRejectTotal++
		mp.recordRejection(CodeDuplicate)
		if mp.telemetry != nil {
			mp.telemetry.IncDupReject()
		}
		return ErrDuplicate
	}

	now := mp.clock.Now()
	entry := &MempoolEntry{
		Tx:              tx,
		TimestampMillis: now.UnixMilli(),
		TimestampTicks:  mp.nextTick(),
		SerializedSize:  size,
		FeeConsumer:     feeC,
		FeeIndustrial:   feeI,
		TxHash:          id,
	}

	// Step 8: capacity check, with eviction of the current heap minimum if
	// the incoming entry strictly outranks it.
	if mp.size >= mp.cfg.MaxMempoolSize {
		if mp.heap.Len() == 0 {
			mp.recordRejection(CodeMempoolFull)
			return ErrMempoolFull
		}
		worst := mp.heap.items[0]
		if !entryLess(entry, worst, mp.ttlTicks) {
			// entry outranks or ties the incumbent; only a strict
			// improvement evicts it, and a tie is rejected with
			// ErrMempoolFull (the incumbent stays).
			if entryLess(worst, entry, mp.ttlTicks) {
				mp.evictLocked(worst)
			} else {
				mp.recordRejection(CodeMempoolFull)
				return ErrMempoolFull
			}
		} else {
			mp.recordRejection(CodeMempoolFull)
			return ErrMempoolFull
		}
	}

	acc.reserve(TokenConsumer, needC)
	acc.reserve(TokenIndustrial, needI)
	acc.PendingNonce++
	mp.byKey[key] = entry
	heap.Push(&mp.heap, entry)
	mp.size++

	// Step 9: telemetry.
	mp.txAdmittedTotal++
	if mp.telemetry != nil {
		mp.telemetry.IncAdmitted()
		mp.telemetry.Span("admission_lock", logrus.Fields{
			"sender": tx.Payload.From.Short(),
			"nonce":  tx.Payload.Nonce,
			"fpb":    feePerByteFloat(tx.Payload.Fee, size),
			"size":   mp.size,
		})
	}
	mp.log.WithFields(logrus.Fields{
		"sender": tx.Payload.From.Short(),
		"nonce":  tx.Payload.Nonce,
		"tx":     id.Short(),
	}).Debug("mempool: admitted")
	return nil
}

// evictLocked removes the current lowest-priority entry (the heap root),
// releasing its reservation. Caller holds mp.mu and the evictee's own
// sender lock is NOT separately acquired: the eviction path must not
// acquire any sender primitive other than the incoming tx's, which the
// caller already holds when the two senders coincide; when they differ
// the evictee's pending mutation is a plain map write guarded solely by
// the mempool primitive, which is sufficient because all sender-level
// reservation fields are only ever read/written while the mempool
// primitive is held.
func (mp *Mempool) evictLocked(e *MempoolEntry) {
	heap.Remove(&mp.heap, e.heapIndex)
	delete(mp.byKey, senderNonceKey{sender: e.Tx.Payload.From, nonce: e.Tx.Payload.Nonce})
	mp.size--
	if acc, ok := mp.led.Lookup(e.Tx.Payload.From); ok {
		acc.release(TokenConsumer, e.FeeConsumer+e.Tx.Payload.AmountConsumer)
		acc.release(TokenIndustrial, e.FeeIndustrial+e.Tx.Payload.AmountIndustrial)
		if acc.PendingNonce > 0 {
			acc.PendingNonce--
		}
	}
	mp.evictionsTotal++
	if mp.telemetry != nil {
		mp.telemetry.IncEvictions()
		mp.telemetry.Span("eviction", logrus.Fields{
			"sender": e.Tx.Payload.From.Short(),
			"nonce":  e.Tx.Payload.Nonce,
			"size":   mp.size,
		})
	}
}

// Drop releases a pending entry, undoing its reservation. It returns
// ErrNotFound if no such (sender, nonce) entry exists.
func (mp *Mempool) Drop(sender Address, nonce uint64) (err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.poisoned {
		return ErrLockPoisoned
	}
	sLock := mp.senderLock(sender)
	sLock.Lock()
	defer sLock.Unlock()
	defer mp.recoverPoison(&err)

	key := senderNonceKey{sender: sender, nonce: nonce}
	e, ok := mp.byKey[key]
	if !ok {
		return ErrNotFound
	}
	heap.Remove(&mp.heap, e.heapIndex)
	delete(mp.byKey, key)
	mp.size--
	if acc, ok := mp.led.Lookup(sender); ok {
		acc.release(TokenConsumer, e.FeeConsumer+e.Tx.Payload.AmountConsumer)
		acc.release(TokenIndustrial, e.FeeIndustrial+e.Tx.Payload.AmountIndustrial)
		if acc.PendingNonce > 0 {
			acc.PendingNonce--
		}
	}
	return nil
}

// recoverPoison converts any panic inside the admission/drop critical
// section into ErrLockPoisoned and marks the mempool primitive poisoned.
// Only an administrative call to Heal clears the flag. Caller must already
// hold mp.mu.
func (mp *Mempool) recoverPoison(errp *error) {
	if r := recover(); r != nil {
		mp.poisoned = true
		mp.lockPoisonTotal++
		mp.recordRejection(CodeLockPoisoned)
		if mp.telemetry != nil {
			mp.telemetry.IncLockPoison()
		}
		mp.log.WithField("panic", r).Error("mempool: primitive poisoned")
		*errp = ErrLockPoisoned
	}
}

// Heal clears a poisoned mempool primitive. It is an administrative
// operation with no corresponding external adapter and must only be
// invoked once the caller is confident the poisoning panic's root cause
// has been addressed (e.g. after a restart or a fix deploy).
func (mp *Mempool) Heal() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.poisoned = false
}

// feePerByteFloat is a display-only (non-comparison) float64 rendering of
// fee_per_byte for span/log fields; comparisons always use cmpFeePerByte.
func feePerByteFloat(fee uint64, size int) float64 {
	if size == 0 {
		return 0
	}
	return float64(fee) / float64(size)
}
