package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Ledger holds provisioned accounts and the two emission counters. It is
// the sole owner of confirmed balances and nonces; the mempool only ever
// mutates the Pending side of an Account, and only while holding that
// sender's lock. ApplyBlock mutates confirmed state under its own write
// lock, which is never held concurrently with the mempool's locks.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[Address]*Account

	// Emission counters: per-token running totals, audited per block.
	emittedConsumer   uint64
	emittedIndustrial uint64

	log *logrus.Logger
}

// NewLedger returns an empty ledger with no provisioned accounts.
func NewLedger(log *logrus.Logger) *Ledger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ledger{accounts: make(map[Address]*Account), log: log}
}

// Provision creates an account with the given opening balances. It fails
// with ErrAlreadyExists if addr is already provisioned.
func (l *Ledger) Provision(addr Address, consumer, industrial uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[addr]; ok {
		return ErrAlreadyExists
	}
	l.accounts[addr] = &Account{Balance: Balance{Consumer: consumer, Industrial: industrial}}
	l.log.WithFields(logrus.Fields{"addr": addr.Short(), "consumer": consumer, "industrial": industrial}).
		Debug("ledger: account provisioned")
	return nil
}

// Lookup returns the live *Account for addr, or (nil, false) if it is not
// provisioned. Callers mutating Pending must hold the corresponding
// sender's mempool lock; callers mutating Balance/Nonce must go through
// ApplyBlock.
func (l *Ledger) Lookup(addr Address) (*Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[addr]
	return a, ok
}

// Balance returns addr's confirmed balances, or (0, 0, false) if unknown.
func (l *Ledger) Balance(addr Address) (consumer, industrial uint64, ok bool) {
	a, ok := l.Lookup(addr)
	if !ok {
		return 0, 0, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return a.Balance.Consumer, a.Balance.Industrial, true
}

// Emitted returns the running per-token emission totals.
func (l *Ledger) Emitted() (consumer, industrial uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.emittedConsumer, l.emittedIndustrial
}

// ApplyBlock atomically debits senders, credits recipients, credits the
// miner's coinbase, and advances confirmed nonces for every non-coinbase
// transaction in block. All arithmetic is checked: on any overflow or insufficient
// balance the ledger is left byte-for-byte unchanged and
// ErrBalanceOverflow/ErrInsufficientBalance is returned. This is a
// belt-and-braces safety net; the Validator is responsible for rejecting
// such blocks before they ever reach ApplyBlock.
//
// ApplyBlock does NOT touch mempool reservations (Account.Pending); the
// Mempool's own removal path releases those under the sender lock once
// ApplyBlock has committed, keeping the two locks orthogonal.
func (l *Ledger) ApplyBlock(block Block) error {
	if len(block.Transactions) == 0 {
		return ErrInvalidBlock.withf("apply_block: empty transaction list")
	}
	coinbase := block.Transactions[0]

	l.mu.Lock()
	defer l.mu.Unlock()

	// Copy-on-write: clone every account touched by this block so a
	// mid-application failure leaves l.accounts untouched.
	touched := make(map[Address]*Account)
	clone := func(addr Address) (*Account, error) {
		if c, ok := touched[addr]; ok {
			return c, nil
		}
		orig, ok := l.accounts[addr]
		if !ok {
			return nil, ErrUnknownSender.withf("apply_block: unknown account %s", addr.Short())
		}
		c := *orig
		touched[addr] = &c
		return &c, nil
	}

	minerAddr := coinbase.Payload.To
	minerAcc, err := clone(minerAddr)
	if err != nil {
		return err
	}

	feeAcc := NewFeeAccumulator()

	for _, tx := range block.Transactions[1:] {
		feeC, feeI, ferr := DecomposeFee(tx.Payload.FeeSelector, tx.Payload.Fee)
		if ferr != nil {
			return ferr
		}
		feeAcc.Add(feeC, feeI)

		fromAcc, err := clone(tx.Payload.From)
		if err != nil {
			return err
		}
		toAcc, err := clone(tx.Payload.To)
		if err != nil {
			return err
		}

		debitC := tx.Payload.AmountConsumer + feeC
		debitI := tx.Payload.AmountIndustrial + feeI
		if debitC < tx.Payload.AmountConsumer || debitI < tx.Payload.AmountIndustrial {
			return ErrBalanceOverflow.withf("apply_block: debit overflow for %s", tx.Payload.From.Short())
		}
		if fromAcc.Balance.Consumer < debitC || fromAcc.Balance.Industrial < debitI {
			return ErrInsufficientBalance.withf("apply_block: %s cannot cover amount+fee", tx.Payload.From.Short())
		}
		fromAcc.Balance.Consumer -= debitC
		fromAcc.Balance.Industrial -= debitI
		fromAcc.Nonce = tx.Payload.Nonce

		if newC, ok := addChecked(toAcc.Balance.Consumer, tx.Payload.AmountConsumer); ok {
			toAcc.Balance.Consumer = newC
		} else {
			return ErrBalanceOverflow.withf("apply_block: credit overflow for %s", tx.Payload.To.Short())
		}
		if newI, ok := addChecked(toAcc.Balance.Industrial, tx.Payload.AmountIndustrial); ok {
			toAcc.Balance.Industrial = newI
		} else {
			return ErrBalanceOverflow.withf("apply_block: credit overflow for %s", tx.Payload.To.Short())
		}
	}

	feeC, feeI, ferr := feeAcc.Totals()
	if ferr != nil {
		return ferr
	}

	coinbaseC := coinbase.Payload.AmountConsumer
	coinbaseI := coinbase.Payload.AmountIndustrial
	if newC, ok := addChecked(minerAcc.Balance.Consumer, coinbaseC); ok {
		minerAcc.Balance.Consumer = newC
	} else {
		return ErrBalanceOverflow.withf("apply_block: coinbase credit overflow (consumer)")
	}
	if newI, ok := addChecked(minerAcc.Balance.Industrial, coinbaseI); ok {
		minerAcc.Balance.Industrial = newI
	} else {
		return ErrBalanceOverflow.withf("apply_block: coinbase credit overflow (industrial)")
	}
	if coinbaseC < feeC || coinbaseI < feeI {
		return ErrInvalidBlock.withf("apply_block: coinbase %d/%d smaller than aggregated fees %d/%d", coinbaseC, coinbaseI, feeC, feeI)
	}
	// Net new emission is the base reward only: coinbase minus the fee
	// portion it also carries. Fees move within the account set; they
	// never mint new supply.
	newEmitC, ok := addChecked(l.emittedConsumer, coinbaseC-feeC)
	if !ok {
		return ErrBalanceOverflow.withf("apply_block: emission counter overflow (consumer)")
	}
	newEmitI, ok := addChecked(l.emittedIndustrial, coinbaseI-feeI)
	if !ok {
		return ErrBalanceOverflow.withf("apply_block: emission counter overflow (industrial)")
	}

	// Commit: swap the clones into the live map.
	for addr, acc := range touched {
		l.accounts[addr] = acc
	}
	l.emittedConsumer = newEmitC
	l.emittedIndustrial = newEmitI
	return nil
}

// allAccounts returns a shallow copy of every provisioned account, keyed
// by address, for the chain store's snapshot writer.
func (l *Ledger) allAccounts() map[Address]*Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Address]*Account, len(l.accounts))
	for addr, acc := range l.accounts {
		cp := *acc
		out[addr] = &cp
	}
	return out
}

// restoreAccounts replaces the ledger's account set wholesale, used only
// by the chain store when rehydrating from a snapshot.
func (l *Ledger) restoreAccounts(accounts map[Address]*Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = accounts
}

// restoreEmission sets the emission counters directly, used only by the
// chain store when rehydrating from a snapshot.
func (l *Ledger) restoreEmission(consumer, industrial uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.emittedConsumer = consumer
	l.emittedIndustrial = industrial
}

// addChecked adds a and b, reporting overflow instead of wrapping.
func addChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
