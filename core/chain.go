package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Chain is the facade wiring every component together and exposing the
// kernel's external interface. Thin adapters (CLI, RPC, metrics server)
// talk only to Chain.
type Chain struct {
	Ledger     *Ledger
	Mempool    *Mempool
	Miner      *Miner
	Validator  *Validator
	Difficulty *DifficultyController
	Store      *ChainStore
	Telemetry  *Telemetry
	Purge      *PurgeDriver

	codec CodecConfig
	cfg   Config
	log   *logrus.Logger

	cancelMining context.CancelFunc
}

// NewChain assembles a Chain from cfg. dir, if non-empty, opens a durable
// ChainStore at that path, loading any snapshot already there; an empty dir
// yields an in-memory-only chain suitable for tests.
func NewChain(cfg Config, dir string, clk Clock, log *logrus.Logger) (*Chain, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	codec, err := NewCodecConfig(cfg.ChainID)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = NewRealClock()
	}

	led := NewLedger(log)
	tel := NewTelemetry(log)
	diff := NewDifficultyController(cfg.DifficultyWindow, cfg.TargetSpacingMS, 1)
	mp := NewMempool(cfg, codec, led, clk, tel, log)
	val := NewValidator(led, diff, codec, clk, log, cfg.GenesisHash)

	c := &Chain{
		Ledger: led, Mempool: mp, Validator: val, Difficulty: diff,
		Telemetry: tel, codec: codec, cfg: cfg, log: log,
	}

	onCommit := func(b Block) error {
		if c.Store != nil {
			return c.Store.Commit(b)
		}
		return nil
	}
	c.Miner = NewMiner(mp, led, diff, val, codec, clk, tel, log, onCommit)

	if dir != "" {
		store, err := Open(dir, Deps{
			Ledger: led, Mempool: mp, Difficulty: diff, Codec: codec,
			GenesisHash: cfg.GenesisHash, Log: log,
		})
		if err != nil {
			return nil, fmt.Errorf("chain: open store: %w", err)
		}
		c.Store = store
	}

	if cfg.PurgeIntervalSecs > 0 {
		driver, err := NewPurgeDriver(mp, clk, cfg.PurgeIntervalSecs, log)
		if err != nil {
			return nil, err
		}
		c.Purge = driver
	}

	return c, nil
}

// ProvisionAccount creates an account with the given opening balances.
func (c *Chain) ProvisionAccount(addr Address, consumer, industrial uint64) error {
	return c.Ledger.Provision(addr, consumer, industrial)
}

// Submit admits tx into the mempool.
func (c *Chain) Submit(tx SignedTransaction) error {
	return c.Mempool.Submit(tx)
}

// Drop releases a pending pool entry.
func (c *Chain) Drop(sender Address, nonce uint64) error {
	return c.Mempool.Drop(sender, nonce)
}

// Balance returns addr's confirmed balances.
func (c *Chain) Balance(addr Address) (consumer, industrial uint64, ok bool) {
	return c.Ledger.Balance(addr)
}

// MempoolSize returns the exact current pool size.
func (c *Chain) MempoolSize() uint64 {
	return uint64(c.Mempool.Size())
}

// StartMining begins the miner's Idle→Assembling→Solving→Commit loop in
// the background, targeting miner_addr for coinbase credit.
func (c *Chain) StartMining(minerAddr Address) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelMining = cancel
	go c.Miner.StartMining(ctx, minerAddr)
}

// StopMining cancels the background mining loop started by StartMining.
func (c *Chain) StopMining() {
	if c.cancelMining != nil {
		c.cancelMining()
		c.cancelMining = nil
	}
	c.Miner.StopMining()
}

// MineOneBlock synchronously mines and commits a single block, used for
// scripted tests.
func (c *Chain) MineOneBlock(minerAddr Address, budget int) (Block, error) {
	return c.Miner.MineOneBlock(minerAddr, budget)
}

// ImportChain validates and applies a sequence of blocks per the
// longest-chain rule: blocks must extend the current tip at strictly
// increasing heights, each passing Validator.ValidateBlock before being
// applied. On the first failure, already-applied blocks within this call
// are NOT rolled back (each ApplyBlock call is itself atomic; partial
// import progress is a valid, observable intermediate chain state, same
// as if the blocks had been committed one at a time by a miner).
func (c *Chain) ImportChain(blocks []Block) error {
	height := uint64(0)
	if c.Store != nil {
		height = uint64(len(c.Store.blocks))
	} else {
		c.Miner.mu.Lock()
		height = c.Miner.height
		c.Miner.mu.Unlock()
	}
	for _, b := range blocks {
		if b.Header.Height != height {
			return ErrInvalidBlock.withf("import_chain: expected height %d, got %d", height, b.Header.Height)
		}
		if err := c.Validator.ValidateBlock(b, height); err != nil {
			return err
		}
		if err := c.Ledger.ApplyBlock(b); err != nil {
			return err
		}
		for _, tx := range b.Transactions[1:] {
			_ = c.Mempool.Drop(tx.Payload.From, tx.Payload.Nonce)
		}
		if c.Store != nil {
			if err := c.Store.Commit(b); err != nil {
				return err
			}
		}
		c.Validator.SetPrevTimestamp(b.Header.TimestampMS)
		c.Difficulty.RecordBlock(b.Header.TimestampMS, b.Header.Difficulty)
		c.Miner.SetTip(height+1, b.Header)
		height++
	}
	return nil
}

// GatherMetrics returns the Prometheus text exposition of every counter
// and gauge.
func (c *Chain) GatherMetrics() (string, error) {
	return c.Telemetry.GatherText()
}

// PurgeExpired runs purge_expired(now) against the mempool directly,
// for callers (or tests) that want to invoke it outside the purge driver.
func (c *Chain) PurgeExpired(nowTicks uint64) (int, error) {
	return c.Mempool.PurgeExpired(nowTicks)
}

// Close shuts down the purge driver (if any) and the chain store (if any).
func (c *Chain) Close() error {
	if c.Purge != nil {
		c.Purge.Shutdown()
		if err := c.Purge.Join(); err != nil {
			c.log.WithError(err).Error("chain: purge driver join error")
		}
	}
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
