package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MinerState is the miner's state machine.
type MinerState int32

const (
	StateIdle MinerState = iota
	StateAssembling
	StateSolving
	StateCommit
)

func (s MinerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAssembling:
		return "assembling"
	case StateSolving:
		return "solving"
	case StateCommit:
		return "commit"
	default:
		return "unknown"
	}
}

const (
	// BaseRewardConsumer / BaseRewardIndustrial are R_0 per token.
	BaseRewardConsumer   uint64 = 50_000_000
	BaseRewardIndustrial uint64 = 50_000_000
	// RewardHalvingInterval is the block-height period after which the
	// reward halves (rho = 1/2 exactly, applied as an integer right
	// shift — floor(R_0 * (1/2)^n) is exactly R_0 >> n for n small enough
	// that no intermediate rounding differs from true geometric decay).
	RewardHalvingInterval uint64 = 210_000
)

// rewardForHeight returns (R_n consumer, R_n industrial) for height.
func rewardForHeight(height uint64) (consumer, industrial uint64) {
	era := height / RewardHalvingInterval
	if era >= 64 {
		return 0, 0
	}
	return BaseRewardConsumer >> era, BaseRewardIndustrial >> era
}

// Miner assembles candidate blocks from the mempool, solves proof-of-work
// under the current difficulty, and commits accepted blocks to the ledger
// and chain store.
type Miner struct {
	mu      sync.Mutex
	state   MinerState
	minerAddr Address

	mp    *Mempool
	led   *Ledger
	diff  *DifficultyController
	val   *Validator
	codec CodecConfig
	clock Clock
	tel   *Telemetry
	log   *logrus.Logger

	tip     BlockHeader
	height  uint64
	nConcurrentSearchers int

	onCommit func(Block) error // invoked after a successful commit (e.g. chain store append)
}

// NewMiner constructs a Miner. onCommit, if non-nil, is invoked with the
// committed block immediately after ledger application succeeds (the chain
// store's append-and-snapshot hook).
func NewMiner(mp *Mempool, led *Ledger, diff *DifficultyController, val *Validator, codec CodecConfig, clk Clock, tel *Telemetry, log *logrus.Logger, onCommit func(Block) error) *Miner {
	if clk == nil {
		clk = NewRealClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Miner{
		mp: mp, led: led, diff: diff, val: val, codec: codec, clock: clk, tel: tel, log: log,
		onCommit:             onCommit,
		nConcurrentSearchers: 1,
	}
}

// SetTip updates the block the miner will build on top of (height + prev
// hash) — called by Chain.ImportChain after each imported block.
func (m *Miner) SetTip(height uint64, tip BlockHeader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = height
	m.tip = tip
}

// State returns the current state-machine value.
func (m *Miner) State() MinerState {
	return MinerState(atomic.LoadInt32((*int32)(&m.state)))
}

func (m *Miner) setState(s MinerState) {
	atomic.StoreInt32((*int32)(&m.state), int32(s))
}

// StartMining runs the Idle→Assembling→Solving→Commit loop until ctx is
// cancelled, mining one block per iteration. The loop checks only ctx;
// StopMining on its own does not end it.
func (m *Miner) StartMining(ctx context.Context, minerAddr Address) {
	m.mu.Lock()
	m.minerAddr = minerAddr
	m.mu.Unlock()
	m.setState(StateAssembling)
	for {
		select {
		case <-ctx.Done():
			m.setState(StateIdle)
			return
		default:
		}
		if _, err := m.mineOnce(ctx, minerAddr, 0); err != nil {
			m.log.WithError(err).Debug("miner: attempt failed, retrying")
		}
		m.setState(StateAssembling)
	}
}

// StopMining transitions the miner's state to Idle and does nothing else.
// An in-flight StartMining loop keeps running until the context passed to
// it is cancelled (Chain.StopMining cancels that context first).
func (m *Miner) StopMining() {
	m.setState(StateIdle)
}

// MineOneBlock assembles, solves, and commits a single block using at most
// budget entries from the mempool (0 = use the configured default),
// returning the committed block. Used for scripted tests.
func (m *Miner) MineOneBlock(minerAddr Address, budget int) (Block, error) {
	return m.mineOnce(context.Background(), minerAddr, budget)
}

func (m *Miner) mineOnce(ctx context.Context, minerAddr Address, budget int) (Block, error) {
	m.setState(StateAssembling)

	m.mu.Lock()
	height := m.height
	prevHash := m.tip.PrevHash
	if height > 0 {
		prevHash = HashHeader(m.tip)
	}
	m.mu.Unlock()

	if budget <= 0 {
		budget = m.mp.cfg.BlockTxBudget
	}
	if budget <= 0 {
		budget = 4096
	}

	// Step 1-2: drain and order (DrainForMining already performs the
	// per-sender nonce-contiguity discard).
	drained := m.mp.DrainForMining(budget)

	// Step 3: coinbase reward + 128-bit fee accumulation.
	rewardC, rewardI := rewardForHeight(height)
	feeAcc := NewFeeAccumulator()
	for _, d := range drained {
		feeAcc.Add(d.FeeConsumer, d.FeeIndustrial)
	}
	feeTotalC, feeTotalI, err := feeAcc.Totals()
	if err != nil {
		return Block{}, err
	}
	coinbaseC, okC := addChecked(rewardC, feeTotalC)
	coinbaseI, okI := addChecked(rewardI, feeTotalI)
	if !okC || !okI {
		return Block{}, ErrFeeOverflow.withf("mine: coinbase overflow at height %d", height)
	}

	coinbasePayload := RawTxPayload{
		From: Address{}, To: minerAddr,
		AmountConsumer: coinbaseC, AmountIndustrial: coinbaseI,
		Fee: 0, FeeSelector: 0, Nonce: 0,
	}
	coinbaseTx := SignedTransaction{Payload: coinbasePayload}

	txs := make([]SignedTransaction, 0, len(drained)+1)
	txs = append(txs, coinbaseTx)
	for _, d := range drained {
		txs = append(txs, d.Entry.Tx)
	}

	expectedDiff := m.diff.ExpectedDifficulty(height)

	header := BlockHeader{
		Height:             height,
		PrevHash:           prevHash,
		TimestampMS:        uint64(m.clock.Now().UnixMilli()),
		Difficulty:         expectedDiff,
		CoinbaseConsumer:   coinbaseC,
		CoinbaseIndustrial: coinbaseI,
		FeeChecksum:        feeAcc.Checksum(),
	}

	// Step 5: solve PoW. Single-searcher by default; nConcurrentSearchers
	// selects how many high-bit partitions of the nonce space run (see
	// solvePartitioned).
	m.setState(StateSolving)
	nonce, found := m.solvePartitioned(ctx, header)
	if !found {
		return Block{}, ErrInvalidBlock.withf("mine: cancelled before PoW solved at height %d", height)
	}
	header.Nonce = nonce
	block := Block{Header: header, Transactions: txs}

	// Step 6: validate, then commit.
	m.setState(StateCommit)
	if err := m.val.ValidateBlock(block, height); err != nil {
		return Block{}, err
	}
	if err := m.led.ApplyBlock(block); err != nil {
		return Block{}, err
	}
	for _, d := range drained {
		_ = m.mp.Drop(d.Entry.Tx.Payload.From, d.Entry.Tx.Payload.Nonce)
	}

	m.mu.Lock()
	m.height = height + 1
	m.tip = header
	m.mu.Unlock()

	m.val.SetPrevTimestamp(header.TimestampMS)
	m.diff.RecordBlock(header.TimestampMS, header.Difficulty)

	if m.onCommit != nil {
		if err := m.onCommit(block); err != nil {
			return block, err
		}
	}
	if m.tel != nil {
		m.tel.SetChainHeight(height + 1)
		m.tel.SetDifficulty(header.Difficulty)
	}
	return block, nil
}

// solvePartitioned varies nonce until the header hash meets difficulty,
// partitioning the search space across m.nConcurrentSearchers parallel
// goroutines via a high bit field (core_id<<56 | counter). It returns
// (0, false) if ctx is cancelled first.
func (m *Miner) solvePartitioned(ctx context.Context, header BlockHeader) (uint64, bool) {
	n := m.nConcurrentSearchers
	if n < 1 {
		n = 1
	}
	type result struct {
		nonce uint64
		ok    bool
	}
	resCh := make(chan result, n)
	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for shard := 0; shard < n; shard++ {
		wg.Add(1)
		go func(coreID uint64) {
			defer wg.Done()
			h := header
			counter := uint64(0)
			for {
				select {
				case <-cancelCtx.Done():
					return
				default:
				}
				h.Nonce = (coreID << 56) | (counter & 0x00FFFFFFFFFFFFFF)
				if MeetsDifficulty(HashHeader(h), h.Difficulty) {
					select {
					case resCh <- result{nonce: h.Nonce, ok: true}:
						cancel()
					default:
					}
					return
				}
				counter++
			}
		}(uint64(shard))
	}
	go func() { wg.Wait(); close(resCh) }()

	for r := range resCh {
		if r.ok {
			return r.nonce, true
		}
	}
	return 0, false
}
