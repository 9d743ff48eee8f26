package core

import (
	"bytes"
	"container/heap"
	"math/bits"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// senderNonceKey uniquely identifies a pool entry.
type senderNonceKey struct {
	sender Address
	nonce  uint64
}

// MempoolEntry is one admitted, reserved transaction.
type MempoolEntry struct {
	Tx               SignedTransaction
	TimestampMillis  int64
	TimestampTicks   uint64
	SerializedSize   int
	FeeConsumer      uint64
	FeeIndustrial    uint64
	TxHash           Hash
	heapIndex        int
}

// expiresAt returns timestamp_ticks + ttl (in the same nanosecond-tick
// domain as TimestampTicks — see DESIGN.md's resolution of the ticks/TTL
// open question).
func (e *MempoolEntry) expiresAt(ttlTicks uint64) uint64 {
	return e.TimestampTicks + ttlTicks
}

// cmpFeePerByte compares aFee/aSize against bFee/bSize without losing
// precision to integer truncation: it cross-multiplies using 128-bit
// products (via math/bits.Mul64) so even fees near 2^63 never overflow the
// comparison. Returns -1, 0, or 1 as aFee/aSize is less than, equal to, or
// greater than bFee/bSize.
func cmpFeePerByte(aFee uint64, aSize int, bFee uint64, bSize int) int {
	ahi, alo := bits.Mul64(aFee, uint64(bSize))
	bhi, blo := bits.Mul64(bFee, uint64(aSize))
	if ahi != bhi {
		if ahi < bhi {
			return -1
		}
		return 1
	}
	if alo == blo {
		return 0
	}
	if alo < blo {
		return -1
	}
	return 1
}

// entryLess implements the min-heap ordering: it returns true when a has
// STRICTLY LOWER priority than b, i.e. a belongs closer to the heap root
// and is the first candidate for eviction. The priority comparator is:
// greater fee_per_byte wins; ties broken by smaller expires_at; remaining
// ties broken by smaller tx_hash.
func entryLess(a, b *MempoolEntry, ttlTicks uint64) bool {
	if c := cmpFeePerByte(a.Tx.Payload.Fee, a.SerializedSize, b.Tx.Payload.Fee, b.SerializedSize); c != 0 {
		return c < 0 // a's fee/byte is lower => a is worse => a first
	}
	ea, eb := a.expiresAt(ttlTicks), b.expiresAt(ttlTicks)
	if ea != eb {
		return ea > eb // smaller expires_at wins priority => larger expires_at is worse
	}
	return bytes.Compare(a.TxHash[:], b.TxHash[:]) > 0 // smaller hash wins priority => larger hash is worse
}

// entryHeap is a container/heap.Interface over *MempoolEntry, ordered by
// entryLess so the root is always the lowest-priority (eviction/expiry)
// candidate.
type entryHeap struct {
	items   []*MempoolEntry
	ttlTick uint64
}

func (h *entryHeap) Len() int { return len(h.items) }
func (h *entryHeap) Less(i, j int) bool {
	return entryLess(h.items[i], h.items[j], h.ttlTick)
}
func (h *entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*MempoolEntry)
	e.heapIndex = len(h.items)
	h.items = append(h.items, e)
}
func (h *entryHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	e.heapIndex = -1
	return e
}

// Config is the enumerated configuration object for the kernel. The core
// never reads the environment directly — adapters (cmd/theblockd) resolve
// TB_* env vars / YAML into this struct before constructing a Mempool or
// ChainStore.
type Config struct {
	MaxMempoolSize        int
	MaxPendingPerAccount  int
	TxTTLSecs             uint64
	MinFeePerByte         uint64
	PurgeIntervalSecs     int
	TargetSpacingMS       uint64
	DifficultyWindow      int
	BlockTxBudget         int
	GenesisHash           Hash
	ChainID               string
}

// DefaultConfig returns the kernel's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMempoolSize:       1024,
		MaxPendingPerAccount: 16,
		TxTTLSecs:            1800,
		MinFeePerByte:        1,
		PurgeIntervalSecs:    0,
		TargetSpacingMS:      1000,
		DifficultyWindow:     120,
		BlockTxBudget:        4096,
		ChainID:              "mainnet",
	}
}

// Stats is a point-in-time snapshot of mempool counters.
type Stats struct {
	Size             int
	OrphanCounter       int
	TTLDropTotal        uint64
	StartupTTLDropTotal uint64
	OrphanSweepTotal uint64
	EvictionsTotal   uint64
	LockPoisonTotal  uint64
	DupRejectTotal   uint64
	TxAdmittedTotal  uint64
	RejectedByReason map[Code]uint64
}

// Mempool is the priority-ordered, capacity-bounded, per-sender-serialized
// pool of pending signed transactions. It holds exactly two locks relevant
// to the admission hot path — mu (the process-wide "mempool primitive")
// and one mutex per sender (the "sender primitive") — always acquired in
// that order.
type Mempool struct {
	mu sync.Mutex // the mempool primitive

	cfg   Config
	cfg_  CodecConfig
	led   *Ledger
	clock Clock
	log   *logrus.Logger

	ttlTicks uint64 // tx_ttl_secs expressed in the tick domain (nanoseconds)

	byKey map[senderNonceKey]*MempoolEntry
	heap  entryHeap

	senderLocks map[Address]*sync.Mutex

	lastTick uint64

	size          int
	orphanCounter int

	ttlDropTotal         uint64
	startupTTLDropTotal  uint64
	orphanSweepTotal uint64
	evictionsTotal   uint64
	lockPoisonTotal  uint64
	dupRejectTotal   uint64
	txAdmittedTotal  uint64
	rejectedByReason map[Code]uint64

	poisoned bool

	telemetry *Telemetry
}

// NewMempool constructs an empty mempool bound to led for account lookups.
func NewMempool(cfg Config, codecCfg CodecConfig, led *Ledger, clk Clock, tel *Telemetry, log *logrus.Logger) *Mempool {
	if clk == nil {
		clk = NewRealClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	mp := &Mempool{
		cfg:              cfg,
		cfg_:             codecCfg,
		led:              led,
		clock:            clk,
		log:              log,
		ttlTicks:         cfg.TxTTLSecs * uint64(1e9),
		byKey:            make(map[senderNonceKey]*MempoolEntry),
		heap:             entryHeap{},
		senderLocks:      make(map[Address]*sync.Mutex),
		rejectedByReason: make(map[Code]uint64),
		telemetry:        tel,
	}
	mp.heap.ttlTick = mp.ttlTicks
	heap.Init(&mp.heap)
	return mp
}

// Size returns the exact current pool size.
func (mp *Mempool) Size() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.size
}

// Stats returns a snapshot of all mempool counters.
func (mp *Mempool) Stats() Stats {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	cp := make(map[Code]uint64, len(mp.rejectedByReason))
	for k, v := range mp.rejectedByReason {
		cp[k] = v
	}
	return Stats{
		Size:             mp.size,
		OrphanCounter:       mp.orphanCounter,
		TTLDropTotal:        mp.ttlDropTotal,
		StartupTTLDropTotal: mp.startupTTLDropTotal,
		OrphanSweepTotal: mp.orphanSweepTotal,
		EvictionsTotal:   mp.evictionsTotal,
		LockPoisonTotal:  mp.lockPoisonTotal,
		DupRejectTotal:   mp.dupRejectTotal,
		TxAdmittedTotal:  mp.txAdmittedTotal,
		RejectedByReason: cp,
	}
}

// senderLock returns (creating if needed) the mutex dedicated to addr.
// Must be called with mp.mu held.
func (mp *Mempool) senderLock(addr Address) *sync.Mutex {
	l, ok := mp.senderLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		mp.senderLocks[addr] = l
	}
	return l
}

// nextTick returns a strictly-increasing, unique-per-admission tick value
// drawn from mp.clock. Must be called with mp.mu held.
func (mp *Mempool) nextTick() uint64 {
	now := uint64(mp.clock.Now().UnixNano())
	if now <= mp.lastTick {
		now = mp.lastTick + 1
	}
	mp.lastTick = now
	return now
}

// recordRejection increments the labelled rejection counter and, if a
// Telemetry sink is attached, forwards it. Must be called with mp.mu held.
func (mp *Mempool) recordRejection(code Code) {
	mp.rejectedByReason[code]++
	if mp.telemetry != nil {
		mp.telemetry.IncRejected(code)
	}
}

// allEntries returns every live entry, for the chain store's snapshot
// writer. Order is unspecified.
func (mp *Mempool) allEntries() []*MempoolEntry {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	out := make([]*MempoolEntry, 0, len(mp.byKey))
	for _, e := range mp.byKey {
		out = append(out, e)
	}
	return out
}

// restoreEntries re-admits a batch of previously-persisted entries
// directly into the heap and map, restoring the sender's pending
// reservation, bypassing Submit's fresh-admission checks (the entries
// were already validated and reserved before the snapshot was taken).
// Entries whose sender no longer exists are counted as orphans rather
// than restored, mirroring ordinary orphan accounting.
func (mp *Mempool) restoreEntries(entries []restoredEntry) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for _, re := range entries {
		acc, ok := mp.led.Lookup(re.Tx.Payload.From)
		if !ok {
			mp.orphanCounter++
			continue
		}
		size := mp.cfg_.SerializedSize(re.Tx)
		id := mp.cfg_.ID(re.Tx)
		feeC, feeI, err := DecomposeFee(re.Tx.Payload.FeeSelector, re.Tx.Payload.Fee)
		if err != nil {
			continue
		}
		entry := &MempoolEntry{
			Tx: re.Tx, TimestampMillis: re.TimestampMillis, TimestampTicks: re.TimestampTicks,
			SerializedSize: size, FeeConsumer: feeC, FeeIndustrial: feeI, TxHash: id,
		}
		key := senderNonceKey{sender: re.Tx.Payload.From, nonce: re.Tx.Payload.Nonce}
		if _, exists := mp.byKey[key]; exists {
			continue
		}
		acc.reserve(TokenConsumer, re.Tx.Payload.AmountConsumer+feeC)
		acc.reserve(TokenIndustrial, re.Tx.Payload.AmountIndustrial+feeI)
		acc.PendingNonce++
		mp.byKey[key] = entry
		heap.Push(&mp.heap, entry)
		mp.size++
		if re.TimestampTicks > mp.lastTick {
			mp.lastTick = re.TimestampTicks
		}
	}
}

// spanID returns a short correlation id for structured span logging.
func spanID() string {
	return uuid.NewString()[:8]
}
