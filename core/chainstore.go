package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// CurrentSchemaVersion is the on-disk layout version written by this
// build.
const CurrentSchemaVersion uint32 = 4

// accountRecord is the persisted shape of one ledger account.
type accountRecord struct {
	Addr         Address
	BalanceC     uint64
	BalanceI     uint64
	Nonce        uint64
	PendingC     uint64
	PendingI     uint64
	PendingNonce uint64
}

// mempoolRecord is the persisted shape of one mempool entry.
type mempoolRecord struct {
	Sender          Address
	Nonce           uint64
	TxEncoded       []byte
	TimestampMillis uint64
	TimestampTicks  uint64
}

// ChainStore owns the append-only block log, the ledger's durable
// snapshot, and the mempool's persisted entries. It is the exclusive
// owner of its directory: two ChainStore instances
// must never share one (tests give each its own testutil.Sandbox dir).
type ChainStore struct {
	mu sync.Mutex

	dir         string
	genesisHash Hash
	codec       CodecConfig

	led  *Ledger
	mp   *Mempool
	diff *DifficultyController

	blocks []Block

	emittedConsumer   uint64
	emittedIndustrial uint64

	log       *logrus.Logger
	ephemeral bool // if true, Close removes dir (sandbox/test stores)
}

// Deps bundles the collaborators a ChainStore wires at Open time.
type Deps struct {
	Ledger     *Ledger
	Mempool    *Mempool
	Difficulty *DifficultyController
	Codec      CodecConfig
	GenesisHash Hash
	Log        *logrus.Logger
}

// Open loads (or initializes) the chain state rooted at dir: load and
// migrate any existing snapshot, rebuild the mempool, purge expired
// entries, then refresh the difficulty controller.
func Open(dir string, deps Deps) (*ChainStore, error) {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chainstore: mkdir: %w", err)
	}
	cs := &ChainStore{
		dir:         dir,
		genesisHash: deps.GenesisHash,
		codec:       deps.Codec,
		led:         deps.Ledger,
		mp:          deps.Mempool,
		diff:        deps.Difficulty,
		log:         deps.Log,
	}

	snapPath := cs.snapshotPath()
	if _, err := os.Stat(snapPath); err == nil {
		if err := cs.loadSnapshot(snapPath); err != nil {
			return nil, fmt.Errorf("chainstore: load: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("chainstore: stat: %w", err)
	}
	// A fresh store with no snapshot on disk starts empty; the caller is
	// expected to provision genesis accounts and commit a genesis block.

	// Purge whatever the mempool rebuild just restored, then refresh the
	// difficulty the current tip expects.
	if cs.mp != nil {
		if dropped, err := cs.mp.PurgeExpired(uint64(cs.mp.clock.Now().UnixNano())); err == nil {
			cs.mp.startupTTLDropTotal = satAddU64(cs.mp.startupTTLDropTotal, uint64(dropped))
		}
	}
	if cs.diff != nil {
		for _, b := range cs.blocks {
			cs.diff.RecordBlock(b.Header.TimestampMS, b.Header.Difficulty)
		}
		height := uint64(len(cs.blocks))
		cs.diff.refreshCurrent(cs.diff.ExpectedDifficulty(height))
	}

	return cs, nil
}

// OpenEphemeral behaves like Open but marks the store for directory
// removal on Close, for use by tests that want a throwaway store (pairs
// naturally with internal/testutil.Sandbox).
func OpenEphemeral(dir string, deps Deps) (*ChainStore, error) {
	cs, err := Open(dir, deps)
	if err != nil {
		return nil, err
	}
	cs.ephemeral = true
	return cs, nil
}

func (cs *ChainStore) snapshotPath() string {
	return filepath.Join(cs.dir, "snapshot.bin")
}

// Commit is the durability step for a block whose ledger effects the
// caller has already applied via Ledger.ApplyBlock: it appends block to the
// block log and durably rewrites the snapshot. It does not touch the
// ledger. If the snapshot write fails, the block is removed from the log
// again and an error is returned.
//
// Commit does not advance the difficulty controller's window; callers
// (Miner.mineOnce, Chain.ImportChain) own that bookkeeping so it happens
// on every committed block whether or not a ChainStore is attached.
func (cs *ChainStore) Commit(block Block) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.blocks = append(cs.blocks, block)
	if err := cs.writeSnapshotLocked(); err != nil {
		cs.blocks = cs.blocks[:len(cs.blocks)-1]
		return fmt.Errorf("chainstore: commit: %w", err)
	}
	return nil
}

// Close flushes any buffered state (the snapshot is already durable after
// every Commit, so Close is a no-op beyond optional directory cleanup) and,
// for ephemeral test stores created via OpenEphemeral, removes dir.
func (cs *ChainStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ephemeral {
		return os.RemoveAll(cs.dir)
	}
	return nil
}

// writeSnapshotLocked serializes the full chain state to a temp file and
// renames it over the live snapshot, so a crash mid-write never corrupts
// the previous durable state. Caller holds cs.mu.
func (cs *ChainStore) writeSnapshotLocked() error {
	var buf bytes.Buffer

	writeU32(&buf, CurrentSchemaVersion)
	buf.Write(cs.genesisHash[:])

	writeFramed(&buf, func(w *bytes.Buffer) {
		writeU32(w, uint32(len(cs.blocks)))
		for _, b := range cs.blocks {
			enc := encodeBlock(cs.codec, b)
			writeFramed(w, func(inner *bytes.Buffer) { inner.Write(enc) })
		}
	})

	writeFramed(&buf, func(w *bytes.Buffer) {
		accounts := cs.led.allAccounts()
		writeU32(w, uint32(len(accounts)))
		for addr, acc := range accounts {
			rec := accountRecord{
				Addr: addr, BalanceC: acc.Balance.Consumer, BalanceI: acc.Balance.Industrial,
				Nonce: acc.Nonce, PendingC: acc.Pending.Consumer, PendingI: acc.Pending.Industrial,
				PendingNonce: acc.PendingNonce,
			}
			writeAccountRecord(w, rec)
		}
	})

	writeFramed(&buf, func(w *bytes.Buffer) {
		entries := cs.mp.allEntries()
		writeU32(w, uint32(len(entries)))
		for _, e := range entries {
			rec := mempoolRecord{
				Sender: e.Tx.Payload.From, Nonce: e.Tx.Payload.Nonce,
				TxEncoded: encodeSignedTx(cs.codec, e.Tx),
				TimestampMillis: uint64(e.TimestampMillis), TimestampTicks: e.TimestampTicks,
			}
			writeMempoolRecord(w, rec)
		}
	})

	ec, ei := cs.led.Emitted()
	writeU64(&buf, ec)
	writeU64(&buf, ei)

	payload := buf.Bytes()
	crc := crc32.ChecksumIEEE(payload)

	tmpPath := cs.snapshotPath() + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	var lenCrc [8]byte
	binary.LittleEndian.PutUint32(lenCrc[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(lenCrc[4:8], crc)
	if _, err := enc.Write(lenCrc[:]); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, cs.snapshotPath())
}

// loadSnapshot reads, decompresses, and CRC-checks the snapshot at path,
// running any needed migrations, then populates cs.led and cs.mp.
func (cs *ChainStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return err
	}
	if len(raw) < 8 {
		return ErrDecode.withf("chainstore: snapshot truncated")
	}
	payloadLen := binary.LittleEndian.Uint32(raw[0:4])
	wantCRC := binary.LittleEndian.Uint32(raw[4:8])
	payload := raw[8:]
	if uint32(len(payload)) != payloadLen {
		return ErrDecode.withf("chainstore: snapshot length mismatch")
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return ErrDecode.withf("chainstore: snapshot CRC mismatch")
	}

	r := bytes.NewReader(payload)
	version, err := readU32(r)
	if err != nil {
		return err
	}

	var genesis Hash
	if _, err := io.ReadFull(r, genesis[:]); err != nil {
		return err
	}
	if genesis != cs.genesisHash {
		return ErrInvalidBlock.withf("chainstore: genesis hash mismatch")
	}

	snap, err := decodeSnapshotBody(cs.codec, r)
	if err != nil {
		return err
	}

	if version < CurrentSchemaVersion {
		snap, err = migrate(version, CurrentSchemaVersion, snap)
		if err != nil {
			return err
		}
	} else if version > CurrentSchemaVersion {
		return ErrUnknownSchema
	}

	cs.blocks = snap.Blocks
	cs.led.restoreAccounts(snap.Accounts)
	cs.led.restoreEmission(snap.EmittedConsumer, snap.EmittedIndustrial)

	const mempoolRebuildBatch = 256
	for i := 0; i < len(snap.MempoolEntries); i += mempoolRebuildBatch {
		end := i + mempoolRebuildBatch
		if end > len(snap.MempoolEntries) {
			end = len(snap.MempoolEntries)
		}
		cs.mp.restoreEntries(snap.MempoolEntries[i:end])
	}

	return nil
}

// snapshotBody is the fully-decoded, pre-migration-or-post-migration
// in-memory form of a snapshot's payload sections.
type snapshotBody struct {
	Blocks            []Block
	Accounts          map[Address]*Account
	MempoolEntries    []restoredEntry
	EmittedConsumer   uint64
	EmittedIndustrial uint64
}

// restoredEntry is one mempool entry as read off disk, ready to be
// re-admitted into the live heap+map by Mempool.restoreEntries.
type restoredEntry struct {
	Tx              SignedTransaction
	TimestampMillis int64
	TimestampTicks  uint64
}

func decodeSnapshotBody(codec CodecConfig, r *bytes.Reader) (snapshotBody, error) {
	var body snapshotBody

	blockBytes, err := readFramed(r)
	if err != nil {
		return body, err
	}
	br := bytes.NewReader(blockBytes)
	nBlocks, err := readU32(br)
	if err != nil {
		return body, err
	}
	body.Blocks = make([]Block, 0, nBlocks)
	for i := uint32(0); i < nBlocks; i++ {
		enc, err := readFramed(br)
		if err != nil {
			return body, err
		}
		b, err := decodeBlock(codec, enc)
		if err != nil {
			return body, err
		}
		body.Blocks = append(body.Blocks, b)
	}

	acctBytes, err := readFramed(r)
	if err != nil {
		return body, err
	}
	ar := bytes.NewReader(acctBytes)
	nAcct, err := readU32(ar)
	if err != nil {
		return body, err
	}
	body.Accounts = make(map[Address]*Account, nAcct)
	for i := uint32(0); i < nAcct; i++ {
		rec, err := readAccountRecord(ar)
		if err != nil {
			return body, err
		}
		body.Accounts[rec.Addr] = &Account{
			Balance:      Balance{Consumer: rec.BalanceC, Industrial: rec.BalanceI},
			Nonce:        rec.Nonce,
			Pending:      Balance{Consumer: rec.PendingC, Industrial: rec.PendingI},
			PendingNonce: rec.PendingNonce,
		}
	}

	mpBytes, err := readFramed(r)
	if err != nil {
		return body, err
	}
	mr := bytes.NewReader(mpBytes)
	nEntries, err := readU32(mr)
	if err != nil {
		return body, err
	}
	body.MempoolEntries = make([]restoredEntry, 0, nEntries)
	for i := uint32(0); i < nEntries; i++ {
		rec, err := readMempoolRecord(mr)
		if err != nil {
			return body, err
		}
		tx, err := decodeSignedTx(codec, rec.TxEncoded)
		if err != nil {
			return body, err
		}
		body.MempoolEntries = append(body.MempoolEntries, restoredEntry{
			Tx: tx, TimestampMillis: int64(rec.TimestampMillis), TimestampTicks: rec.TimestampTicks,
		})
	}

	body.EmittedConsumer, err = readU64(r)
	if err != nil {
		return body, err
	}
	body.EmittedIndustrial, err = readU64(r)
	if err != nil {
		return body, err
	}

	if r.Len() != 0 {
		return body, ErrDecode.withf("chainstore: trailing bytes after snapshot body")
	}
	return body, nil
}
