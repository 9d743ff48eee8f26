package core

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
)

// Telemetry owns the process's Prometheus registry and structured span
// logging for the mempool/ledger/miner counters and span fields described
// below.
type Telemetry struct {
	registry *prometheus.Registry
	log      *logrus.Logger

	txAdmitted   prometheus.Counter
	txRejected   *prometheus.CounterVec
	dupReject    prometheus.Counter
	evictions    prometheus.Counter
	ttlDrop      prometheus.Counter
	orphanSweep  prometheus.Counter
	lockPoison   prometheus.Counter
	mempoolSize  prometheus.Gauge
	chainHeight  prometheus.Gauge
	difficulty   prometheus.Gauge
}

// NewTelemetry builds and registers every counter/gauge the kernel
// exposes. log may be nil, in which case a standard logrus logger is used.
func NewTelemetry(log *logrus.Logger) *Telemetry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	t := &Telemetry{registry: reg, log: log}

	t.txAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_tx_admitted_total",
		Help: "Total transactions admitted into the mempool.",
	})
	t.txRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "theblock_tx_rejected_total",
		Help: "Total transactions rejected at admission, labelled by reason code.",
	}, []string{"reason"})
	t.dupReject = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_dup_tx_reject_total",
		Help: "Total duplicate (sender, nonce) resubmissions rejected.",
	})
	t.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_evictions_total",
		Help: "Total mempool entries evicted to admit a higher-priority transaction.",
	})
	t.ttlDrop = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_ttl_drop_total",
		Help: "Total mempool entries dropped for TTL expiry.",
	})
	t.orphanSweep = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_orphan_sweep_total",
		Help: "Total orphan-sweep passes that removed at least one entry.",
	})
	t.lockPoison = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "theblock_lock_poison_total",
		Help: "Total times the mempool primitive was observed poisoned.",
	})
	t.mempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "theblock_mempool_size",
		Help: "Current number of entries in the mempool.",
	})
	t.chainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "theblock_chain_height",
		Help: "Current chain height.",
	})
	t.difficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "theblock_difficulty",
		Help: "Current required leading-zero-bit difficulty.",
	})

	reg.MustRegister(
		t.txAdmitted, t.txRejected, t.dupReject, t.evictions, t.ttlDrop,
		t.orphanSweep, t.lockPoison, t.mempoolSize, t.chainHeight, t.difficulty,
	)
	return t
}

func (t *Telemetry) IncAdmitted() { t.txAdmitted.Inc() }

// IncRejected increments tx_rejected_total{reason=<symbolic code name>}.
func (t *Telemetry) IncRejected(code Code) {
	t.txRejected.WithLabelValues(codeLabel(code)).Inc()
}

func (t *Telemetry) IncDupReject()   { t.dupReject.Inc() }
func (t *Telemetry) IncEvictions()   { t.evictions.Inc() }
func (t *Telemetry) IncOrphanSweep() { t.orphanSweep.Inc() }
func (t *Telemetry) IncLockPoison()  { t.lockPoison.Inc() }

// IncTTLDrop adds n to ttl_drop_total in one observation.
func (t *Telemetry) IncTTLDrop(n uint64) { t.ttlDrop.Add(float64(n)) }

func (t *Telemetry) SetMempoolSize(n int)    { t.mempoolSize.Set(float64(n)) }
func (t *Telemetry) SetChainHeight(h uint64) { t.chainHeight.Set(float64(h)) }
func (t *Telemetry) SetDifficulty(d uint32)  { t.difficulty.Set(float64(d)) }

// Span records one structured event at admission, eviction, orphan sweep,
// or startup rebuild, carrying fields such as sender, nonce, fpb, size,
// orphan_counter. Unlike a tracing span this is a single logrus entry — no
// cross-process correlation is in scope here.
func (t *Telemetry) Span(name string, fields map[string]interface{}) {
	t.log.WithFields(logrus.Fields(fields)).WithField("span", name).WithField("span_id", spanID()).Info("span")
}

// Handler returns the Prometheus text-exposition HTTP handler, for
// adapters that want to serve /metrics directly.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// GatherText renders every counter and gauge in Prometheus text exposition
// format, for callers that want the string in-process rather than over
// HTTP.
func (t *Telemetry) GatherText() (string, error) {
	families, err := t.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// codeLabel renders a Code as the stable lower_snake_case label used in
// tx_rejected_total{reason}. The mapping is total — every Code variant has
// a label, and tests assert every one is covered.
func codeLabel(c Code) string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeUnknownSender:
		return "unknown_sender"
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeNonceGap:
		return "nonce_gap"
	case CodeInvalidSelector:
		return "invalid_selector"
	case CodeBadSignature:
		return "bad_signature"
	case CodeDuplicate:
		return "duplicate"
	case CodeNotFound:
		return "not_found"
	case CodeBalanceOverflow:
		return "balance_overflow"
	case CodeFeeOverflow:
		return "fee_overflow"
	case CodeFeeTooLow:
		return "fee_too_low"
	case CodeMempoolFull:
		return "mempool_full"
	case CodeLockPoisoned:
		return "lock_poisoned"
	case CodePendingLimit:
		return "pending_limit"
	case CodeFeeTooLarge:
		return "fee_too_large"
	default:
		return "unknown"
	}
}
