package main

import (
	"errors"
	"net/http"

	"memledger/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's Prometheus collectors. Each Ledger owns one,
// registered on its own registry so tests never collide.
type Metrics struct {
	registry *prometheus.Registry

	txAccepted   *prometheus.CounterVec
	txRejected   *prometheus.CounterVec
	blocksMined  prometheus.Counter
	sealFailures *prometheus.CounterVec
	sealSeconds  prometheus.Histogram
	mempoolSize  prometheus.Gauge
	chainHeight  prometheus.Gauge
	hashes       prometheus.CounterFunc
}

// NewMetrics registers the collectors on reg (a fresh registry if nil).
// hashCount feeds the cumulative hash counter; it may be nil.
func NewMetrics(reg *prometheus.Registry, hashCount func() float64) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		txAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memledger",
			Name:      "transactions_accepted_total",
			Help:      "Transactions admitted to the mempool, by type.",
		}, []string{"type"}),
		txRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memledger",
			Name:      "transactions_rejected_total",
			Help:      "Transactions rejected at submission, by reason.",
		}, []string{"reason"}),
		blocksMined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memledger",
			Name:      "blocks_mined_total",
			Help:      "Blocks sealed and committed by this node.",
		}),
		sealFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memledger",
			Name:      "seal_failures_total",
			Help:      "Mining attempts that did not commit, by reason.",
		}, []string{"reason"}),
		sealSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memledger",
			Name:      "seal_duration_seconds",
			Help:      "Wall time spent searching for a nonce.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		mempoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "memledger",
			Name:      "mempool_transactions",
			Help:      "Transactions waiting to be mined.",
		}),
		chainHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "memledger",
			Name:      "chain_height",
			Help:      "Index of the head block.",
		}),
	}
	if hashCount != nil {
		m.hashes = factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memledger",
			Name:      "seal_hashes_total",
			Help:      "Block hashes computed while sealing.",
		}, hashCount)
	}
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// Registry exposes the underlying registry for tests and the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeAccepted(tx *core.Transaction, mempoolSize int) {
	m.txAccepted.WithLabelValues(string(tx.Type)).Inc()
	m.mempoolSize.Set(float64(mempoolSize))
}

func (m *Metrics) observeRejected(err error) {
	m.txRejected.WithLabelValues(rejectReason(err)).Inc()
}

func (m *Metrics) observeCommitted(block *core.Block, mempoolSize int) {
	m.blocksMined.Inc()
	m.chainHeight.Set(float64(block.Header.Index))
	m.mempoolSize.Set(float64(mempoolSize))
}

func (m *Metrics) observeSeal(seconds float64, err error) {
	m.sealSeconds.Observe(seconds)
	if err != nil {
		m.sealFailures.WithLabelValues(sealFailureReason(err)).Inc()
	}
}

// rejectReason maps a submission error to a low-cardinality label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrDuplicateTx):
		return "duplicate"
	case errors.Is(err, core.ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, core.ErrMissingUTXO):
		return "missing_utxo"
	case errors.Is(err, core.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, core.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, core.ErrRewardSubmission):
		return "reward"
	case errors.Is(err, core.ErrTxIDMismatch):
		return "id_mismatch"
	case errors.Is(err, ErrMempoolFull):
		return "mempool_full"
	case errors.Is(err, core.ErrPersistence):
		return "persistence"
	default:
		return "malformed"
	}
}

func sealFailureReason(err error) string {
	switch {
	case errors.Is(err, core.ErrSealExhausted):
		return "exhausted"
	case errors.Is(err, core.ErrStaleHead):
		return "stale_head"
	case errors.Is(err, core.ErrPersistence):
		return "persistence"
	default:
		return "cancelled"
	}
}
