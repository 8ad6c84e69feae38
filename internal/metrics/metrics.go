// metrics.go - Prometheus instrumentation for the mixer service.

package metrics

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Aintivirus-AI/mixer-v2-contracts/internal/mixer"
)

var (
	// DepositsTotal counts accepted deposits by asset.
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixer",
		Name:      "deposits_total",
		Help:      "Accepted deposits by asset.",
	}, []string{"asset"})

	// WithdrawalsTotal counts withdrawal attempts by asset and outcome.
	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixer",
		Name:      "withdrawals_total",
		Help:      "Withdrawal attempts by asset and outcome.",
	}, []string{"asset", "outcome"})

	// StakeOpsTotal counts staking operations by kind and outcome.
	StakeOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mixer",
		Subsystem: "staking",
		Name:      "ops_total",
		Help:      "Staking operations by kind and outcome.",
	}, []string{"op", "outcome"})

	// AnonymitySetSize tracks the leaf count of each pool's commitment tree.
	AnonymitySetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mixer",
		Name:      "anonymity_set_size",
		Help:      "Leaves in each pool's commitment tree.",
	}, []string{"asset"})

	// CurrentSeason tracks the ID of the open staking season.
	CurrentSeason = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mixer",
		Subsystem: "staking",
		Name:      "current_season",
		Help:      "ID of the open staking season.",
	})

	// ProofVerifySeconds observes Groth16 verification latency.
	ProofVerifySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mixer",
		Name:      "proof_verify_seconds",
		Help:      "Groth16 verification latency.",
		Buckets:   prometheus.DefBuckets,
	})

	// RequestSeconds observes API request latency by route and status.
	RequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mixer",
		Subsystem: "http",
		Name:      "request_seconds",
		Help:      "API request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Outcome labels for counter vectors.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// TimedVerifier wraps a proof verifier with latency observation. It is
// transparent to callers and safe to nest around any Verifier.
type TimedVerifier struct {
	Inner mixer.Verifier
}

// Verify observes the wrapped verifier's latency.
func (t TimedVerifier) Verify(proof *mixer.Proof, signals []fr.Element) bool {
	timer := prometheus.NewTimer(ProofVerifySeconds)
	defer timer.ObserveDuration()
	return t.Inner.Verify(proof, signals)
}
