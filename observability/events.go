package observability

import (
	"math/big"
	"strings"
	"sync"

	"crowdsale/core/events"
	"crowdsale/core/types"
	"crowdsale/native/authorizer"
	"crowdsale/native/sale"

	"github.com/prometheus/client_golang/prometheus"
)

type saleMetrics struct {
	purchases   *prometheus.CounterVec
	usdRaised   prometheus.Counter
	nonces      prometheus.Counter
	claims      prometheus.Counter
	refunds     prometheus.Counter
	withdrawals *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

var (
	saleMetricsOnce sync.Once
	saleRegistry    *saleMetrics
)

// Sale returns the metrics registry tracking structured sale events.
func Sale() *saleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &saleMetrics{
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "purchases_total",
				Help:      "Count of successful purchases segmented by payment method.",
			}, []string{"method"}),
			usdRaised: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "usd_raised_cents",
				Help:      "Cumulative USD value raised, in 8-decimal fixed point units.",
			}),
			nonces: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "voucher_nonces_consumed_total",
				Help:      "Count of voucher nonces burned by authorized purchases.",
			}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "claims_total",
				Help:      "Count of successful entitlement claims.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "refunds_total",
				Help:      "Count of emergency refunds paid after a cancellation.",
			}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "withdrawals_total",
				Help:      "Count of owner treasury withdrawals segmented by method.",
			}, []string{"method"}),
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "sale",
				Name:      "round_transitions_total",
				Help:      "Count of round transitions segmented by trigger reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			saleRegistry.purchases,
			saleRegistry.usdRaised,
			saleRegistry.nonces,
			saleRegistry.claims,
			saleRegistry.refunds,
			saleRegistry.withdrawals,
			saleRegistry.transitions,
		)
	})
	return saleRegistry
}

func labelMethod(method string) string {
	trimmed := strings.TrimSpace(method)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

// Recorder is an events.Emitter that mirrors sale events into Prometheus
// collectors before forwarding them to the wrapped emitter.
type Recorder struct {
	metrics *saleMetrics
	next    events.Emitter
}

// NewRecorder wraps next with metric recording. Passing nil keeps recording
// without forwarding.
func NewRecorder(next events.Emitter) *Recorder {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Recorder{metrics: Sale(), next: next}
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(evt events.Event) {
	if r != nil && r.metrics != nil && evt != nil {
		r.record(evt)
	}
	if r != nil && r.next != nil {
		r.next.Emit(evt)
	}
}

func (r *Recorder) record(evt events.Event) {
	attrs := eventAttributes(evt)
	switch evt.EventType() {
	case sale.TypePurchase:
		r.metrics.purchases.WithLabelValues(labelMethod(attrs["method"])).Inc()
		if usd, ok := new(big.Int).SetString(attrs["usdValue"], 10); ok {
			value, _ := new(big.Float).SetInt(usd).Float64()
			if value > 0 {
				r.metrics.usdRaised.Add(value)
			}
		}
	case sale.TypeClaimed:
		r.metrics.claims.Inc()
	case sale.TypeRefunded:
		r.metrics.refunds.Inc()
	case sale.TypeWithdrawal:
		r.metrics.withdrawals.WithLabelValues(labelMethod(attrs["method"])).Inc()
	case sale.TypeRoundTransition:
		reason := attrs["reason"]
		if reason == "" {
			reason = "unknown"
		}
		r.metrics.transitions.WithLabelValues(reason).Inc()
	case authorizer.TypeNonceConsumed:
		r.metrics.nonces.Inc()
	}
}

// eventAttributes extracts the attribute map from emitters that expose the
// underlying typed event.
func eventAttributes(evt events.Event) map[string]string {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return nil
	}
	typed := carrier.Event()
	if typed == nil {
		return nil
	}
	return typed.Attributes
}
