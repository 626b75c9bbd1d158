package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
)

// Metrics records verification outcomes in Prometheus and, when enabled,
// CloudWatch.
type Metrics struct {
	outcomes       *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	auditDropped   prometheus.Counter
	cloudwatch     *aws_pkg.MetricsClient
}

func NewMetrics(reg prometheus.Registerer, cw *aws_pkg.MetricsClient) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "verification_outcomes_total",
			Help:      "Verification requests by mode and outcome.",
		}, []string{"mode", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Name:      "gateway_request_seconds",
			Help:      "Latency of payment gateway verify calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"outcome"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "audit_entries_dropped_total",
			Help:      "Audit entries dropped because the queue was full.",
		}),
		cloudwatch: cw,
	}
	reg.MustRegister(m.outcomes, m.gatewayLatency, m.auditDropped)
	return m
}

// cloudWatchOutcomes maps outcomes to the CloudWatch business metric they
// increment.
var cloudWatchOutcomes = map[string]string{
	"order_fulfilled":        aws_pkg.MetricOrdersCreated,
	"fulfillment_failed":     aws_pkg.MetricOrdersFailed,
	"payment_not_successful": aws_pkg.MetricPaymentFailed,
	"amount_mismatch":        aws_pkg.MetricAmountMismatch,
	"subscription_updated":   aws_pkg.MetricSubscriptionsActivated,
}

func (m *Metrics) ObserveOutcome(mode Mode, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(mode), outcome).Inc()

	if name, ok := cloudWatchOutcomes[outcome]; ok {
		m.sendCloudWatch(func(ctx context.Context, dims map[string]string) error {
			return m.cloudwatch.RecordCount(ctx, name, dims)
		})
	}
}

func (m *Metrics) ObserveGateway(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(outcome).Observe(d.Seconds())
	m.sendCloudWatch(func(ctx context.Context, dims map[string]string) error {
		dims["Outcome"] = outcome
		return m.cloudwatch.RecordLatency(ctx, aws_pkg.MetricGatewayLatency, d, dims)
	})
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
	m.sendCloudWatch(func(ctx context.Context, dims map[string]string) error {
		return m.cloudwatch.RecordCount(ctx, aws_pkg.MetricAuditDropped, dims)
	})
}

// sendCloudWatch runs put off the request path. It is a no-op when CloudWatch
// is disabled.
func (m *Metrics) sendCloudWatch(put func(ctx context.Context, dims map[string]string) error) {
	if !m.cloudwatch.IsEnabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = put(ctx, map[string]string{"Service": "checkout-service"})
	}()
}
