package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts served requests by route pattern and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigw_http_requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apigw_http_request_duration_seconds",
		Help:    "Histogram of HTTP request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// GateRejections counts requests refused by the authorization gate.
	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigw_gate_rejections_total",
		Help: "Requests rejected by the authorization gate, by reason",
	}, []string{"reason"})

	// IPLimiterEntries is the number of client IPs tracked by the per-IP limiter.
	IPLimiterEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apigw_ip_limiter_entries",
		Help: "Number of client IPs tracked by the per-IP limiter",
	})

	// APIKeysIssued counts keys created or rotated.
	APIKeysIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigw_api_keys_issued_total",
		Help: "API key pairs issued, by tier and operation",
	}, []string{"tier", "op"})

	// WebhookDeliveries counts delivery attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apigw_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by event and outcome",
	}, []string{"event", "outcome"})

	// WebhookDeliveryDuration tracks the latency of subscriber endpoints.
	WebhookDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apigw_webhook_delivery_duration_seconds",
		Help:    "Histogram of webhook delivery attempt duration",
		Buckets: prometheus.DefBuckets,
	})

	// WebhooksDeactivated counts subscriptions switched off after repeated failure.
	WebhooksDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apigw_webhooks_deactivated_total",
		Help: "Webhooks automatically deactivated after repeated delivery failure",
	})

	// WebhookDeliveriesInFlight is the number of deliveries running or awaiting retry.
	WebhookDeliveriesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apigw_webhook_deliveries_in_flight",
		Help: "Webhook deliveries currently running or waiting for a retry",
	})

	// AuditDropped counts audit records discarded because the buffer was full.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apigw_audit_dropped_total",
		Help: "Audit records dropped because the buffer was full",
	})

	// AuditWriteErrors counts audit records that failed to persist.
	AuditWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apigw_audit_write_errors_total",
		Help: "Audit records that failed to persist",
	})
)
