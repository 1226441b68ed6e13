package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of orders created at checkout",
	})

	CheckoutsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkouts_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"reason"})

	ReconcileAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_applied_total",
		Help: "Reconciliations that won the order-status CAS",
	}, []string{"source", "outcome"})

	ReconcileSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_suppressed_total",
		Help: "Reconciliations suppressed as duplicates or lost races",
	}, []string{"source", "reason"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events by ingress verdict",
	}, []string{"verdict"})

	WebhookRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook events rejected by the security pipeline",
	}, []string{"reason"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deliveries_total",
		Help: "Delivery attempts by outcome",
	}, []string{"outcome"})

	CommissionsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_recorded_total",
		Help: "Total number of sale records written",
	})

	DomainAllocationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "domain_allocations_failed_total",
		Help: "Domain allocations lost to a concurrent order",
	})

	GatewayVerifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_verify_latency_seconds",
		Help:    "Latency of payment gateway verification calls",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
