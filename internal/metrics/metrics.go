package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broadcast Metrics
var (
	// BroadcastRunsTotal tracks finished broadcast runs by outcome (completed/cancelled/aborted)
	BroadcastRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_broadcast_runs_total",
			Help: "Finished broadcast runs by outcome",
		},
		[]string{"outcome"},
	)

	// BroadcastSendsTotal tracks per-recipient results; class is empty on success
	BroadcastSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_broadcast_sends_total",
			Help: "Per-recipient broadcast sends by result and error class",
		},
		[]string{"result", "class"},
	)

	// BroadcastInFlight tracks sends currently holding a limiter permit
	BroadcastInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offerbot_broadcast_inflight_sends",
			Help: "Broadcast sends currently in flight",
		},
	)

	// BroadcastRunDuration tracks wall time of a whole run in seconds
	BroadcastRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "offerbot_broadcast_run_duration_seconds",
			Help:    "Broadcast run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	// RelayTotal tracks relay attempts by result (ok/failed/unsupported)
	RelayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_relay_total",
			Help: "Message relay attempts by result",
		},
		[]string{"result"},
	)
)

// Lead Metrics
var (
	// LeadsTotal tracks lead submissions by result (recorded/duplicate/error)
	LeadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_leads_total",
			Help: "Lead submissions by result",
		},
		[]string{"result"},
	)

	// NotifierTotal tracks notification adapter calls by notifier and status
	NotifierTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_notifier_total",
			Help: "Notification adapter calls by notifier and status",
		},
		[]string{"notifier", "status"},
	)

	// NotifierDuration tracks notification adapter latency in seconds
	NotifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerbot_notifier_duration_seconds",
			Help:    "Notification adapter call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"notifier"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offerbot_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// ReconcileRowsTotal tracks rows appended by the spreadsheet reconcile
	ReconcileRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offerbot_sheet_reconcile_rows_total",
			Help: "Rows appended to the spreadsheet by reconcile",
		},
	)
)

// Bot and HTTP Metrics
var (
	// UpdatesTotal tracks incoming bot updates by bot and kind
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_updates_total",
			Help: "Incoming bot updates by bot and kind",
		},
		[]string{"bot", "kind"},
	)

	// UpdatesDropped tracks updates dropped because a queue was full
	UpdatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_updates_dropped_total",
			Help: "Bot updates dropped due to full queues",
		},
		[]string{"bot"},
	)

	// HandlerTotal tracks routed updates by bot, route and result
	HandlerTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_handler_total",
			Help: "Routed bot updates by bot, route and result",
		},
		[]string{"bot", "route", "result"},
	)

	// ClientsRegistered tracks first-time /start registrations
	ClientsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offerbot_clients_registered_total",
			Help: "New clients registered via /start",
		},
	)

	// HTTPRequestsTotal tracks API requests by route, method and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerbot_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks API latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
