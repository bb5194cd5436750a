package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Number of connected websocket view subscribers",
	})

	// gRPC метрики
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests",
	}, []string{"method", "status"})

	GRPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grpc_request_duration_seconds",
		Help:    "gRPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	// метрики хранилища
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	StoreReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_watch_reconnects_total",
		Help: "Total number of restored store change feeds",
	}, []string{"driver"})

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_messages_received_total",
		Help: "Total number of MQTT messages received",
	}, []string{"topic"})

	MQTTConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mqtt_connection_state",
		Help: "Current MQTT connection state (1 for the active state label)",
	}, []string{"state"})

	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payload_parse_errors_total",
		Help: "Total number of dropped payloads that failed to parse",
	}, []string{"source", "topic"})

	// метрики конвейера агрегации
	AggregatorUpdatesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_updates_received_total",
		Help: "Total number of updates received by the aggregator",
	})

	AggregatorUpdatesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_updates_processed_total",
		Help: "Total number of updates turned into views",
	})

	AggregatorUpdatesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregator_updates_dropped_total",
		Help: "Total number of updates dropped before aggregation",
	}, []string{"reason"})

	AggregatorViewBuildTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_view_build_seconds",
		Help:    "Histogram of view build durations",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15), // от 10µs до ~160ms
	})

	AggregatorActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_active_workers",
		Help: "Current number of active workers owning topic windows",
	})

	WindowSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "window_size",
		Help: "Number of readings currently held in a topic window",
	}, []string{"topic"})
)
