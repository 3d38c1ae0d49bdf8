package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ERPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "erp_requests_total",
			Help: "Total number of ERP OData requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	ERPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "erp_request_duration_seconds",
			Help:    "ERP OData request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)
	ERPWriteBackRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "erp_writeback_retries_total",
			Help: "Total number of write-back retries due to concurrency-token conflicts",
		},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of LLM requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)
	LLMModelFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_model_fallbacks_total",
			Help: "Total number of times a fallback model was attempted",
		},
	)
	LLMPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_prompt_tokens",
			Help:    "Estimated prompt token counts per request",
			Buckets: []float64{256, 512, 1024, 2048, 4096, 8192, 16384, 32768},
		},
		[]string{"model"},
	)

	RequestsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "verification_requests_enqueued_total",
			Help: "Total number of verification requests enqueued",
		},
	)
	RequestsProcessing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "verification_requests_processing",
			Help: "Number of verification requests currently processing",
		},
	)
	RequestsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_requests_finalized_total",
			Help: "Total number of verification requests finalized by terminal status",
		},
		[]string{"status"},
	)

	DocumentsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "documents_classified_total",
			Help: "Total number of documents classified by resulting type",
		},
		[]string{"document_type"},
	)
	DocumentsRenderedSynthetic = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "documents_rendered_synthetic_total",
			Help: "Total number of documents substituted with a synthetic error page",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "State of a named circuit breaker (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
	ClassificationConfidenceDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "classification_confidence_drift",
			Help: "Absolute drift of the rolling mean classification confidence from the calibrated baseline, by model",
		},
		[]string{"model"},
	)

	DLQMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages landed on the dead letter queue",
		},
	)
	ConsumerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_consumer_failures_total",
			Help: "Total number of verification tasks that ended in failure, by code",
		},
		[]string{"code"},
	)

	// Discrepancy count distribution of completed verifications.
	DiscrepanciesHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "verification_discrepancies",
			Help:    "Distribution of discrepancy counts per completed verification",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ERPRequestsTotal)
	prometheus.MustRegister(ERPRequestDuration)
	prometheus.MustRegister(ERPWriteBackRetriesTotal)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(LLMModelFallbacksTotal)
	prometheus.MustRegister(LLMPromptTokens)
	prometheus.MustRegister(RequestsEnqueuedTotal)
	prometheus.MustRegister(RequestsProcessing)
	prometheus.MustRegister(RequestsFinalizedTotal)
	prometheus.MustRegister(DocumentsClassifiedTotal)
	prometheus.MustRegister(DocumentsRenderedSynthetic)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(ClassificationConfidenceDrift)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(ConsumerFailuresTotal)
	prometheus.MustRegister(DiscrepanciesHistogram)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueRequest() {
	RequestsEnqueuedTotal.Inc()
}

func StartProcessingRequest() {
	RequestsProcessing.Inc()
}

// EndProcessingRequest is the paired decrement for StartProcessingRequest.
// The orchestrator defers it so the gauge survives every exit path.
func EndProcessingRequest() {
	RequestsProcessing.Dec()
}

// FinalizeRequest records the terminal status of one verification request.
func FinalizeRequest(status string) {
	RequestsFinalizedTotal.WithLabelValues(status).Inc()
}

// ObserveVerification records outcome distributions of a completed run.
func ObserveVerification(discrepancies int) {
	if discrepancies >= 0 {
		DiscrepanciesHistogram.Observe(float64(discrepancies))
	}
}

// RecordConsumerFailure counts one failed verification task under its code.
func RecordConsumerFailure(code string) {
	ConsumerFailuresTotal.WithLabelValues(code).Inc()
}

// RecordBreakerState exposes a breaker state transition on the gauge.
func RecordBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
