package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	idempotencyCounter     *prometheus.CounterVec
	webhookCounter         *prometheus.CounterVec
	creditCounter          *prometheus.CounterVec
	withdrawalCounter      *prometheus.CounterVec
	rateLookupCounter      *prometheus.CounterVec
	providerLatency        *prometheus.HistogramVec
	notificationCounter    *prometheus.CounterVec
	unmatchedCounter       prometheus.Counter
	manualReviewQueueGauge prometheus.Gauge
	manualReviewCounter    *prometheus.CounterVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		webhookCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Inbound payment webhooks by provider and outcome",
		}, []string{"provider", "outcome"})

		creditCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casino_credit_calls_total",
			Help: "Casino credit attempts by bookmaker and result",
		}, []string{"bookmaker", "result"})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_attempts_total",
			Help: "Withdrawal code checks and payouts by bookmaker and result",
		}, []string{"bookmaker", "result"})

		rateLookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_resolutions_total",
			Help: "Exchange rate resolutions by path",
		}, []string{"path"})

		providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Latency of outbound provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider", "op"})

		notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by outcome",
		}, []string{"outcome"})

		unmatchedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_unmatched_total",
			Help: "Payments that could not be bound to a request",
		})

		manualReviewQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "requests_manual_queue_size",
			Help: "Current number of requests waiting for an operator",
		})

		manualReviewCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_manual_transitions_total",
			Help: "Operator queue transitions and resolutions",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			webhookCounter,
			creditCounter,
			withdrawalCounter,
			rateLookupCounter,
			providerLatency,
			notificationCounter,
			unmatchedCounter,
			manualReviewQueueGauge,
			manualReviewCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWebhook(provider, outcome string) {
	if webhookCounter == nil {
		return
	}
	webhookCounter.WithLabelValues(provider, outcome).Inc()
}

func IncrementCredit(bookmaker, result string) {
	if creditCounter == nil {
		return
	}
	creditCounter.WithLabelValues(bookmaker, result).Inc()
}

func IncrementWithdrawal(bookmaker, result string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(bookmaker, result).Inc()
}

func IncrementRateResolution(path string) {
	if rateLookupCounter == nil {
		return
	}
	rateLookupCounter.WithLabelValues(path).Inc()
}

func ObserveProviderCall(provider, op string, duration time.Duration) {
	if providerLatency == nil {
		return
	}
	providerLatency.WithLabelValues(provider, op).Observe(duration.Seconds())
}

func IncrementNotification(outcome string) {
	if notificationCounter == nil {
		return
	}
	notificationCounter.WithLabelValues(outcome).Inc()
}

func IncrementUnmatchedPayment() {
	if unmatchedCounter == nil {
		return
	}
	unmatchedCounter.Inc()
}

func SetManualReviewQueueSize(size int64) {
	if manualReviewQueueGauge == nil {
		return
	}
	manualReviewQueueGauge.Set(float64(size))
}

func IncrementManualReviewTransition(action string) {
	if manualReviewCounter == nil {
		return
	}
	manualReviewCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
