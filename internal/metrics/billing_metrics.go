// Package metrics собирает Prometheus-метрики биллингового шлюза.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	IncBillingRequest(operator, capability string)
	IncTransactionStatus(operator, status string)
	IncWebhookReceived(operator, result string)
	IncWebhookProcessed(operator, status string)
	ObserveAdapterCall(operatorCode, capability string, success bool, duration time.Duration)
	SetOperatorHealth(operator string, score float64)
}

type billingMetrics struct {
	log               *logger.Logger
	billingRequests   *prometheus.CounterVec
	transactionStatus *prometheus.CounterVec
	webhooksReceived  *prometheus.CounterVec
	webhooksProcessed *prometheus.CounterVec
	adapterDuration   *prometheus.HistogramVec
	operatorHealth    *prometheus.GaugeVec
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	billingRequests := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_requests_total",
			Help: "The total number of billing requests by operator and capability",
		},
		[]string{"operator", "capability"},
	)

	transactionStatus := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_transactions_total",
			Help: "The total number of transactions by operator and final status",
		},
		[]string{"operator", "status"},
	)

	webhooksReceived := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhooks_received_total",
			Help: "The total number of webhook events by ingest result",
		},
		[]string{"operator", "result"},
	)

	webhooksProcessed := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhooks_processed_total",
			Help: "The total number of webhook processing outcomes",
		},
		[]string{"operator", "status"},
	)

	adapterDuration := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_adapter_call_seconds",
			Help:    "Adapter call duration distribution",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		},
		[]string{"operator", "capability", "outcome"},
	)

	operatorHealth := promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_operator_health_score",
			Help: "Current operator health score (0..1)",
		},
		[]string{"operator"},
	)

	return &billingMetrics{
		log:               log,
		billingRequests:   billingRequests,
		transactionStatus: transactionStatus,
		webhooksReceived:  webhooksReceived,
		webhooksProcessed: webhooksProcessed,
		adapterDuration:   adapterDuration,
		operatorHealth:    operatorHealth,
	}
}

// IncBillingRequest увеличивает счетчик запросов биллинга
func (m *billingMetrics) IncBillingRequest(operator, capability string) {
	m.billingRequests.WithLabelValues(operator, capability).Inc()
}

// IncTransactionStatus увеличивает счетчик транзакций по статусу
func (m *billingMetrics) IncTransactionStatus(operator, status string) {
	m.transactionStatus.WithLabelValues(operator, status).Inc()
}

// IncWebhookReceived увеличивает счетчик принятых вебхуков
func (m *billingMetrics) IncWebhookReceived(operator, result string) {
	m.webhooksReceived.WithLabelValues(operator, result).Inc()
}

// IncWebhookProcessed увеличивает счетчик обработанных вебхуков
func (m *billingMetrics) IncWebhookProcessed(operator, status string) {
	m.webhooksProcessed.WithLabelValues(operator, status).Inc()
}

// ObserveAdapterCall записывает длительность вызова адаптера
func (m *billingMetrics) ObserveAdapterCall(operatorCode, capability string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.adapterDuration.WithLabelValues(operatorCode, capability, outcome).Observe(duration.Seconds())
}

// SetOperatorHealth записывает текущий health score оператора
func (m *billingMetrics) SetOperatorHealth(operator string, score float64) {
	m.operatorHealth.WithLabelValues(operator).Set(score)
}
