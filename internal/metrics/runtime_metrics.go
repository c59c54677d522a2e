package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// RuntimeMetrics периодически снимает показатели Go-рантайма.
type RuntimeMetrics struct {
	log         *logger.Logger
	goroutines  prometheus.Gauge
	memoryAlloc prometheus.Gauge
	memorySys   prometheus.Gauge
}

// NewRuntimeMetrics создает метрики рантайма
func NewRuntimeMetrics(registry *prometheus.Registry, log *logger.Logger) *RuntimeMetrics {
	return &RuntimeMetrics{
		log: log,
		goroutines: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_goroutines",
			Help: "Current number of goroutines",
		}),
		memoryAlloc: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_memory_alloc_bytes",
			Help: "Currently allocated memory in bytes",
		}),
		memorySys: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_memory_system_bytes",
			Help: "Total memory obtained from system in bytes",
		}),
	}
}

// Collect снимает текущие показатели рантайма
func (m *RuntimeMetrics) Collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.memorySys.Set(float64(memStats.Sys))
}

// Start запускает периодический сбор до отмены контекста.
func (m *RuntimeMetrics) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Collect()
			case <-ctx.Done():
				m.log.Debugw("Runtime metrics collection stopped")
				return
			}
		}
	}()
	m.log.Infow("Runtime metrics collection started", "interval", interval)
}
