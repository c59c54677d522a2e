package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// HealthSink принимает сигналы успеха/неуспеха завершенных вызовов
// адаптера. Реализуется реестром операторов.
type HealthSink interface {
	RecordResult(operatorCode string, success bool)
}

// DurationObserver принимает длительности вызовов адаптера.
// Реализуется слоем метрик.
type DurationObserver interface {
	ObserveAdapterCall(operatorCode string, capability string, success bool, duration time.Duration)
}

// instrumentedAdapter - единый execute-with-logging обертка вокруг любого
// варианта: фиксирует старт, сырой запрос, сырой ответ/сбой и длительность
// каждого вызова, а по завершении отдает сигнал в health scorer.
type instrumentedAdapter struct {
	next    Adapter
	health  HealthSink
	metrics DurationObserver
	log     *logger.Logger
}

// Instrument оборачивает вариант адаптера в execute-with-logging слой.
func Instrument(next Adapter, health HealthSink, metrics DurationObserver, log *logger.Logger) Adapter {
	return &instrumentedAdapter{
		next:    next,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

func (i *instrumentedAdapter) Name() string { return i.next.Name() }

func (i *instrumentedAdapter) Capabilities() []domain.Capability { return i.next.Capabilities() }

func (i *instrumentedAdapter) RequiredFields(capability domain.Capability) []string {
	return i.next.RequiredFields(capability)
}

type adapterCall func(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)

// exec выполняет вызов варианта с логированием и учетом здоровья.
// Таймаут считается неуспехом для health score, но наверх уходит как
// неопределенный исход (Timeout), а не как окончательный отказ.
func (i *instrumentedAdapter) exec(ctx context.Context, capability domain.Capability, op *domain.Operator, req domain.BillingRequest, call adapterCall) (*domain.BillingResponse, error) {
	start := time.Now()
	i.log.Debugw("Adapter call started",
		"adapter", i.next.Name(),
		"operator", op.Code,
		"capability", capability,
		"identifier", req.Identifier,
		"amount", req.Amount,
		"currency", req.Currency,
	)

	resp, err := call(ctx, op, req)
	duration := time.Since(start)

	success := err == nil
	if err != nil {
		var berr *domain.BillingError
		if errors.As(err, &berr) && berr.Code == domain.ErrCodeValidation {
			// Запрос не дошел до сети - здоровье оператора ни при чем
			i.log.Warnw("Adapter call rejected by validation",
				"adapter", i.next.Name(), "operator", op.Code, "capability", capability, "error", err)
			return nil, err
		}
		i.log.Errorw("Adapter call failed",
			"adapter", i.next.Name(),
			"operator", op.Code,
			"capability", capability,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
	} else {
		i.log.Infow("Adapter call completed",
			"adapter", i.next.Name(),
			"operator", op.Code,
			"capability", capability,
			"duration_ms", duration.Milliseconds(),
			"status", resp.Status,
			"tx_status", resp.Transaction.Status,
		)
	}

	if i.health != nil {
		i.health.RecordResult(op.Code, success)
	}
	if i.metrics != nil {
		i.metrics.ObserveAdapterCall(op.Code, string(capability), success, duration)
	}

	return resp, err
}

func (i *instrumentedAdapter) CreateSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityCreateSubscription, op, req, i.next.CreateSubscription)
}

func (i *instrumentedAdapter) CancelSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityCancelSubscription, op, req, i.next.CancelSubscription)
}

func (i *instrumentedAdapter) GetSubscriptionStatus(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityGetSubscriptionStatus, op, req, i.next.GetSubscriptionStatus)
}

func (i *instrumentedAdapter) Charge(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityCharge, op, req, i.next.Charge)
}

func (i *instrumentedAdapter) Refund(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityRefund, op, req, i.next.Refund)
}

func (i *instrumentedAdapter) GeneratePIN(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityGeneratePIN, op, req, i.next.GeneratePIN)
}

func (i *instrumentedAdapter) CheckEligibility(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	return i.exec(ctx, domain.CapabilityCheckEligibility, op, req, i.next.CheckEligibility)
}
