// Package adapter содержит полиморфный контракт адаптера оператора и его
// конкретные варианты. Каждый вариант знает формат запросов своего
// оператора, таблицу маппинга статусов и таблицу маппинга ошибок.
package adapter

import (
	"context"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
)

// Adapter определяет набор операций биллинга для одного оператора или
// семейства операторов. Вариант реализует подмножество операций;
// неподдерживаемые обязаны возвращать FeatureNotSupported, а не молча
// ничего не делать.
type Adapter interface {
	// Name возвращает имя варианта адаптера
	Name() string

	// Capabilities возвращает операции, реализованные вариантом
	Capabilities() []domain.Capability

	// RequiredFields возвращает обязательные поля запроса для операции
	RequiredFields(capability domain.Capability) []string

	CreateSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	CancelSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	GetSubscriptionStatus(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	Charge(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	Refund(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	GeneratePIN(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
	CheckEligibility(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error)
}

// Invoke диспетчеризует операцию на метод адаптера. Операция должна быть
// заявлена и в наборе возможностей оператора, и в варианте адаптера.
// Перед любым сетевым вызовом входные данные проверяются по заявленным
// обязательным полям варианта: отсутствие поля - ValidationError без
// запроса к оператору.
func Invoke(ctx context.Context, a Adapter, op *domain.Operator, capability domain.Capability, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if !op.Supports(capability) || !supports(a, capability) {
		return nil, domain.NewFeatureNotSupportedError(op.Code, string(capability))
	}

	if err := validateRequired(a, capability, req); err != nil {
		return nil, err
	}

	switch capability {
	case domain.CapabilityCreateSubscription:
		return a.CreateSubscription(ctx, op, req)
	case domain.CapabilityCancelSubscription:
		return a.CancelSubscription(ctx, op, req)
	case domain.CapabilityGetSubscriptionStatus:
		return a.GetSubscriptionStatus(ctx, op, req)
	case domain.CapabilityCharge:
		return a.Charge(ctx, op, req)
	case domain.CapabilityRefund:
		return a.Refund(ctx, op, req)
	case domain.CapabilityGeneratePIN:
		return a.GeneratePIN(ctx, op, req)
	case domain.CapabilityCheckEligibility:
		return a.CheckEligibility(ctx, op, req)
	default:
		return nil, domain.NewFeatureNotSupportedError(op.Code, string(capability))
	}
}

func supports(a Adapter, capability domain.Capability) bool {
	for _, c := range a.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}

// validateRequired проверяет заявленные обязательные поля запроса
func validateRequired(a Adapter, capability domain.Capability, req domain.BillingRequest) error {
	var verrs domain.ValidationErrors
	for _, field := range a.RequiredFields(capability) {
		switch field {
		case "identifier":
			if req.Identifier == "" {
				verrs.Add("identifier", "identifier is required")
			}
		case "amount":
			if req.Amount <= 0 {
				verrs.Add("amount", "amount must be positive")
			}
		case "currency":
			if req.Currency == "" {
				verrs.Add("currency", "currency is required")
			}
		case "subscription_id":
			if req.SubscriptionID == "" {
				verrs.Add("subscription_id", "subscription_id is required")
			}
		case "transaction_id":
			if req.TransactionID == "" {
				verrs.Add("transaction_id", "transaction_id is required")
			}
		case "pin":
			if req.PIN == "" {
				verrs.Add("pin", "pin is required")
			}
		case "frequency":
			if req.Frequency == "" {
				verrs.Add("frequency", "frequency is required")
			}
		}
	}
	if verrs.HasErrors() {
		return verrs.AsBillingError()
	}
	return nil
}

// UnsupportedCapabilities - встраиваемая база для вариантов, реализующих
// подмножество операций: каждый нереализованный метод возвращает
// FeatureNotSupported.
type UnsupportedCapabilities struct{}

func (UnsupportedCapabilities) CreateSubscription(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityCreateSubscription))
}

func (UnsupportedCapabilities) CancelSubscription(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityCancelSubscription))
}

func (UnsupportedCapabilities) GetSubscriptionStatus(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityGetSubscriptionStatus))
}

func (UnsupportedCapabilities) Charge(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityCharge))
}

func (UnsupportedCapabilities) Refund(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityRefund))
}

func (UnsupportedCapabilities) GeneratePIN(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityGeneratePIN))
}

func (UnsupportedCapabilities) CheckEligibility(_ context.Context, op *domain.Operator, _ domain.BillingRequest) (*domain.BillingResponse, error) {
	return nil, domain.NewFeatureNotSupportedError(op.Code, string(domain.CapabilityCheckEligibility))
}
