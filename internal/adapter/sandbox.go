package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// sandboxAdapter - детерминированный вариант без сети для тестов и
// локальных запусков. Исход вызова определяется суффиксом идентификатора:
//
//	...0000 - insufficient funds
//	...9999 - таймаут оператора
//	...6666 - generic операторская ошибка
//	иначе   - успех
type sandboxAdapter struct {
	log *logger.Logger
}

// NewSandbox создает sandbox-адаптер.
func NewSandbox(log *logger.Logger) Adapter {
	return &sandboxAdapter{log: log}
}

func (a *sandboxAdapter) Name() string { return "sandbox" }

func (a *sandboxAdapter) Capabilities() []domain.Capability {
	return domain.AllCapabilities
}

func (a *sandboxAdapter) RequiredFields(capability domain.Capability) []string {
	switch capability {
	case domain.CapabilityCreateSubscription:
		return []string{"identifier", "amount", "currency", "frequency"}
	case domain.CapabilityCancelSubscription, domain.CapabilityGetSubscriptionStatus:
		return []string{"subscription_id"}
	case domain.CapabilityCharge:
		return []string{"identifier", "amount", "currency"}
	case domain.CapabilityRefund:
		return []string{"transaction_id", "amount"}
	case domain.CapabilityGeneratePIN, domain.CapabilityCheckEligibility:
		return []string{"identifier"}
	}
	return nil
}

// outcome возвращает запрограммированный исход для идентификатора
func (a *sandboxAdapter) outcome(op *domain.Operator, identifier string) error {
	switch {
	case strings.HasSuffix(identifier, "0000"):
		return domain.NewOperatorError(op.Code, "SBX_NO_FUNDS", "sandbox: insufficient funds", domain.ErrInsufficientFunds)
	case strings.HasSuffix(identifier, "9999"):
		return domain.NewTimeoutError(op.Code, context.DeadlineExceeded)
	case strings.HasSuffix(identifier, "6666"):
		return domain.NewOperatorError(op.Code, "SBX_FAULT", "sandbox: generic operator fault", nil)
	}
	return nil
}

func (a *sandboxAdapter) respond(op *domain.Operator, req domain.BillingRequest, status domain.SubscriptionStatus, txStatus domain.TransactionStatus) *domain.BillingResponse {
	return &domain.BillingResponse{
		UUID:          uuid.New(),
		OperatorCode:  op.Code,
		Identifier:    req.Identifier,
		Amount:        req.Amount,
		Currency:      op.Currency,
		Status:        status,
		OperatorSubID: "sbx-" + uuid.NewString()[:8],
		Transaction: domain.TransactionInfo{
			ID:        "sbx-tx-" + uuid.NewString()[:8],
			Status:    txStatus,
			Timestamp: time.Now(),
		},
	}
}

func (a *sandboxAdapter) CreateSubscription(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if err := a.outcome(op, req.Identifier); err != nil {
		return nil, err
	}
	return a.respond(op, req, domain.SubscriptionStatusActive, domain.TransactionStatusSuccess), nil
}

func (a *sandboxAdapter) CancelSubscription(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if err := a.outcome(op, req.Identifier); err != nil {
		return nil, err
	}
	resp := a.respond(op, req, domain.SubscriptionStatusCancelled, domain.TransactionStatusSuccess)
	resp.OperatorSubID = req.SubscriptionID
	return resp, nil
}

func (a *sandboxAdapter) GetSubscriptionStatus(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	resp := a.respond(op, req, domain.SubscriptionStatusActive, domain.TransactionStatusSuccess)
	resp.OperatorSubID = req.SubscriptionID
	return resp, nil
}

func (a *sandboxAdapter) Charge(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if err := a.outcome(op, req.Identifier); err != nil {
		return nil, err
	}
	return a.respond(op, req, "", domain.TransactionStatusSuccess), nil
}

func (a *sandboxAdapter) Refund(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if err := a.outcome(op, req.Identifier); err != nil {
		return nil, err
	}
	// Возврат получает собственный операторский ID, как у реальных операторов
	return a.respond(op, req, "", domain.TransactionStatusRefunded), nil
}

func (a *sandboxAdapter) GeneratePIN(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	if err := a.outcome(op, req.Identifier); err != nil {
		return nil, err
	}
	return a.respond(op, req, "", domain.TransactionStatusSuccess), nil
}

func (a *sandboxAdapter) CheckEligibility(_ context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	resp := a.respond(op, req, "", domain.TransactionStatusSuccess)
	eligible := !strings.HasSuffix(req.Identifier, "0000")
	resp.Eligible = &eligible
	return resp, nil
}
