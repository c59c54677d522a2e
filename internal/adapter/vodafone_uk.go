package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// vodafoneUKAdapter - вариант для семейства ACR-операторов (Vodafone UK):
// абонент идентифицируется не номером, а анонимизированной ссылкой (ACR),
// которую выдает оператор. Возвраты идут через саппорт оператора, поэтому
// refund не реализован.
type vodafoneUKAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger

	UnsupportedCapabilities
}

// NewVodafoneUK создает адаптер семейства Vodafone UK.
func NewVodafoneUK(baseURL, apiKey string, log *logger.Logger) Adapter {
	return &vodafoneUKAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		log:     log,
	}
}

func (a *vodafoneUKAdapter) Name() string { return "vodafone_uk" }

func (a *vodafoneUKAdapter) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityCreateSubscription,
		domain.CapabilityCancelSubscription,
		domain.CapabilityGetSubscriptionStatus,
		domain.CapabilityCharge,
		domain.CapabilityGeneratePIN,
	}
}

func (a *vodafoneUKAdapter) RequiredFields(capability domain.Capability) []string {
	switch capability {
	case domain.CapabilityCreateSubscription:
		return []string{"identifier", "amount", "currency", "frequency", "pin"}
	case domain.CapabilityCancelSubscription, domain.CapabilityGetSubscriptionStatus:
		return []string{"subscription_id"}
	case domain.CapabilityCharge:
		return []string{"identifier", "amount", "currency"}
	case domain.CapabilityGeneratePIN:
		return []string{"identifier"}
	}
	return nil
}

// vodafoneStatusMap - нативные статусы подписки Vodafone
var vodafoneStatusMap = StatusMap{
	"SETUP":   domain.SubscriptionStatusPending,
	"LIVE":    domain.SubscriptionStatusActive,
	"HELD":    domain.SubscriptionStatusSuspended,
	"GRACE":   domain.SubscriptionStatusGrace,
	"STOPPED": domain.SubscriptionStatusCancelled,
	"PURGED":  domain.SubscriptionStatusDeleted,
}

// vodafoneTxStatusMap - нативные статусы транзакций Vodafone
var vodafoneTxStatusMap = TxStatusMap{
	"BILLED":    domain.TransactionStatusSuccess,
	"QUEUED":    domain.TransactionStatusProcessing,
	"REJECTED":  domain.TransactionStatusFailed,
	"NO_CREDIT": domain.TransactionStatusInsufficientFunds,
}

// vodafoneErrorMap - нативные коды ошибок Vodafone
var vodafoneErrorMap = ErrorMap{
	"ACR_UNKNOWN":  {Message: "anonymized reference not recognized", Sentinel: domain.ErrNotFound},
	"ACR_EXPIRED":  {Message: "anonymized reference expired"},
	"NO_CREDIT":    {Message: "subscriber has no available credit", Sentinel: domain.ErrInsufficientFunds},
	"SPEND_CAP":    {Message: "subscriber monthly spend cap reached"},
	"PIN_MISMATCH": {Message: "PIN verification failed"},
	"GW_TIMEOUT":   {Message: "carrier gateway timed out", IsTimeout: true},
}

// vodafoneResponse тело ответа Vodafone API
type vodafoneResponse struct {
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason"`
	ServiceRef   string `json:"serviceRef"`
	BillingRef   string `json:"billingRef"`
	ServiceState string `json:"serviceState"`
	BillingState string `json:"billingState"`
}

func (a *vodafoneUKAdapter) CreateSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"acr":       req.Identifier,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"frequency": req.Frequency,
		"pin":       req.PIN,
	}
	return a.call(ctx, op, "/partner/v2/services", body, req)
}

func (a *vodafoneUKAdapter) CancelSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{"serviceRef": req.SubscriptionID, "action": "STOP"}
	return a.call(ctx, op, "/partner/v2/services/action", body, req)
}

func (a *vodafoneUKAdapter) GetSubscriptionStatus(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{"serviceRef": req.SubscriptionID, "action": "QUERY"}
	return a.call(ctx, op, "/partner/v2/services/action", body, req)
}

func (a *vodafoneUKAdapter) Charge(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"acr":      req.Identifier,
		"amount":   req.Amount,
		"currency": req.Currency,
	}
	return a.call(ctx, op, "/partner/v2/payments", body, req)
}

func (a *vodafoneUKAdapter) GeneratePIN(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"acr":       req.Identifier,
		"pinLength": op.PINLength,
	}
	return a.call(ctx, op, "/partner/v2/pin", body, req)
}

// call выполняет JSON POST к Vodafone partner API и нормализует ответ.
func (a *vodafoneUKAdapter) call(ctx context.Context, op *domain.Operator, path string, body map[string]interface{}, req domain.BillingRequest) (*domain.BillingResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("vodafone: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("vodafone: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTimeoutError(op.Code, err)
		}
		return nil, domain.NewOperatorError(op.Code, "NETWORK", "vodafone gateway unreachable", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("vodafone: failed to read response: %w", err)
	}

	var resp vodafoneResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewOperatorError(op.Code, "MALFORMED", "vodafone returned non-JSON response", err)
	}

	if resp.Outcome != "ACCEPTED" {
		return nil, vodafoneErrorMap.Normalize(op.Code, resp.Reason, resp.Reason, a.log)
	}

	out := &domain.BillingResponse{
		UUID:          uuid.New(),
		OperatorCode:  op.Code,
		Identifier:    req.Identifier,
		Amount:        req.Amount,
		Currency:      op.Currency,
		OperatorSubID: resp.ServiceRef,
		Transaction: domain.TransactionInfo{
			ID:        resp.BillingRef,
			Status:    domain.TransactionStatusSuccess,
			Timestamp: time.Now(),
		},
	}
	if resp.ServiceState != "" {
		out.Status = vodafoneStatusMap.Normalize(resp.ServiceState, op.Code, a.log)
	}
	if resp.BillingState != "" {
		out.Transaction.Status = vodafoneTxStatusMap.Normalize(resp.BillingState, op.Code, a.log)
	}
	return out, nil
}
