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

// dtacTHAdapter - вариант для dtac (Таиланд): JSON REST API с полным
// набором операций, включая PIN-верификацию.
type dtacTHAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger
}

// NewDTACThailand создает адаптер dtac Thailand.
func NewDTACThailand(baseURL, apiKey string, log *logger.Logger) Adapter {
	return &dtacTHAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		log:     log,
	}
}

func (a *dtacTHAdapter) Name() string { return "dtac_th" }

func (a *dtacTHAdapter) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityCreateSubscription,
		domain.CapabilityCancelSubscription,
		domain.CapabilityGetSubscriptionStatus,
		domain.CapabilityCharge,
		domain.CapabilityRefund,
		domain.CapabilityGeneratePIN,
		domain.CapabilityCheckEligibility,
	}
}

func (a *dtacTHAdapter) RequiredFields(capability domain.Capability) []string {
	switch capability {
	case domain.CapabilityCreateSubscription:
		return []string{"identifier", "amount", "currency", "frequency"}
	case domain.CapabilityCancelSubscription, domain.CapabilityGetSubscriptionStatus:
		return []string{"identifier", "subscription_id"}
	case domain.CapabilityCharge:
		return []string{"identifier", "amount", "currency"}
	case domain.CapabilityRefund:
		return []string{"identifier", "transaction_id", "amount"}
	case domain.CapabilityGeneratePIN, domain.CapabilityCheckEligibility:
		return []string{"identifier"}
	}
	return nil
}

// dtacStatusMap - нативные статусы подписки dtac
var dtacStatusMap = StatusMap{
	"PENDING_SMS":  domain.SubscriptionStatusPending,
	"TRIAL":        domain.SubscriptionStatusTrial,
	"ACTIVE":       domain.SubscriptionStatusActive,
	"PARKED":       domain.SubscriptionStatusSuspended,
	"GRACE":        domain.SubscriptionStatusGrace,
	"UNSUBSCRIBED": domain.SubscriptionStatusCancelled,
	"TERMINATED":   domain.SubscriptionStatusDeleted,
}

// dtacTxStatusMap - нативные статусы транзакций dtac
var dtacTxStatusMap = TxStatusMap{
	"SUCCESS":    domain.TransactionStatusSuccess,
	"CHARGED":    domain.TransactionStatusSuccess,
	"IN_PROCESS": domain.TransactionStatusProcessing,
	"FAILED":     domain.TransactionStatusFailed,
	"REFUNDED":   domain.TransactionStatusRefunded,
}

// dtacErrorMap - нативные коды ошибок dtac
var dtacErrorMap = ErrorMap{
	"E1001": {Message: "subscriber balance too low", Sentinel: domain.ErrInsufficientFunds},
	"E1002": {Message: "subscriber barred from content billing"},
	"E1003": {Message: "amount outside operator limits"},
	"E1004": {Message: "subscription not found", Sentinel: domain.ErrNotFound},
	"E1005": {Message: "invalid or expired PIN"},
	"E9000": {Message: "dtac gateway timeout", IsTimeout: true},
}

// dtacResponse тело ответа dtac API
type dtacResponse struct {
	ResultCode     string `json:"resultCode"`
	ResultMessage  string `json:"resultMessage"`
	SubscriptionID string `json:"subscriptionId"`
	TransactionID  string `json:"transactionId"`
	SubStatus      string `json:"subscriptionStatus"`
	TxStatus       string `json:"transactionStatus"`
	Eligible       bool   `json:"eligible"`
}

func (a *dtacTHAdapter) CreateSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"msisdn":    req.Identifier,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"frequency": req.Frequency,
		"campaign":  req.Campaign,
		"pin":       req.PIN,
	}
	return a.call(ctx, op, http.MethodPost, "/v1/subscriptions", body, req)
}

func (a *dtacTHAdapter) CancelSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	path := fmt.Sprintf("/v1/subscriptions/%s/cancel", req.SubscriptionID)
	body := map[string]interface{}{"msisdn": req.Identifier}
	return a.call(ctx, op, http.MethodPost, path, body, req)
}

func (a *dtacTHAdapter) GetSubscriptionStatus(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	path := fmt.Sprintf("/v1/subscriptions/%s?msisdn=%s", req.SubscriptionID, req.Identifier)
	return a.call(ctx, op, http.MethodGet, path, nil, req)
}

func (a *dtacTHAdapter) Charge(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"msisdn":   req.Identifier,
		"amount":   req.Amount,
		"currency": req.Currency,
		"pin":      req.PIN,
	}
	return a.call(ctx, op, http.MethodPost, "/v1/charges", body, req)
}

func (a *dtacTHAdapter) Refund(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"msisdn":        req.Identifier,
		"transactionId": req.TransactionID,
		"amount":        req.Amount,
	}
	return a.call(ctx, op, http.MethodPost, "/v1/refunds", body, req)
}

func (a *dtacTHAdapter) GeneratePIN(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	body := map[string]interface{}{
		"msisdn":    req.Identifier,
		"pinLength": op.PINLength,
	}
	return a.call(ctx, op, http.MethodPost, "/v1/pin", body, req)
}

func (a *dtacTHAdapter) CheckEligibility(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	path := fmt.Sprintf("/v1/eligibility?msisdn=%s", req.Identifier)
	return a.call(ctx, op, http.MethodGet, path, nil, req)
}

// call выполняет HTTP вызов dtac API и нормализует ответ.
func (a *dtacTHAdapter) call(ctx context.Context, op *domain.Operator, method, path string, body interface{}, req domain.BillingRequest) (*domain.BillingResponse, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("dtac: failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("dtac: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTimeoutError(op.Code, err)
		}
		return nil, domain.NewOperatorError(op.Code, "NETWORK", "dtac gateway unreachable", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("dtac: failed to read response: %w", err)
	}

	var resp dtacResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewOperatorError(op.Code, "MALFORMED", "dtac returned non-JSON response", err)
	}

	if resp.ResultCode != "0" {
		return nil, dtacErrorMap.Normalize(op.Code, resp.ResultCode, resp.ResultMessage, a.log)
	}

	return a.mapResponse(op, req, &resp), nil
}

// mapResponse преобразует нативный ответ dtac в унифицированный конверт
func (a *dtacTHAdapter) mapResponse(op *domain.Operator, req domain.BillingRequest, resp *dtacResponse) *domain.BillingResponse {
	out := &domain.BillingResponse{
		UUID:          uuid.New(),
		OperatorCode:  op.Code,
		Identifier:    req.Identifier,
		Amount:        req.Amount,
		Currency:      op.Currency,
		OperatorSubID: resp.SubscriptionID,
		Transaction: domain.TransactionInfo{
			ID:        resp.TransactionID,
			Status:    domain.TransactionStatusSuccess,
			Timestamp: time.Now(),
		},
	}
	if resp.SubStatus != "" {
		out.Status = dtacStatusMap.Normalize(resp.SubStatus, op.Code, a.log)
	}
	if resp.TxStatus != "" {
		out.Transaction.Status = dtacTxStatusMap.Normalize(resp.TxStatus, op.Code, a.log)
	}
	if resp.Eligible {
		eligible := true
		out.Eligible = &eligible
	}
	return out
}
