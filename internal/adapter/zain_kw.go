package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// zainKWAdapter - вариант для Zain (Кувейт): form-encoded API,
// checkout-only оператор. Подписки и PIN идут через hosted checkout
// страницу оператора, поэтому адаптер реализует только charge, refund и
// проверку eligibility.
type zainKWAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger

	UnsupportedCapabilities
}

// NewZainKuwait создает адаптер Zain Kuwait.
func NewZainKuwait(baseURL, apiKey string, log *logger.Logger) Adapter {
	return &zainKWAdapter{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		log:     log,
	}
}

func (a *zainKWAdapter) Name() string { return "zain_kw" }

func (a *zainKWAdapter) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityCharge,
		domain.CapabilityRefund,
		domain.CapabilityCheckEligibility,
	}
}

func (a *zainKWAdapter) RequiredFields(capability domain.Capability) []string {
	switch capability {
	case domain.CapabilityCharge:
		return []string{"identifier", "amount", "currency"}
	case domain.CapabilityRefund:
		return []string{"transaction_id", "amount"}
	case domain.CapabilityCheckEligibility:
		return []string{"identifier"}
	}
	return nil
}

// zainErrorMap - нативные коды ошибок Zain
var zainErrorMap = ErrorMap{
	"105": {Message: "insufficient prepaid balance", Sentinel: domain.ErrInsufficientFunds},
	"106": {Message: "postpaid credit limit exceeded", Sentinel: domain.ErrInsufficientFunds},
	"201": {Message: "subscriber opted out of third-party billing"},
	"202": {Message: "transaction not found", Sentinel: domain.ErrNotFound},
	"301": {Message: "upstream charging node timeout", IsTimeout: true},
}

// zainResponse тело ответа Zain (JSON поверх form-encoded запросов)
type zainResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	RefID       string `json:"refId"`
	State       string `json:"state"`
	CheckoutURL string `json:"checkoutUrl"`
	Eligible    string `json:"eligible"`
}

func (a *zainKWAdapter) Charge(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	form := url.Values{}
	form.Set("msisdn", req.Identifier)
	form.Set("amount", strconv.FormatFloat(req.Amount, 'f', 3, 64))
	form.Set("currency", req.Currency)
	if req.Campaign != "" {
		form.Set("serviceId", req.Campaign)
	}
	return a.call(ctx, op, "/charging/submit", form, req)
}

func (a *zainKWAdapter) Refund(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	form := url.Values{}
	form.Set("refId", req.TransactionID)
	form.Set("amount", strconv.FormatFloat(req.Amount, 'f', 3, 64))
	return a.call(ctx, op, "/charging/refund", form, req)
}

func (a *zainKWAdapter) CheckEligibility(ctx context.Context, op *domain.Operator, req domain.BillingRequest) (*domain.BillingResponse, error) {
	form := url.Values{}
	form.Set("msisdn", req.Identifier)
	return a.call(ctx, op, "/charging/eligibility", form, req)
}

// call выполняет form-encoded POST к Zain API и нормализует ответ.
func (a *zainKWAdapter) call(ctx context.Context, op *domain.Operator, path string, form url.Values, req domain.BillingRequest) (*domain.BillingResponse, error) {
	form.Set("apiKey", a.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("zain: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTimeoutError(op.Code, err)
		}
		return nil, domain.NewOperatorError(op.Code, "NETWORK", "zain gateway unreachable", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("zain: failed to read response: %w", err)
	}

	var resp zainResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, domain.NewOperatorError(op.Code, "MALFORMED", "zain returned unparseable response", err)
	}

	if resp.Code != "000" {
		return nil, zainErrorMap.Normalize(op.Code, resp.Code, resp.Description, a.log)
	}

	return a.mapResponse(op, req, &resp), nil
}

// zainTxStatusMap - нативные состояния транзакций Zain
var zainTxStatusMap = TxStatusMap{
	"OK":       domain.TransactionStatusSuccess,
	"PENDING":  domain.TransactionStatusProcessing,
	"DECLINED": domain.TransactionStatusFailed,
	"REVERSED": domain.TransactionStatusRefunded,
	"REDIRECT": domain.TransactionStatusPending,
}

// mapResponse преобразует нативный ответ Zain в унифицированный конверт.
// Для checkout-only флоу транзакция остается pending до колбэка оператора.
func (a *zainKWAdapter) mapResponse(op *domain.Operator, req domain.BillingRequest, resp *zainResponse) *domain.BillingResponse {
	out := &domain.BillingResponse{
		UUID:         uuid.New(),
		OperatorCode: op.Code,
		Identifier:   req.Identifier,
		Amount:       req.Amount,
		Currency:     op.Currency,
		CheckoutURL:  resp.CheckoutURL,
		Transaction: domain.TransactionInfo{
			ID:        resp.RefID,
			Status:    zainTxStatusMap.Normalize(resp.State, op.Code, a.log),
			Timestamp: time.Now(),
		},
	}
	if resp.Eligible != "" {
		eligible := resp.Eligible == "Y"
		out.Eligible = &eligible
	}
	return out
}
