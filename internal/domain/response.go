package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionInfo вложенная часть унифицированного ответа о транзакции
type TransactionInfo struct {
	ID        string            `json:"id"`
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// BillingResponse унифицированный конверт ответа адаптера.
// Каждый вариант адаптера маппит свой нативный ответ в эту структуру;
// наружу операторские форматы не выходят.
type BillingResponse struct {
	UUID         uuid.UUID          `json:"uuid"`
	OperatorCode string             `json:"operator_code"`
	Identifier   string             `json:"identifier"`
	Amount       float64            `json:"amount"`
	Currency     string             `json:"currency"`
	Status       SubscriptionStatus `json:"status"`
	// OperatorSubID - ID подписки, выданный оператором
	OperatorSubID string          `json:"operator_sub_id,omitempty"`
	Transaction   TransactionInfo `json:"transaction"`
	// CheckoutURL присутствует только у checkout-only операторов
	CheckoutURL string `json:"checkout_url,omitempty"`
	// Eligible заполняется операцией checkEligibility
	Eligible *bool `json:"eligible,omitempty"`
}

// BillingRequest входные параметры операции биллинга.
// Identifier не обязателен на уровне привязки: операции над существующей
// подпиской могут приходить с одним subscription_id, абонент
// восстанавливается из подписки.
type BillingRequest struct {
	Identifier string            `json:"identifier"`
	Amount     float64           `json:"amount"`
	Currency   string            `json:"currency"`
	Campaign   string            `json:"campaign,omitempty"`
	Frequency  string            `json:"frequency,omitempty"`
	PIN        string            `json:"pin,omitempty"`
	// SubscriptionID обязателен для операций над существующей подпиской
	SubscriptionID string            `json:"subscription_id,omitempty"`
	TransactionID  string            `json:"transaction_id,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
}
