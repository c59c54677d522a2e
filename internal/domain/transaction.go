package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType тип транзакции
type TransactionType string

const (
	TransactionTypeCharge       TransactionType = "charge"
	TransactionTypeSubscription TransactionType = "subscription"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeReversal     TransactionType = "reversal"
)

// TransactionStatus статус транзакции
type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusProcessing        TransactionStatus = "processing"
	TransactionStatusSuccess           TransactionStatus = "success"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusInsufficientFunds TransactionStatus = "insufficient_funds"
	TransactionStatusCancelled         TransactionStatus = "cancelled"
	TransactionStatusExpired           TransactionStatus = "expired"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
)

// transactionTransitions таблица допустимых переходов статусов.
// success -> refunded/partially_refunded возможен только явным вызовом
// возврата через адаптер, автоматика туда не ходит. Транзакция типа
// refund сама завершается в refunded напрямую из pending/processing.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusSuccess,
		TransactionStatusFailed,
		TransactionStatusInsufficientFunds,
		TransactionStatusCancelled,
		TransactionStatusExpired,
		TransactionStatusRefunded,
	},
	TransactionStatusProcessing: {
		TransactionStatusSuccess,
		TransactionStatusFailed,
		TransactionStatusInsufficientFunds,
		TransactionStatusCancelled,
		TransactionStatusExpired,
		TransactionStatusRefunded,
	},
	TransactionStatusInsufficientFunds: {
		TransactionStatusProcessing,
		TransactionStatusFailed,
	},
	TransactionStatusSuccess: {
		TransactionStatusRefunded,
		TransactionStatusPartiallyRefunded,
	},
	TransactionStatusPartiallyRefunded: {
		TransactionStatusRefunded,
	},
}

// IsTerminalTransactionStatus проверяет, что статус терминальный.
// partially_refunded не терминален: возможен довозврат остатка.
func IsTerminalTransactionStatus(s TransactionStatus) bool {
	switch s {
	case TransactionStatusFailed, TransactionStatusCancelled,
		TransactionStatusExpired, TransactionStatusRefunded:
		return true
	}
	return false
}

// IsRetryableTransactionStatus проверяет, что транзакция может ждать ретрая
func IsRetryableTransactionStatus(s TransactionStatus) bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusInsufficientFunds:
		return true
	}
	return false
}

// Transaction представляет собой одну попытку списания/возврата/продления.
type Transaction struct {
	ID             uuid.UUID         `json:"id" db:"id"`
	Type           TransactionType   `json:"type" db:"type"`
	Status         TransactionStatus `json:"status" db:"status"`
	OperatorCode   string            `json:"operator_code" db:"operator_code"`
	Identifier     string            `json:"identifier" db:"identifier"`
	Amount         float64           `json:"amount" db:"amount"`
	Currency       string            `json:"currency" db:"currency"`
	OperatorTxID   string            `json:"operator_tx_id,omitempty" db:"operator_tx_id"`
	// RefundOf - операторский ID исходного списания для type=refund
	RefundOf       string            `json:"refund_of,omitempty" db:"refund_of"`
	SubscriptionID *uuid.UUID        `json:"subscription_id,omitempty" db:"subscription_id"`
	// Frequency и Campaign сохраняются, чтобы ретрай мог переиграть
	// операцию тем же запросом
	Frequency      string            `json:"frequency,omitempty" db:"frequency"`
	Campaign       string            `json:"campaign,omitempty" db:"campaign"`
	AttemptCount   int               `json:"attempt_count" db:"attempt_count"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ErrorCode      string            `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage   string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// CanTransition проверяет допустимость перехода по таблице состояний
func (t *Transaction) CanTransition(to TransactionStatus) bool {
	if t.Status == to {
		return false
	}
	for _, allowed := range transactionTransitions[t.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition переводит транзакцию в новый статус.
// Переход из терминального статуса - no-op с ошибкой ErrTerminalState:
// вызывающая сторона логирует аномалию, но не роняет запрос.
func (t *Transaction) Transition(to TransactionStatus) error {
	if IsTerminalTransactionStatus(t.Status) {
		return ErrTerminalState
	}
	if !t.CanTransition(to) {
		return ErrInvalidInput
	}

	t.Status = to
	t.UpdatedAt = time.Now()

	// nextRetryAt живет только пока транзакция ретраибельна
	if !IsRetryableTransactionStatus(to) {
		t.NextRetryAt = nil
	}
	return nil
}

// ScheduleRetry назначает время следующей попытки по экспоненциальному
// бэкоффу: delay = base * multiplier^attempt, не выше ceiling.
func (t *Transaction) ScheduleRetry(base time.Duration, multiplier float64, ceiling time.Duration, maxRetries int) bool {
	if !IsRetryableTransactionStatus(t.Status) {
		return false
	}
	if t.AttemptCount >= maxRetries {
		return false
	}

	delay := base
	for i := 0; i < t.AttemptCount; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay >= ceiling {
			delay = ceiling
			break
		}
	}

	next := time.Now().Add(delay)
	t.NextRetryAt = &next
	t.UpdatedAt = time.Now()
	return true
}

// RetryBackoff - политика бэкоффа для транзакций и вебхук-событий
type RetryBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

// NextDelay вычисляет задержку для попытки с данным номером (с нуля)
func (b RetryBackoff) NextDelay(attempt int) time.Duration {
	delay := b.BaseDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	return delay
}
