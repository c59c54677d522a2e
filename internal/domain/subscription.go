package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusGrace     SubscriptionStatus = "grace"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusDeleted   SubscriptionStatus = "deleted"
	SubscriptionStatusRemoved   SubscriptionStatus = "removed"
	// SubscriptionStatusUnknown - не распознанный нативный статус оператора
	SubscriptionStatusUnknown SubscriptionStatus = "unknown"
)

// SubscriptionFrequency период списания подписки
type SubscriptionFrequency string

const (
	SubscriptionFrequencyDaily   SubscriptionFrequency = "daily"
	SubscriptionFrequencyWeekly  SubscriptionFrequency = "weekly"
	SubscriptionFrequencyMonthly SubscriptionFrequency = "monthly"
)

// subscriptionTransitions таблица допустимых переходов статусов подписки
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending: {
		SubscriptionStatusTrial,
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusRemoved,
	},
	SubscriptionStatusTrial: {
		SubscriptionStatusActive,
		SubscriptionStatusSuspended,
		SubscriptionStatusCancelled,
		SubscriptionStatusDeleted,
	},
	SubscriptionStatusActive: {
		SubscriptionStatusSuspended,
		SubscriptionStatusGrace,
		SubscriptionStatusCancelled,
		SubscriptionStatusDeleted,
	},
	SubscriptionStatusSuspended: {
		SubscriptionStatusActive,
		SubscriptionStatusGrace,
		SubscriptionStatusCancelled,
		SubscriptionStatusDeleted,
	},
	SubscriptionStatusGrace: {
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusDeleted,
	},
	SubscriptionStatusCancelled: {
		SubscriptionStatusDeleted,
	},
	SubscriptionStatusDeleted: {
		SubscriptionStatusRemoved,
	},
}

// IsFinalSubscriptionStatus проверяет, что подписка завершена.
// Для завершенных подписок nextPaymentDate обязан быть null.
func IsFinalSubscriptionStatus(s SubscriptionStatus) bool {
	switch s {
	case SubscriptionStatusCancelled, SubscriptionStatusDeleted, SubscriptionStatusRemoved:
		return true
	}
	return false
}

// Subscription представляет собой подписку абонента у оператора.
// Подписка логически удаляется (status=deleted), но физически не стирается.
type Subscription struct {
	ID              uuid.UUID             `json:"id" db:"id"`
	OperatorSubID   string                `json:"operator_sub_id" db:"operator_sub_id"`
	OperatorCode    string                `json:"operator_code" db:"operator_code"`
	Identifier      string                `json:"identifier" db:"identifier"`
	Status          SubscriptionStatus    `json:"status" db:"status"`
	Frequency       SubscriptionFrequency `json:"frequency" db:"frequency"`
	Amount          float64               `json:"amount" db:"amount"`
	Currency        string                `json:"currency" db:"currency"`
	NextPaymentDate *time.Time            `json:"next_payment_date,omitempty" db:"next_payment_date"`
	RetryCount      int                   `json:"retry_count" db:"retry_count"`
	Campaign        string                `json:"campaign,omitempty" db:"campaign"`
	CreatedAt       time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at" db:"updated_at"`
}

// CanTransition проверяет допустимость перехода по таблице состояний
func (s *Subscription) CanTransition(to SubscriptionStatus) bool {
	if s.Status == to {
		return false
	}
	for _, allowed := range subscriptionTransitions[s.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ApplyStatus выполняет идемпотентное слияние статуса, пришедшего извне
// (вебхук или опрос оператора). Повторное применение того же статуса -
// no-op, а не ошибка: порядок доставки событий не гарантирован.
// Возвращает true, если состояние реально изменилось.
func (s *Subscription) ApplyStatus(to SubscriptionStatus) (bool, error) {
	if s.Status == to {
		return false, nil
	}
	if IsFinalSubscriptionStatus(s.Status) && !s.CanTransition(to) {
		// Завершенную подписку назад не оживляем
		return false, ErrTerminalState
	}
	if !s.CanTransition(to) {
		return false, ErrInvalidInput
	}

	s.Status = to
	s.UpdatedAt = time.Now()

	// Инвариант: nextPaymentDate == nil тогда и только тогда, когда
	// подписка завершена
	if IsFinalSubscriptionStatus(to) {
		s.NextPaymentDate = nil
	}
	return true, nil
}

// AdvanceNextPayment сдвигает дату следующего списания на один период
func (s *Subscription) AdvanceNextPayment(from time.Time) {
	var next time.Time
	switch s.Frequency {
	case SubscriptionFrequencyDaily:
		next = from.AddDate(0, 0, 1)
	case SubscriptionFrequencyWeekly:
		next = from.AddDate(0, 0, 7)
	default:
		next = from.AddDate(0, 1, 0)
	}
	s.NextPaymentDate = &next
	s.UpdatedAt = time.Now()
}
