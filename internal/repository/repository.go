// Package repository определяет контракты хранения и их реализации:
// in-memory (тесты и локальные запуски) и PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound стандартная ошибка для случаев, когда запись не найдена.
var ErrNotFound = errors.New("record not found")

// ErrInvalidData неверные данные запроса к репозиторию.
var ErrInvalidData = errors.New("invalid data")

// OperatorRepository хранит операционное состояние операторов.
type OperatorRepository interface {
	// UpsertOperator сохраняет оператора
	UpsertOperator(ctx context.Context, op *domain.Operator) error

	// UpdateHealth сохраняет health score оператора
	UpdateHealth(ctx context.Context, code string, score float64, checkedAt time.Time) error

	// GetOperator возвращает оператора по коду
	GetOperator(ctx context.Context, code string) (*domain.Operator, error)
}

// SubscriptionRepository хранит подписки.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку
	Create(ctx context.Context, sub *domain.Subscription) error

	// Update обновляет существующую подписку
	Update(ctx context.Context, sub *domain.Subscription) error

	// GetByID возвращает подписку по платформенному UUID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// GetByOperatorSubID возвращает подписку по ID, выданному оператором
	GetByOperatorSubID(ctx context.Context, operatorCode, operatorSubID string) (*domain.Subscription, error)

	// GetByIdentifier возвращает подписки абонента у оператора
	GetByIdentifier(ctx context.Context, operatorCode, identifier string) ([]domain.Subscription, error)
}

// TransactionRepository хранит транзакции.
type TransactionRepository interface {
	// Create сохраняет новую транзакцию
	Create(ctx context.Context, tx *domain.Transaction) error

	// Update обновляет существующую транзакцию
	Update(ctx context.Context, tx *domain.Transaction) error

	// GetByID возвращает транзакцию по ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// GetByOperatorTxID возвращает транзакцию по ID оператора
	GetByOperatorTxID(ctx context.Context, operatorCode, operatorTxID string) (*domain.Transaction, error)

	// ListDueRetries возвращает транзакции, ожидающие ретрая
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error)
}

// WebhookEventRepository хранит вебхук-события. События не удаляются -
// они остаются для аудита.
type WebhookEventRepository interface {
	// CreateEvent сохраняет новое событие
	CreateEvent(ctx context.Context, event *domain.WebhookEvent) error

	// UpdateEvent обновляет событие
	UpdateEvent(ctx context.Context, event *domain.WebhookEvent) error

	// GetEventByID возвращает событие по ID
	GetEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)

	// GetByFingerprint возвращает событие по дедуп-ключу
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.WebhookEvent, error)

	// ClaimEvent атомарно переводит событие из одного из ожидаемых
	// статусов в processing. Возвращает false, если состояние уже ушло
	// вперед - тогда обработчик бросает эту попытку, а не обрабатывает
	// повторно.
	ClaimEvent(ctx context.Context, id uuid.UUID, from []domain.WebhookEventStatus) (bool, error)

	// ListDue возвращает события, готовые к обработке: retrying с
	// наступившим nextRetryAt и processing, зависшие дольше staleAfter
	// (воркер упал посреди обработки).
	ListDue(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.WebhookEvent, error)
}
