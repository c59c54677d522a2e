package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// InMemoryOperatorRepository реализация репозитория операторов в памяти
type InMemoryOperatorRepository struct {
	operators map[string]domain.Operator
	mutex     sync.RWMutex
	log       *logger.Logger
}

// NewInMemoryOperatorRepository создает новый репозиторий операторов в памяти
func NewInMemoryOperatorRepository(log *logger.Logger) *InMemoryOperatorRepository {
	return &InMemoryOperatorRepository{
		operators: make(map[string]domain.Operator),
		log:       log,
	}
}

// UpsertOperator сохраняет оператора
func (r *InMemoryOperatorRepository) UpsertOperator(ctx context.Context, op *domain.Operator) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.operators[op.Code] = *op
	return nil
}

// UpdateHealth сохраняет health score оператора
func (r *InMemoryOperatorRepository) UpdateHealth(ctx context.Context, code string, score float64, checkedAt time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	op, exists := r.operators[code]
	if !exists {
		return ErrNotFound
	}

	op.HealthScore = score
	op.LastHealthCheck = checkedAt
	r.operators[code] = op
	return nil
}

// GetOperator возвращает оператора по коду
func (r *InMemoryOperatorRepository) GetOperator(ctx context.Context, code string) (*domain.Operator, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	op, exists := r.operators[code]
	if !exists {
		return nil, ErrNotFound
	}
	return &op, nil
}

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions map[uuid.UUID]domain.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		log:           log,
	}
}

// Create сохраняет новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub.CreatedAt = time.Now()
	sub.UpdatedAt = time.Now()

	r.subscriptions[sub.ID] = *sub
	return nil
}

// Update обновляет существующую подписку
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[sub.ID]; !exists {
		return ErrNotFound
	}

	sub.UpdatedAt = time.Now()
	r.subscriptions[sub.ID] = *sub
	return nil
}

// GetByID возвращает подписку по платформенному UUID
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &sub, nil
}

// GetByOperatorSubID возвращает подписку по ID, выданному оператором
func (r *InMemorySubscriptionRepository) GetByOperatorSubID(ctx context.Context, operatorCode, operatorSubID string) (*domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.OperatorCode == operatorCode && sub.OperatorSubID == operatorSubID {
			s := sub
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

// GetByIdentifier возвращает подписки абонента у оператора
func (r *InMemorySubscriptionRepository) GetByIdentifier(ctx context.Context, operatorCode, identifier string) ([]domain.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []domain.Subscription
	for _, sub := range r.subscriptions {
		if sub.OperatorCode == operatorCode && sub.Identifier == identifier {
			out = append(out, sub)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// InMemoryTransactionRepository реализация репозитория транзакций в памяти
type InMemoryTransactionRepository struct {
	transactions map[uuid.UUID]domain.Transaction
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewInMemoryTransactionRepository создает новый репозиторий транзакций в памяти
func NewInMemoryTransactionRepository(log *logger.Logger) *InMemoryTransactionRepository {
	return &InMemoryTransactionRepository{
		transactions: make(map[uuid.UUID]domain.Transaction),
		log:          log,
	}
}

// Create сохраняет новую транзакцию
func (r *InMemoryTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tx.CreatedAt = time.Now()
	tx.UpdatedAt = time.Now()

	r.transactions[tx.ID] = *tx
	return nil
}

// Update обновляет существующую транзакцию
func (r *InMemoryTransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.transactions[tx.ID]; !exists {
		return ErrNotFound
	}

	tx.UpdatedAt = time.Now()
	r.transactions[tx.ID] = *tx
	return nil
}

// GetByID возвращает транзакцию по ID
func (r *InMemoryTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tx, exists := r.transactions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &tx, nil
}

// GetByOperatorTxID возвращает транзакцию по ID оператора
func (r *InMemoryTransactionRepository) GetByOperatorTxID(ctx context.Context, operatorCode, operatorTxID string) (*domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, tx := range r.transactions {
		if tx.OperatorCode == operatorCode && tx.OperatorTxID == operatorTxID {
			t := tx
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// ListDueRetries возвращает транзакции, ожидающие ретрая
func (r *InMemoryTransactionRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.NextRetryAt != nil && !tx.NextRetryAt.After(now) && domain.IsRetryableTransactionStatus(tx.Status) {
			out = append(out, tx)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InMemoryWebhookEventRepository реализация репозитория вебхук-событий в памяти
type InMemoryWebhookEventRepository struct {
	events       map[uuid.UUID]domain.WebhookEvent
	fingerprints map[string]uuid.UUID
	mutex        sync.RWMutex
	log          *logger.Logger
}

// NewInMemoryWebhookEventRepository создает новый репозиторий вебхук-событий в памяти
func NewInMemoryWebhookEventRepository(log *logger.Logger) *InMemoryWebhookEventRepository {
	return &InMemoryWebhookEventRepository{
		events:       make(map[uuid.UUID]domain.WebhookEvent),
		fingerprints: make(map[string]uuid.UUID),
		log:          log,
	}
}

// CreateEvent сохраняет новое событие. Отпечаток резервируется атомарно
// с записью: из двух одинаковых доставок, проскочивших проверку
// дедупликации, оригиналом остается ровно одна, вторая понижается до
// дубликата. Дубликаты отпечаток оригинала не перехватывают.
func (r *InMemoryWebhookEventRepository) CreateEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()

	if !event.IsDuplicate {
		if origID, exists := r.fingerprints[event.Fingerprint]; exists {
			dup := origID
			event.IsDuplicate = true
			event.DuplicateOf = &dup
			event.Status = domain.WebhookEventStatusIgnored
		} else {
			r.fingerprints[event.Fingerprint] = event.ID
		}
	}

	r.events[event.ID] = *event
	return nil
}

// UpdateEvent обновляет событие
func (r *InMemoryWebhookEventRepository) UpdateEvent(ctx context.Context, event *domain.WebhookEvent) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.events[event.ID]; !exists {
		return ErrNotFound
	}

	event.UpdatedAt = time.Now()
	r.events[event.ID] = *event
	return nil
}

// GetEventByID возвращает событие по ID
func (r *InMemoryWebhookEventRepository) GetEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	event, exists := r.events[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &event, nil
}

// GetByFingerprint возвращает оригинальное событие по дедуп-ключу
func (r *InMemoryWebhookEventRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	id, exists := r.fingerprints[fingerprint]
	if !exists {
		return nil, ErrNotFound
	}

	event := r.events[id]
	return &event, nil
}

// ClaimEvent атомарно переводит событие в processing
func (r *InMemoryWebhookEventRepository) ClaimEvent(ctx context.Context, id uuid.UUID, from []domain.WebhookEventStatus) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	event, exists := r.events[id]
	if !exists {
		return false, ErrNotFound
	}

	claimable := false
	for _, s := range from {
		if event.Status == s {
			claimable = true
			break
		}
	}
	if !claimable {
		return false, nil
	}

	event.Status = domain.WebhookEventStatusProcessing
	now := time.Now()
	event.LastAttempt = &now
	event.UpdatedAt = now
	r.events[id] = event
	return true, nil
}

// ListDue возвращает события, готовые к обработке
func (r *InMemoryWebhookEventRepository) ListDue(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.WebhookEvent, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []domain.WebhookEvent
	for _, event := range r.events {
		switch event.Status {
		case domain.WebhookEventStatusRetrying:
			if event.NextRetryAt != nil && !event.NextRetryAt.After(now) {
				out = append(out, event)
			}
		case domain.WebhookEventStatusProcessing:
			// Зависшая обработка: воркер умер, не доведя событие до конца
			if event.UpdatedAt.Before(now.Add(-staleAfter)) {
				out = append(out, event)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
