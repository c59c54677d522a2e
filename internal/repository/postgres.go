package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// postgresOperatorRepo реализует OperatorRepository для PostgreSQL.
type postgresOperatorRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresOperatorRepository создает новый репозиторий операторов для PostgreSQL.
func NewPostgresOperatorRepository(db *sqlx.DB, log *logger.Logger) OperatorRepository {
	return &postgresOperatorRepo{db: db, log: log}
}

// UpsertOperator сохраняет операционное состояние оператора. Статический
// конфиг (regex, суммы, capabilities) живет в файле конфигурации, в базе
// хранится только то, что меняется на лету.
func (r *postgresOperatorRepo) UpsertOperator(ctx context.Context, op *domain.Operator) error {
	query := `
        INSERT INTO operators (
            code, country, currency, enabled, status, priority,
            health_score, last_health_check
        ) VALUES (
            :code, :country, :currency, :enabled, :status, :priority,
            :health_score, :last_health_check
        )
        ON CONFLICT (code) DO UPDATE SET
            enabled = EXCLUDED.enabled,
            status = EXCLUDED.status,
            priority = EXCLUDED.priority,
            health_score = EXCLUDED.health_score,
            last_health_check = EXCLUDED.last_health_check`

	if _, err := r.db.NamedExecContext(ctx, query, op); err != nil {
		r.log.Errorw("Failed to upsert operator in DB", "error", err, "code", op.Code)
		return fmt.Errorf("repository: failed to upsert operator: %w", err)
	}

	r.log.Debugw("Operator upserted in DB", "code", op.Code)
	return nil
}

// UpdateHealth сохраняет health score оператора.
func (r *postgresOperatorRepo) UpdateHealth(ctx context.Context, code string, score float64, checkedAt time.Time) error {
	query := `
        UPDATE operators SET
            health_score = $1,
            last_health_check = $2
        WHERE code = $3`

	result, err := r.db.ExecContext(ctx, query, score, checkedAt, code)
	if err != nil {
		r.log.Errorw("Failed to update operator health in DB", "error", err, "code", code)
		return fmt.Errorf("repository: failed to update operator health: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOperator возвращает операционное состояние оператора по коду.
func (r *postgresOperatorRepo) GetOperator(ctx context.Context, code string) (*domain.Operator, error) {
	var op domain.Operator
	query := `
        SELECT code, country, currency, enabled, status, priority,
               health_score, last_health_check
        FROM operators
        WHERE code = $1`

	if err := r.db.GetContext(ctx, &op, query, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get operator from DB", "error", err, "code", code)
		return nil, fmt.Errorf("repository: failed to get operator: %w", err)
	}
	return &op, nil
}

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый репозиторий подписок для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{db: db, log: log}
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (
            id, operator_sub_id, operator_code, identifier, status, frequency,
            amount, currency, next_payment_date, retry_count, campaign,
            created_at, updated_at
        ) VALUES (
            :id, :operator_sub_id, :operator_code, :identifier, :status, :frequency,
            :amount, :currency, :next_payment_date, :retry_count, :campaign,
            :created_at, :updated_at
        )`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Subscription created in DB", "subscriptionID", sub.ID, "operator", sub.OperatorCode)
	return nil
}

// Update обновляет изменяемые поля подписки. Подписка логически удаляется
// (status=deleted), строка из базы не стирается никогда.
func (r *postgresSubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = time.Now()

	query := `
        UPDATE subscriptions SET
            operator_sub_id = :operator_sub_id,
            status = :status,
            next_payment_date = :next_payment_date,
            retry_count = :retry_count,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		r.log.Warnw("Subscription update affected 0 rows", "subscriptionID", sub.ID)
		return ErrNotFound
	}
	return nil
}

// GetByID возвращает подписку по платформенному UUID.
func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, operator_sub_id, operator_code, identifier, status, frequency,
               amount, currency, next_payment_date, retry_count, campaign,
               created_at, updated_at
        FROM subscriptions
        WHERE id = $1`

	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return nil, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}
	return &sub, nil
}

// GetByOperatorSubID возвращает подписку по ID, выданному оператором.
// По этому ключу вебхук-движок находит подписку, о которой говорит событие.
func (r *postgresSubscriptionRepo) GetByOperatorSubID(ctx context.Context, operatorCode, operatorSubID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, operator_sub_id, operator_code, identifier, status, frequency,
               amount, currency, next_payment_date, retry_count, campaign,
               created_at, updated_at
        FROM subscriptions
        WHERE operator_code = $1 AND operator_sub_id = $2`

	if err := r.db.GetContext(ctx, &sub, query, operatorCode, operatorSubID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by operator sub ID from DB",
			"error", err, "operator", operatorCode, "operatorSubID", operatorSubID)
		return nil, fmt.Errorf("repository: failed to get subscription by operator sub ID: %w", err)
	}
	return &sub, nil
}

// GetByIdentifier возвращает подписки абонента у оператора, свежие первыми.
func (r *postgresSubscriptionRepo) GetByIdentifier(ctx context.Context, operatorCode, identifier string) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	query := `
        SELECT id, operator_sub_id, operator_code, identifier, status, frequency,
               amount, currency, next_payment_date, retry_count, campaign,
               created_at, updated_at
        FROM subscriptions
        WHERE operator_code = $1 AND identifier = $2
        ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &subs, query, operatorCode, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.Subscription{}, nil
		}
		r.log.Errorw("Failed to get subscriptions by identifier from DB",
			"error", err, "operator", operatorCode)
		return nil, fmt.Errorf("repository: failed to get subscriptions by identifier: %w", err)
	}
	return subs, nil
}

// postgresTransactionRepo реализует TransactionRepository для PostgreSQL.
type postgresTransactionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresTransactionRepository создает новый репозиторий транзакций для PostgreSQL.
func NewPostgresTransactionRepository(db *sqlx.DB, log *logger.Logger) TransactionRepository {
	return &postgresTransactionRepo{db: db, log: log}
}

// Create сохраняет новую транзакцию в базе данных.
func (r *postgresTransactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	now := time.Now()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	query := `
        INSERT INTO transactions (
            id, type, status, operator_code, identifier, amount, currency,
            operator_tx_id, refund_of, subscription_id, frequency, campaign,
            attempt_count, next_retry_at,
            error_code, error_message, created_at, updated_at
        ) VALUES (
            :id, :type, :status, :operator_code, :identifier, :amount, :currency,
            :operator_tx_id, :refund_of, :subscription_id, :frequency, :campaign,
            :attempt_count, :next_retry_at,
            :error_code, :error_message, :created_at, :updated_at
        )`

	if _, err := r.db.NamedExecContext(ctx, query, tx); err != nil {
		r.log.Errorw("Failed to create transaction in DB", "error", err, "transactionID", tx.ID)
		return fmt.Errorf("repository: failed to create transaction: %w", err)
	}

	r.log.Debugw("Transaction created in DB", "transactionID", tx.ID, "type", tx.Type, "operator", tx.OperatorCode)
	return nil
}

// Update обновляет изменяемые поля транзакции.
func (r *postgresTransactionRepo) Update(ctx context.Context, tx *domain.Transaction) error {
	tx.UpdatedAt = time.Now()

	query := `
        UPDATE transactions SET
            status = :status,
            operator_tx_id = :operator_tx_id,
            attempt_count = :attempt_count,
            next_retry_at = :next_retry_at,
            error_code = :error_code,
            error_message = :error_message,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, tx)
	if err != nil {
		r.log.Errorw("Failed to update transaction in DB", "error", err, "transactionID", tx.ID)
		return fmt.Errorf("repository: failed to update transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		r.log.Warnw("Transaction update affected 0 rows", "transactionID", tx.ID)
		return ErrNotFound
	}
	return nil
}

// GetByID возвращает транзакцию по ID.
func (r *postgresTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `
        SELECT id, type, status, operator_code, identifier, amount, currency,
               operator_tx_id, refund_of, subscription_id, frequency, campaign,
               attempt_count, next_retry_at,
               error_code, error_message, created_at, updated_at
        FROM transactions
        WHERE id = $1`

	if err := r.db.GetContext(ctx, &tx, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get transaction by ID from DB", "error", err, "transactionID", id)
		return nil, fmt.Errorf("repository: failed to get transaction by ID: %w", err)
	}
	return &tx, nil
}

// GetByOperatorTxID возвращает транзакцию по ID оператора.
func (r *postgresTransactionRepo) GetByOperatorTxID(ctx context.Context, operatorCode, operatorTxID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	query := `
        SELECT id, type, status, operator_code, identifier, amount, currency,
               operator_tx_id, refund_of, subscription_id, frequency, campaign,
               attempt_count, next_retry_at,
               error_code, error_message, created_at, updated_at
        FROM transactions
        WHERE operator_code = $1 AND operator_tx_id = $2`

	if err := r.db.GetContext(ctx, &tx, query, operatorCode, operatorTxID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get transaction by operator tx ID from DB",
			"error", err, "operator", operatorCode, "operatorTxID", operatorTxID)
		return nil, fmt.Errorf("repository: failed to get transaction by operator tx ID: %w", err)
	}
	return &tx, nil
}

// ListDueRetries возвращает транзакции с наступившим next_retry_at.
func (r *postgresTransactionRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	query := `
        SELECT id, type, status, operator_code, identifier, amount, currency,
               operator_tx_id, refund_of, subscription_id, frequency, campaign,
               attempt_count, next_retry_at,
               error_code, error_message, created_at, updated_at
        FROM transactions
        WHERE next_retry_at IS NOT NULL
          AND next_retry_at <= $1
          AND status IN ('pending', 'processing', 'insufficient_funds')
        ORDER BY next_retry_at ASC
        LIMIT $2`

	if err := r.db.SelectContext(ctx, &txs, query, now, limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.Transaction{}, nil
		}
		r.log.Errorw("Failed to list due transaction retries from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to list due retries: %w", err)
	}
	return txs, nil
}

// postgresWebhookEventRepo реализует WebhookEventRepository для PostgreSQL.
type postgresWebhookEventRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresWebhookEventRepository создает новый репозиторий вебхук-событий для PostgreSQL.
func NewPostgresWebhookEventRepository(db *sqlx.DB, log *logger.Logger) WebhookEventRepository {
	return &postgresWebhookEventRepo{db: db, log: log}
}

// CreateEvent сохраняет новое событие. Оригинальность события защищена
// частичным уникальным индексом по fingerprint для строк с
// is_duplicate = FALSE: если две одинаковые доставки проскочили проверку
// дедупликации, проигравший INSERT ловит 23505 и событие понижается до
// дубликата победителя.
func (r *postgresWebhookEventRepo) CreateEvent(ctx context.Context, event *domain.WebhookEvent) error {
	now := time.Now()
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
        INSERT INTO webhook_events (
            id, type, operator_code, payload, fingerprint, status,
            attempt_count, next_retry_at, is_duplicate, duplicate_of,
            last_attempt, processed_at, error_message, created_at, updated_at
        ) VALUES (
            :id, :type, :operator_code, :payload, :fingerprint, :status,
            :attempt_count, :next_retry_at, :is_duplicate, :duplicate_of,
            :last_attempt, :processed_at, :error_message, :created_at, :updated_at
        )`

	_, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil && !event.IsDuplicate && isUniqueViolation(err) {
		original, getErr := r.GetByFingerprint(ctx, event.Fingerprint)
		if getErr != nil {
			r.log.Errorw("Failed to resolve original for duplicate webhook event",
				"error", getErr, "eventID", event.ID)
			return fmt.Errorf("repository: failed to resolve original webhook event: %w", getErr)
		}

		origID := original.ID
		event.IsDuplicate = true
		event.DuplicateOf = &origID
		event.Status = domain.WebhookEventStatusIgnored

		r.log.Debugw("Webhook event demoted to duplicate on insert conflict",
			"eventID", event.ID, "originalID", origID)
		_, err = r.db.NamedExecContext(ctx, query, event)
	}
	if err != nil {
		r.log.Errorw("Failed to create webhook event in DB", "error", err, "eventID", event.ID)
		return fmt.Errorf("repository: failed to create webhook event: %w", err)
	}

	r.log.Debugw("Webhook event created in DB", "eventID", event.ID, "type", event.Type, "operator", event.OperatorCode)
	return nil
}

// isUniqueViolation распознает нарушение уникального индекса PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UpdateEvent обновляет состояние обработки события.
func (r *postgresWebhookEventRepo) UpdateEvent(ctx context.Context, event *domain.WebhookEvent) error {
	event.UpdatedAt = time.Now()

	query := `
        UPDATE webhook_events SET
            status = :status,
            attempt_count = :attempt_count,
            next_retry_at = :next_retry_at,
            last_attempt = :last_attempt,
            processed_at = :processed_at,
            error_message = :error_message,
            updated_at = :updated_at
        WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		r.log.Errorw("Failed to update webhook event in DB", "error", err, "eventID", event.ID)
		return fmt.Errorf("repository: failed to update webhook event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		r.log.Warnw("Webhook event update affected 0 rows", "eventID", event.ID)
		return ErrNotFound
	}
	return nil
}

// GetEventByID возвращает событие по ID.
func (r *postgresWebhookEventRepo) GetEventByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	query := `
        SELECT id, type, operator_code, payload, fingerprint, status,
               attempt_count, next_retry_at, is_duplicate, duplicate_of,
               last_attempt, processed_at, error_message, created_at, updated_at
        FROM webhook_events
        WHERE id = $1`

	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get webhook event by ID from DB", "error", err, "eventID", id)
		return nil, fmt.Errorf("repository: failed to get webhook event by ID: %w", err)
	}
	return &event, nil
}

// GetByFingerprint возвращает оригинальное (не дубликат) событие по дедуп-ключу.
func (r *postgresWebhookEventRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	query := `
        SELECT id, type, operator_code, payload, fingerprint, status,
               attempt_count, next_retry_at, is_duplicate, duplicate_of,
               last_attempt, processed_at, error_message, created_at, updated_at
        FROM webhook_events
        WHERE fingerprint = $1 AND is_duplicate = FALSE
        ORDER BY created_at ASC
        LIMIT 1`

	if err := r.db.GetContext(ctx, &event, query, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get webhook event by fingerprint from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to get webhook event by fingerprint: %w", err)
	}
	return &event, nil
}

// ClaimEvent атомарно переводит событие в processing условным UPDATE.
// Если другой воркер успел раньше, rows affected будет 0 и клейм не
// состоится - двойная обработка исключена на уровне базы.
func (r *postgresWebhookEventRepo) ClaimEvent(ctx context.Context, id uuid.UUID, from []domain.WebhookEventStatus) (bool, error) {
	if len(from) == 0 {
		return false, ErrInvalidData
	}

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query, args, err := sqlx.In(`
        UPDATE webhook_events SET
            status = 'processing',
            last_attempt = NOW(),
            updated_at = NOW()
        WHERE id = ? AND status IN (?)`, id, statuses)
	if err != nil {
		return false, fmt.Errorf("repository: failed to build claim query: %w", err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		r.log.Errorw("Failed to claim webhook event in DB", "error", err, "eventID", id)
		return false, fmt.Errorf("repository: failed to claim webhook event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to get rows affected for claim: %w", err)
	}
	return rows > 0, nil
}

// ListDue возвращает события, готовые к обработке: retrying с наступившим
// next_retry_at и processing, зависшие дольше staleAfter.
func (r *postgresWebhookEventRepo) ListDue(ctx context.Context, now time.Time, staleAfter time.Duration, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	query := `
        SELECT id, type, operator_code, payload, fingerprint, status,
               attempt_count, next_retry_at, is_duplicate, duplicate_of,
               last_attempt, processed_at, error_message, created_at, updated_at
        FROM webhook_events
        WHERE (status = 'retrying' AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
           OR (status = 'processing' AND updated_at < $2)
        ORDER BY updated_at ASC
        LIMIT $3`

	stale := now.Add(-staleAfter)
	if err := r.db.SelectContext(ctx, &events, query, now, stale, limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []domain.WebhookEvent{}, nil
		}
		r.log.Errorw("Failed to list due webhook events from DB", "error", err)
		return nil, fmt.Errorf("repository: failed to list due webhook events: %w", err)
	}
	return events, nil
}
