package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/kafka"
	"github.com/Dhoini/Carrier-billing-gateway/internal/metrics"
	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/internal/repository"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
	"github.com/google/uuid"
)

// staleProcessingAfter - порог, после которого processing-событие считается
// брошенным упавшим воркером и возвращается в обработку.
const staleProcessingAfter = 5 * time.Minute

// WebhookService определяет интерфейс движка вебхуков.
type WebhookService interface {
	// Ingest принимает событие от оператора: дедуплицирует и сохраняет.
	// Дубликат - не ошибка, а нормальный исход с результатом duplicate.
	Ingest(ctx context.Context, req domain.WebhookEventRequest) (domain.WebhookIngestResult, *domain.WebhookEvent, error)

	// ProcessEvent обрабатывает принятое событие: атомарный клейм, затем
	// идемпотентное применение к подписке или транзакции.
	ProcessEvent(ctx context.Context, eventID uuid.UUID) error

	// Sweep выполняет одну итерацию добора: события retrying с наступившим
	// nextRetryAt и зависшие processing.
	Sweep(ctx context.Context) int

	// StartSweepLoop запускает периодический добор до отмены контекста.
	StartSweepLoop(ctx context.Context, interval time.Duration)
}

type webhookService struct {
	registry    *registry.Registry
	eventRepo   repository.WebhookEventRepository
	subRepo     repository.SubscriptionRepository
	txRepo      repository.TransactionRepository
	producer    kafka.Producer
	metrics     metrics.BillingMetrics
	backoff     domain.RetryBackoff
	maxAttempts int
	log         *logger.Logger
}

// NewWebhookService создает движок вебхуков.
func NewWebhookService(
	reg *registry.Registry,
	eventRepo repository.WebhookEventRepository,
	subRepo repository.SubscriptionRepository,
	txRepo repository.TransactionRepository,
	producer kafka.Producer,
	m metrics.BillingMetrics,
	backoff domain.RetryBackoff,
	maxAttempts int,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		registry:    reg,
		eventRepo:   eventRepo,
		subRepo:     subRepo,
		txRepo:      txRepo,
		producer:    producer,
		metrics:     m,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Ingest принимает событие от оператора. Каждая доставка фиксируется для аудита:
// дубликат сохраняется отдельной записью со ссылкой на оригинал, но в
// обработку не уходит.
func (s *webhookService) Ingest(ctx context.Context, req domain.WebhookEventRequest) (domain.WebhookIngestResult, *domain.WebhookEvent, error) {
	if req.Type == "" || req.OperatorCode == "" {
		s.countIngest(req.OperatorCode, domain.WebhookIngestRejected)
		return domain.WebhookIngestRejected, nil, domain.NewValidationError("webhook event type and operator_code are required")
	}

	if _, _, err := s.registry.Lookup(req.OperatorCode); err != nil {
		s.log.Warnw("Webhook from unknown operator rejected", "operator", req.OperatorCode, "type", req.Type)
		s.countIngest(req.OperatorCode, domain.WebhookIngestRejected)
		return domain.WebhookIngestRejected, nil, domain.NewNotFoundError("operator", req.OperatorCode)
	}

	fingerprint := domain.EventFingerprint(req.Type, req.OperatorCode, req.Payload)

	event := &domain.WebhookEvent{
		ID:           uuid.New(),
		Type:         req.Type,
		OperatorCode: req.OperatorCode,
		Payload:      req.Payload,
		Fingerprint:  fingerprint,
		Status:       domain.WebhookEventStatusReceived,
	}

	original, err := s.eventRepo.GetByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.WebhookIngestRejected, nil, err
	}

	if original != nil {
		event.Status = domain.WebhookEventStatusIgnored
		event.IsDuplicate = true
		event.DuplicateOf = &original.ID

		if err := s.eventRepo.CreateEvent(ctx, event); err != nil {
			return domain.WebhookIngestRejected, nil, err
		}

		s.log.Infow("Duplicate webhook event ignored",
			"eventID", event.ID, "originalID", original.ID, "operator", req.OperatorCode, "type", req.Type)
		s.countIngest(req.OperatorCode, domain.WebhookIngestDuplicate)
		return domain.WebhookIngestDuplicate, event, nil
	}

	if err := s.eventRepo.CreateEvent(ctx, event); err != nil {
		return domain.WebhookIngestRejected, nil, err
	}

	// Репозиторий мог понизить событие до дубликата: две одинаковые
	// доставки способны одновременно пройти проверку выше, оригиналом
	// при записи остается ровно одна.
	if event.IsDuplicate {
		s.log.Infow("Duplicate webhook event ignored",
			"eventID", event.ID, "operator", req.OperatorCode, "type", req.Type)
		s.countIngest(req.OperatorCode, domain.WebhookIngestDuplicate)
		return domain.WebhookIngestDuplicate, event, nil
	}

	s.log.Infow("Webhook event accepted",
		"eventID", event.ID, "operator", req.OperatorCode, "type", req.Type)
	s.countIngest(req.OperatorCode, domain.WebhookIngestAccepted)
	return domain.WebhookIngestAccepted, event, nil
}

// webhookPayload - унифицированные поля, которые шлюз ищет в payload
// события. Адаптерные нюансы формата к этому моменту уже сглажены приемным
// эндпоинтом оператора.
type webhookPayload struct {
	SubscriptionID string `json:"subscription_id"`
	TransactionID  string `json:"transaction_id"`
}

// ProcessEvent обрабатывает событие after-claim: побочные эффекты начинаются
// строго после успешного перехода в processing. Проигранный клейм означает,
// что событие взял другой воркер, и эта попытка молча завершается.
func (s *webhookService) ProcessEvent(ctx context.Context, eventID uuid.UUID) error {
	claimed, err := s.eventRepo.ClaimEvent(ctx, eventID, []domain.WebhookEventStatus{
		domain.WebhookEventStatusReceived,
		domain.WebhookEventStatusRetrying,
	})
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Debugw("Webhook event claim lost, skipping", "eventID", eventID)
		return nil
	}

	return s.processClaimed(ctx, eventID)
}

// apply применяет событие к подписке или транзакции.
func (s *webhookService) apply(ctx context.Context, event *domain.WebhookEvent) error {
	var payload webhookPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return domain.NewValidationError("webhook payload is not valid JSON")
		}
	}

	if status, ok := subscriptionStatusForEvent(event.Type); ok {
		return s.applyToSubscription(ctx, event, payload, status)
	}
	if status, ok := transactionStatusForEvent(event.Type); ok {
		return s.applyToTransaction(ctx, event, payload, status)
	}

	s.log.Warnw("Webhook event of unknown type", "eventID", event.ID, "type", event.Type)
	return domain.NewValidationError("unknown webhook event type")
}

func subscriptionStatusForEvent(t domain.WebhookEventType) (domain.SubscriptionStatus, bool) {
	switch t {
	case domain.WebhookEventTypeSubscriptionActivated, domain.WebhookEventTypeSubscriptionRenewed:
		return domain.SubscriptionStatusActive, true
	case domain.WebhookEventTypeSubscriptionSuspended:
		return domain.SubscriptionStatusSuspended, true
	case domain.WebhookEventTypeSubscriptionCancelled:
		return domain.SubscriptionStatusCancelled, true
	case domain.WebhookEventTypeSubscriptionDeleted:
		return domain.SubscriptionStatusDeleted, true
	}
	return "", false
}

func transactionStatusForEvent(t domain.WebhookEventType) (domain.TransactionStatus, bool) {
	switch t {
	case domain.WebhookEventTypeChargeCompleted:
		return domain.TransactionStatusSuccess, true
	case domain.WebhookEventTypeChargeFailed:
		return domain.TransactionStatusFailed, true
	case domain.WebhookEventTypeChargeRefunded:
		return domain.TransactionStatusRefunded, true
	case domain.WebhookEventTypeInsufficientFunds:
		return domain.TransactionStatusInsufficientFunds, true
	}
	return "", false
}

// applyToSubscription идемпотентно сливает статус из события в подписку.
// Событие для завершенной подписки - логируемый no-op, а не ошибка: порядок
// доставки вебхуков оператором не гарантирован.
func (s *webhookService) applyToSubscription(ctx context.Context, event *domain.WebhookEvent, payload webhookPayload, to domain.SubscriptionStatus) error {
	if payload.SubscriptionID == "" {
		return domain.NewValidationError("subscription event without subscription_id")
	}

	sub, err := s.subRepo.GetByOperatorSubID(ctx, event.OperatorCode, payload.SubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Возможна гонка с созданием подписки: событие приехало раньше,
			// чем мы записали подписку. Ретрай доберет.
			return domain.NewNotFoundError("subscription", payload.SubscriptionID)
		}
		return err
	}

	changed, err := sub.ApplyStatus(to)
	if err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			s.log.Warnw("Webhook for finished subscription ignored",
				"eventID", event.ID, "subscriptionID", sub.ID, "from", sub.Status, "to", to)
			return nil
		}
		s.log.Warnw("Webhook requests invalid subscription transition",
			"eventID", event.ID, "subscriptionID", sub.ID, "from", sub.Status, "to", to)
		return nil
	}
	if !changed {
		// Повторное применение того же статуса - no-op
		return nil
	}

	if event.Type == domain.WebhookEventTypeSubscriptionRenewed {
		sub.AdvanceNextPayment(time.Now())
		sub.RetryCount = 0
	}

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return err
	}

	if s.producer != nil {
		if err := s.producer.PublishSubscription(ctx, sub); err != nil {
			s.log.Errorw("Failed to publish subscription event", "error", err, "subscriptionID", sub.ID)
		}
	}
	return nil
}

// applyToTransaction применяет статус из события к транзакции.
func (s *webhookService) applyToTransaction(ctx context.Context, event *domain.WebhookEvent, payload webhookPayload, to domain.TransactionStatus) error {
	if payload.TransactionID == "" {
		return domain.NewValidationError("charge event without transaction_id")
	}

	tx, err := s.txRepo.GetByOperatorTxID(ctx, event.OperatorCode, payload.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewNotFoundError("transaction", payload.TransactionID)
		}
		return err
	}

	if tx.Status == to {
		return nil
	}

	if err := tx.Transition(to); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			s.log.Warnw("Webhook for terminal transaction ignored",
				"eventID", event.ID, "transactionID", tx.ID, "from", tx.Status, "to", to)
			return nil
		}
		s.log.Warnw("Webhook requests invalid transaction transition",
			"eventID", event.ID, "transactionID", tx.ID, "from", tx.Status, "to", to)
		return nil
	}

	if err := s.txRepo.Update(ctx, tx); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncTransactionStatus(tx.OperatorCode, string(tx.Status))
	}
	if s.producer != nil {
		if err := s.producer.PublishTransaction(ctx, tx); err != nil {
			s.log.Errorw("Failed to publish transaction event", "error", err, "transactionID", tx.ID)
		}
	}
	return nil
}

// fail фиксирует неудачную попытку: назначает ретрай с экспоненциальным
// бэкоффом или, после исчерпания попыток, хоронит событие в failed и
// публикует его в DLQ для алертинга.
func (s *webhookService) fail(ctx context.Context, event *domain.WebhookEvent, procErr error) {
	event.AttemptCount++
	event.ErrorMessage = procErr.Error()

	if event.AttemptCount >= s.maxAttempts {
		event.Status = domain.WebhookEventStatusFailed
		event.NextRetryAt = nil

		s.log.Errorw("Webhook event failed permanently",
			"eventID", event.ID, "type", event.Type, "operator", event.OperatorCode,
			"attempts", event.AttemptCount, "error", procErr)

		if s.producer != nil {
			if err := s.producer.PublishWebhookDLQ(ctx, event); err != nil {
				s.log.Errorw("Failed to publish webhook event to DLQ", "error", err, "eventID", event.ID)
			}
		}
	} else {
		next := time.Now().Add(s.backoff.NextDelay(event.AttemptCount - 1))
		event.Status = domain.WebhookEventStatusRetrying
		event.NextRetryAt = &next

		s.log.Warnw("Webhook event processing failed, retry scheduled",
			"eventID", event.ID, "attempt", event.AttemptCount, "nextRetryAt", next, "error", procErr)
	}

	if err := s.eventRepo.UpdateEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to persist webhook event failure", "error", err, "eventID", event.ID)
	}
	s.countProcessed(event.OperatorCode, event.Status)
}

// Sweep добирает события, готовые к обработке. Зависшие processing
// клеймятся повторно: упавший воркер не должен навсегда замораживать событие.
func (s *webhookService) Sweep(ctx context.Context) int {
	due, err := s.eventRepo.ListDue(ctx, time.Now(), staleProcessingAfter, 100)
	if err != nil {
		s.log.Errorw("Failed to list due webhook events", "error", err)
		return 0
	}

	processed := 0
	for i := range due {
		event := &due[i]

		if event.Status == domain.WebhookEventStatusProcessing {
			// Реклейм зависшего события
			claimed, err := s.eventRepo.ClaimEvent(ctx, event.ID, []domain.WebhookEventStatus{domain.WebhookEventStatusProcessing})
			if err != nil || !claimed {
				continue
			}
			if procErr := s.processClaimed(ctx, event.ID); procErr != nil {
				continue
			}
			processed++
			continue
		}

		if err := s.ProcessEvent(ctx, event.ID); err == nil {
			processed++
		}
	}
	return processed
}

// processClaimed завершает обработку уже заклеймленного события.
func (s *webhookService) processClaimed(ctx context.Context, eventID uuid.UUID) error {
	event, err := s.eventRepo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if procErr := s.apply(ctx, event); procErr != nil {
		s.fail(ctx, event, procErr)
		return procErr
	}

	now := time.Now()
	event.Status = domain.WebhookEventStatusProcessed
	event.ProcessedAt = &now
	event.ErrorMessage = ""
	event.NextRetryAt = nil
	if err := s.eventRepo.UpdateEvent(ctx, event); err != nil {
		s.log.Errorw("Failed to persist processed webhook event", "error", err, "eventID", event.ID)
		return err
	}

	s.countProcessed(event.OperatorCode, domain.WebhookEventStatusProcessed)
	s.log.Infow("Webhook event processed", "eventID", event.ID, "type", event.Type, "operator", event.OperatorCode)
	return nil
}

// StartSweepLoop запускает периодический добор до отмены контекста.
func (s *webhookService) StartSweepLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.log.Infow("Webhook sweep loop started", "interval", interval)
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ctx); n > 0 {
					s.log.Debugw("Webhook sweep finished", "processed", n)
				}
			case <-ctx.Done():
				s.log.Infow("Webhook sweep loop stopped")
				return
			}
		}
	}()
}

func (s *webhookService) countIngest(operator string, result domain.WebhookIngestResult) {
	if s.metrics != nil {
		s.metrics.IncWebhookReceived(operator, string(result))
	}
}

func (s *webhookService) countProcessed(operator string, status domain.WebhookEventStatus) {
	if s.metrics != nil {
		s.metrics.IncWebhookProcessed(operator, string(status))
	}
}
