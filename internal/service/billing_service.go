// Package service содержит бизнес-логику шлюза: маршрутизацию операций
// биллинга в адаптеры операторов и обработку входящих вебхук-событий.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Dhoini/Carrier-billing-gateway/internal/adapter"
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/kafka"
	"github.com/Dhoini/Carrier-billing-gateway/internal/metrics"
	"github.com/Dhoini/Carrier-billing-gateway/internal/msisdn"
	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/internal/repository"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// BillingService определяет интерфейс маршрутизации операций биллинга.
type BillingService interface {
	// Route нормализует идентификатор, выбирает оператора и выполняет
	// операцию через его адаптер.
	Route(ctx context.Context, capability domain.Capability, req domain.BillingRequest) (*domain.BillingResponse, error)

	// RetryDueTransactions выполняет одну итерацию ретраев: находит
	// транзакции с наступившим nextRetryAt и повторяет их.
	RetryDueTransactions(ctx context.Context) int

	// StartRetryLoop запускает периодические ретраи до отмены контекста.
	StartRetryLoop(ctx context.Context, interval time.Duration)
}

type billingService struct {
	registry *registry.Registry
	txRepo   repository.TransactionRepository
	subRepo  repository.SubscriptionRepository
	producer kafka.Producer
	metrics  metrics.BillingMetrics
	backoff  domain.RetryBackoff
	timeout  time.Duration
	log      *logger.Logger
}

// NewBillingService создает сервис маршрутизации биллинга.
func NewBillingService(
	reg *registry.Registry,
	txRepo repository.TransactionRepository,
	subRepo repository.SubscriptionRepository,
	producer kafka.Producer,
	m metrics.BillingMetrics,
	backoff domain.RetryBackoff,
	adapterTimeout time.Duration,
	log *logger.Logger,
) BillingService {
	return &billingService{
		registry: reg,
		txRepo:   txRepo,
		subRepo:  subRepo,
		producer: producer,
		metrics:  m,
		backoff:  backoff,
		timeout:  adapterTimeout,
		log:      log,
	}
}

// Route выполняет операцию биллинга.
//
// Для операций над существующей подпиской (cancel, getStatus) оператор
// берется из самой подписки: отключение оператора не должно ломать
// обслуживание уже созданных подписок. Для остальных операций оператор
// выбирается по идентификатору и кампании.
func (s *billingService) Route(ctx context.Context, capability domain.Capability, req domain.BillingRequest) (*domain.BillingResponse, error) {
	var (
		op  *domain.Operator
		ad  adapter.Adapter
		sub *domain.Subscription
		err error
	)

	switch capability {
	case domain.CapabilityCancelSubscription, domain.CapabilityGetSubscriptionStatus:
		sub, op, ad, err = s.resolveSubscription(ctx, &req)
	default:
		op, ad, err = s.resolveOperator(ctx, &req)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncBillingRequest(op.Code, string(capability))
	}

	if err := s.validateAmount(op, capability, req); err != nil {
		return nil, err
	}

	// Денежные операции получают транзакцию до вызова оператора: при
	// таймауте списание могло пройти, и след обязан остаться у нас.
	var tx *domain.Transaction
	if txType, ok := transactionTypeFor(capability); ok {
		tx = &domain.Transaction{
			ID:           uuid.New(),
			Type:         txType,
			Status:       domain.TransactionStatusPending,
			OperatorCode: op.Code,
			Identifier:   req.Identifier,
			Amount:       req.Amount,
			Currency:     req.Currency,
			Campaign:     req.Campaign,
			AttemptCount: 1,
		}
		switch txType {
		case domain.TransactionTypeRefund:
			tx.RefundOf = req.TransactionID
		case domain.TransactionTypeSubscription:
			tx.Frequency = req.Frequency
		}
		if sub != nil {
			tx.SubscriptionID = &sub.ID
		}
		if err := s.txRepo.Create(ctx, tx); err != nil {
			s.log.Errorw("Failed to persist transaction before adapter call", "error", err)
			return nil, domain.ErrInternal
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, callErr := adapter.Invoke(callCtx, ad, op, capability, req)

	if tx != nil {
		s.settleTransaction(ctx, tx, resp, callErr)
	}

	if callErr != nil {
		return nil, callErr
	}

	switch capability {
	case domain.CapabilityCreateSubscription:
		s.recordNewSubscription(ctx, op, req, resp, tx)
	case domain.CapabilityRefund:
		s.settleRefundedCharge(ctx, tx)
	case domain.CapabilityCancelSubscription:
		s.mergeSubscriptionStatus(ctx, sub, domain.SubscriptionStatusCancelled)
	case domain.CapabilityGetSubscriptionStatus:
		if resp.Status != "" && resp.Status != domain.SubscriptionStatusUnknown {
			s.mergeSubscriptionStatus(ctx, sub, resp.Status)
		}
	}

	return resp, nil
}

// resolveOperator нормализует идентификатор и выбирает оператора.
func (s *billingService) resolveOperator(_ context.Context, req *domain.BillingRequest) (*domain.Operator, adapter.Adapter, error) {
	normalized, err := msisdn.Normalize(req.Identifier)
	if err != nil {
		return nil, nil, domain.NewValidationError("identifier is not a valid MSISDN or ACR")
	}
	req.Identifier = normalized

	return s.registry.Select(normalized, req.Campaign)
}

// resolveSubscription находит подписку по платформенному UUID и возвращает
// ее оператора. В адаптер уходит операторский ID подписки.
func (s *billingService) resolveSubscription(ctx context.Context, req *domain.BillingRequest) (*domain.Subscription, *domain.Operator, adapter.Adapter, error) {
	if req.SubscriptionID == "" {
		return nil, nil, nil, domain.NewValidationError("subscription_id is required")
	}

	id, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		return nil, nil, nil, domain.NewValidationError("subscription_id must be a valid UUID")
	}

	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, domain.NewNotFoundError("subscription", req.SubscriptionID)
		}
		return nil, nil, nil, err
	}

	op, ad, err := s.registry.Lookup(sub.OperatorCode)
	if err != nil {
		return nil, nil, nil, err
	}

	req.SubscriptionID = sub.OperatorSubID
	if req.Identifier == "" {
		req.Identifier = sub.Identifier
	}
	return sub, op, ad, nil
}

// validateAmount проверяет сумму по лимитам оператора
func (s *billingService) validateAmount(op *domain.Operator, capability domain.Capability, req domain.BillingRequest) error {
	switch capability {
	case domain.CapabilityCharge, domain.CapabilityCreateSubscription, domain.CapabilityRefund:
	default:
		return nil
	}

	var verrs domain.ValidationErrors
	if op.MinAmount > 0 && req.Amount < op.MinAmount {
		verrs.Add("amount", "amount is below operator minimum")
	}
	if op.MaxAmount > 0 && req.Amount > op.MaxAmount {
		verrs.Add("amount", "amount exceeds operator maximum")
	}
	if verrs.HasErrors() {
		return verrs.AsBillingError()
	}
	return nil
}

// transactionTypeFor сообщает, порождает ли операция транзакцию
func transactionTypeFor(capability domain.Capability) (domain.TransactionType, bool) {
	switch capability {
	case domain.CapabilityCharge:
		return domain.TransactionTypeCharge, true
	case domain.CapabilityCreateSubscription:
		return domain.TransactionTypeSubscription, true
	case domain.CapabilityRefund:
		return domain.TransactionTypeRefund, true
	}
	return "", false
}

// settleTransaction переводит транзакцию в итоговый статус по результату
// вызова адаптера и персистит ее.
//
// Таймаут - неопределенный исход: транзакция остается pending с назначенным
// nextRetryAt. Если списание на стороне оператора все же прошло, поздний
// вебхук о нем поглотится дедупликацией, а ретрай довыяснит статус.
func (s *billingService) settleTransaction(ctx context.Context, tx *domain.Transaction, resp *domain.BillingResponse, callErr error) {
	switch {
	case callErr == nil:
		if resp.Transaction.ID != "" {
			tx.OperatorTxID = resp.Transaction.ID
		}
		s.applyTransactionStatus(tx, resp.Transaction.Status)

	default:
		var berr *domain.BillingError
		if !errors.As(callErr, &berr) {
			s.applyTransactionStatus(tx, domain.TransactionStatusFailed)
			tx.ErrorMessage = callErr.Error()
			break
		}

		tx.ErrorCode = berr.Code
		tx.ErrorMessage = berr.Message

		switch {
		case berr.Code == domain.ErrCodeTimeout:
			// Статус остается pending, планируем повтор
			if !tx.ScheduleRetry(s.backoff.BaseDelay, s.backoff.Multiplier, s.backoff.MaxDelay, s.backoff.MaxRetries) {
				s.applyTransactionStatus(tx, domain.TransactionStatusExpired)
			}
		case errors.Is(berr.OriginalErr, domain.ErrInsufficientFunds):
			s.applyTransactionStatus(tx, domain.TransactionStatusInsufficientFunds)
			if !tx.ScheduleRetry(s.backoff.BaseDelay, s.backoff.Multiplier, s.backoff.MaxDelay, s.backoff.MaxRetries) {
				s.applyTransactionStatus(tx, domain.TransactionStatusFailed)
			}
		case berr.Code == domain.ErrCodeValidation, berr.Code == domain.ErrCodeFeatureNotSupported:
			s.applyTransactionStatus(tx, domain.TransactionStatusCancelled)
		default:
			s.applyTransactionStatus(tx, domain.TransactionStatusFailed)
		}
	}

	if err := s.txRepo.Update(ctx, tx); err != nil {
		s.log.Errorw("Failed to persist transaction outcome", "error", err, "transactionID", tx.ID)
	}

	if s.metrics != nil {
		s.metrics.IncTransactionStatus(tx.OperatorCode, string(tx.Status))
	}
	s.publishTransaction(ctx, tx)
}

// applyTransactionStatus применяет переход статуса с логированием аномалий
func (s *billingService) applyTransactionStatus(tx *domain.Transaction, to domain.TransactionStatus) {
	if to == "" || tx.Status == to {
		return
	}
	if err := tx.Transition(to); err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			s.log.Warnw("Ignoring transition from terminal transaction status",
				"transactionID", tx.ID, "from", tx.Status, "to", to)
			return
		}
		s.log.Warnw("Invalid transaction status transition",
			"transactionID", tx.ID, "from", tx.Status, "to", to, "error", err)
	}
}

// recordNewSubscription сохраняет подписку, созданную у оператора.
func (s *billingService) recordNewSubscription(ctx context.Context, op *domain.Operator, req domain.BillingRequest, resp *domain.BillingResponse, tx *domain.Transaction) {
	status := resp.Status
	if status == "" {
		status = domain.SubscriptionStatusPending
	}

	sub := &domain.Subscription{
		ID:            uuid.New(),
		OperatorSubID: resp.OperatorSubID,
		OperatorCode:  op.Code,
		Identifier:    req.Identifier,
		Status:        status,
		Frequency:     domain.SubscriptionFrequency(req.Frequency),
		Amount:        req.Amount,
		Currency:      resp.Currency,
		Campaign:      req.Campaign,
	}
	if status == domain.SubscriptionStatusActive || status == domain.SubscriptionStatusTrial {
		sub.AdvanceNextPayment(time.Now())
	}

	if err := s.subRepo.Create(ctx, sub); err != nil {
		s.log.Errorw("Failed to persist created subscription", "error", err, "operator", op.Code)
		return
	}

	if tx != nil {
		tx.SubscriptionID = &sub.ID
		if err := s.txRepo.Update(ctx, tx); err != nil {
			s.log.Errorw("Failed to link transaction to subscription", "error", err, "transactionID", tx.ID)
		}
	}

	// Наружу отдаем платформенный UUID подписки
	resp.UUID = sub.ID

	s.publishSubscription(ctx, sub)
	s.log.Infow("Subscription created",
		"subscriptionID", sub.ID, "operator", op.Code, "operatorSubID", sub.OperatorSubID, "status", sub.Status)
}

// mergeSubscriptionStatus идемпотентно применяет статус к подписке.
func (s *billingService) mergeSubscriptionStatus(ctx context.Context, sub *domain.Subscription, to domain.SubscriptionStatus) {
	if sub == nil {
		return
	}

	changed, err := sub.ApplyStatus(to)
	if err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			s.log.Warnw("Ignoring status for finished subscription",
				"subscriptionID", sub.ID, "from", sub.Status, "to", to)
			return
		}
		s.log.Warnw("Invalid subscription status transition",
			"subscriptionID", sub.ID, "from", sub.Status, "to", to, "error", err)
		return
	}
	if !changed {
		return
	}

	if err := s.subRepo.Update(ctx, sub); err != nil {
		s.log.Errorw("Failed to persist subscription status", "error", err, "subscriptionID", sub.ID)
		return
	}
	s.publishSubscription(ctx, sub)
}

// settleRefundedCharge переводит исходное списание в refunded или, при
// возврате части суммы, в partially_refunded. Этот явный вызов возврата -
// единственный путь из success в refunded.
func (s *billingService) settleRefundedCharge(ctx context.Context, refund *domain.Transaction) {
	if refund == nil || refund.RefundOf == "" {
		return
	}
	if refund.Status != domain.TransactionStatusRefunded && refund.Status != domain.TransactionStatusSuccess {
		return
	}

	charge, err := s.txRepo.GetByOperatorTxID(ctx, refund.OperatorCode, refund.RefundOf)
	if err != nil {
		s.log.Warnw("Original charge of refund not found",
			"refundID", refund.ID, "operator", refund.OperatorCode, "operatorTxID", refund.RefundOf)
		return
	}

	to := domain.TransactionStatusRefunded
	if refund.Amount < charge.Amount {
		to = domain.TransactionStatusPartiallyRefunded
	}
	if charge.Status == to {
		return
	}

	s.applyTransactionStatus(charge, to)
	if charge.Status != to {
		return
	}

	if err := s.txRepo.Update(ctx, charge); err != nil {
		s.log.Errorw("Failed to persist refunded charge", "error", err, "transactionID", charge.ID)
		return
	}
	if s.metrics != nil {
		s.metrics.IncTransactionStatus(charge.OperatorCode, string(charge.Status))
	}
	s.publishTransaction(ctx, charge)
}

// RetryDueTransactions повторяет транзакции с наступившим nextRetryAt.
// Возвращает число обработанных транзакций.
func (s *billingService) RetryDueTransactions(ctx context.Context) int {
	due, err := s.txRepo.ListDueRetries(ctx, time.Now(), 100)
	if err != nil {
		s.log.Errorw("Failed to list due transaction retries", "error", err)
		return 0
	}

	for i := range due {
		tx := &due[i]
		s.retryTransaction(ctx, tx)
	}
	return len(due)
}

// retryTransaction выполняет одну повторную попытку операции. Чем именно
// переигрывать, определяет тип транзакции: возврат никогда не
// переигрывается списанием.
func (s *billingService) retryTransaction(ctx context.Context, tx *domain.Transaction) {
	op, ad, err := s.registry.Lookup(tx.OperatorCode)
	if err != nil {
		s.log.Errorw("Operator of retried transaction is gone", "transactionID", tx.ID, "operator", tx.OperatorCode)
		return
	}

	tx.AttemptCount++
	tx.NextRetryAt = nil

	req := domain.BillingRequest{
		Identifier: tx.Identifier,
		Amount:     tx.Amount,
		Currency:   tx.Currency,
		Campaign:   tx.Campaign,
	}

	capability := domain.CapabilityCharge
	switch tx.Type {
	case domain.TransactionTypeRefund:
		capability = domain.CapabilityRefund
		req.TransactionID = tx.RefundOf
	case domain.TransactionTypeSubscription:
		capability = domain.CapabilityCreateSubscription
		req.Frequency = tx.Frequency
	}

	s.log.Infow("Retrying transaction",
		"transactionID", tx.ID, "operator", tx.OperatorCode, "capability", capability, "attempt", tx.AttemptCount)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, callErr := adapter.Invoke(callCtx, ad, op, capability, req)
	s.settleTransaction(ctx, tx, resp, callErr)

	if callErr != nil {
		return
	}
	switch tx.Type {
	case domain.TransactionTypeSubscription:
		s.recordNewSubscription(ctx, op, req, resp, tx)
	case domain.TransactionTypeRefund:
		s.settleRefundedCharge(ctx, tx)
	}
}

// StartRetryLoop запускает периодический ретрай-свип до отмены контекста.
func (s *billingService) StartRetryLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.log.Infow("Transaction retry loop started", "interval", interval)
		for {
			select {
			case <-ticker.C:
				if n := s.RetryDueTransactions(ctx); n > 0 {
					s.log.Debugw("Transaction retry sweep finished", "processed", n)
				}
			case <-ctx.Done():
				s.log.Infow("Transaction retry loop stopped")
				return
			}
		}
	}()
}

func (s *billingService) publishTransaction(ctx context.Context, tx *domain.Transaction) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishTransaction(ctx, tx); err != nil {
		s.log.Errorw("Failed to publish transaction event", "error", err, "transactionID", tx.ID)
	}
}

func (s *billingService) publishSubscription(ctx context.Context, sub *domain.Subscription) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishSubscription(ctx, sub); err != nil {
		s.log.Errorw("Failed to publish subscription event", "error", err, "subscriptionID", sub.ID)
	}
}
