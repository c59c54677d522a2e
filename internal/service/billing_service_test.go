package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Carrier-billing-gateway/internal/adapter"
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/kafka"
	"github.com/Dhoini/Carrier-billing-gateway/internal/msisdn"
	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/internal/repository"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

// mockProducer - мок Kafka-продюсера
type mockProducer struct {
	mock.Mock
}

var _ kafka.Producer = (*mockProducer)(nil)

func (m *mockProducer) PublishTransaction(ctx context.Context, tx *domain.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *mockProducer) PublishSubscription(ctx context.Context, sub *domain.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *mockProducer) PublishWebhookDLQ(ctx context.Context, event *domain.WebhookEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockProducer) Close() error {
	return m.Called().Error(0)
}

// recordingTxRepo запоминает ID созданных транзакций
type recordingTxRepo struct {
	repository.TransactionRepository
	created []uuid.UUID
}

func (r *recordingTxRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	if err := r.TransactionRepository.Create(ctx, tx); err != nil {
		return err
	}
	r.created = append(r.created, tx.ID)
	return nil
}

type billingFixture struct {
	svc     BillingService
	reg     *registry.Registry
	txRepo  *recordingTxRepo
	subRepo repository.SubscriptionRepository
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	log := testLogger()

	reg := registry.NewRegistry(msisdn.NewValidator(), nil, 0.1, 0.3, log)
	reg.Register(&domain.Operator{
		Code:            "dtacTH",
		Country:         "TH",
		Currency:        "THB",
		IdentifierRegex: `^66[0-9]{9}$`,
		CountryCode:     "66",
		MinAmount:       1,
		MaxAmount:       1000,
		Capabilities:    domain.AllCapabilities,
		Enabled:         true,
		Status:          domain.OperatorStatusActive,
		Priority:        5,
	}, adapter.NewSandbox(log))

	txRepo := &recordingTxRepo{TransactionRepository: repository.NewInMemoryTransactionRepository(log)}
	subRepo := repository.NewInMemorySubscriptionRepository(log)

	backoff := domain.RetryBackoff{BaseDelay: 30 * time.Second, Multiplier: 2.0, MaxDelay: 6 * time.Hour, MaxRetries: 5}
	svc := NewBillingService(reg, txRepo, subRepo, nil, nil, backoff, time.Second, log)

	return &billingFixture{svc: svc, reg: reg, txRepo: txRepo, subRepo: subRepo}
}

func (f *billingFixture) lastTransaction(t *testing.T) *domain.Transaction {
	t.Helper()
	require.NotEmpty(t, f.txRepo.created)

	tx, err := f.txRepo.GetByID(context.Background(), f.txRepo.created[len(f.txRepo.created)-1])
	require.NoError(t, err)
	return tx
}

func TestRouteChargeSuccess(t *testing.T) {
	f := newBillingFixture(t)

	resp, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "+66 81 234 5678",
		Amount:     50,
		Currency:   "THB",
	})
	require.NoError(t, err)
	assert.Equal(t, "dtacTH", resp.OperatorCode)
	// Идентификатор нормализован до вызова адаптера
	assert.Equal(t, "66812345678", resp.Identifier)

	tx := f.lastTransaction(t)
	assert.Equal(t, domain.TransactionStatusSuccess, tx.Status)
	assert.Equal(t, domain.TransactionTypeCharge, tx.Type)
	assert.NotEmpty(t, tx.OperatorTxID)
	assert.Nil(t, tx.NextRetryAt)
}

func TestRouteTimeoutLeavesTransactionPending(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812349999",
		Amount:     50,
		Currency:   "THB",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeoutExceeded)

	// Исход не определен: транзакция остается pending и ждет ретрая
	tx := f.lastTransaction(t)
	assert.Equal(t, domain.TransactionStatusPending, tx.Status)
	require.NotNil(t, tx.NextRetryAt)
	assert.True(t, tx.NextRetryAt.After(time.Now()))
}

func TestRouteInsufficientFunds(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812340000",
		Amount:     50,
		Currency:   "THB",
	})
	require.Error(t, err)

	tx := f.lastTransaction(t)
	assert.Equal(t, domain.TransactionStatusInsufficientFunds, tx.Status)
	require.NotNil(t, tx.NextRetryAt)
}

func TestRouteNoOperatorAvailable(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "49812345678",
		Amount:     50,
		Currency:   "EUR",
	})
	assert.ErrorIs(t, err, domain.ErrNoOperatorAvailable)
	assert.Empty(t, f.txRepo.created)
}

func TestRouteInvalidIdentifier(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "not-a-number",
		Amount:     50,
		Currency:   "THB",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRouteAmountOutsideOperatorLimits(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     5000,
		Currency:   "THB",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	// До адаптера и транзакции дело не дошло
	assert.Empty(t, f.txRepo.created)
}

func TestCreateSubscriptionPersists(t *testing.T) {
	f := newBillingFixture(t)

	resp, err := f.svc.Route(context.Background(), domain.CapabilityCreateSubscription, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     30,
		Currency:   "THB",
		Frequency:  "weekly",
		Campaign:   "promoX",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, resp.UUID)

	sub, err := f.subRepo.GetByID(context.Background(), resp.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, resp.OperatorSubID, sub.OperatorSubID)
	assert.Equal(t, "promoX", sub.Campaign)
	require.NotNil(t, sub.NextPaymentDate)

	// Транзакция создания привязана к подписке
	tx := f.lastTransaction(t)
	require.NotNil(t, tx.SubscriptionID)
	assert.Equal(t, sub.ID, *tx.SubscriptionID)
}

func TestCancelSubscriptionThroughDisabledOperator(t *testing.T) {
	f := newBillingFixture(t)

	resp, err := f.svc.Route(context.Background(), domain.CapabilityCreateSubscription, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     30,
		Currency:   "THB",
		Frequency:  "monthly",
	})
	require.NoError(t, err)

	// Оператор отключен после создания подписки
	require.NoError(t, f.reg.SetEnabled("dtacTH", false, "ops@example.com"))

	_, err = f.svc.Route(context.Background(), domain.CapabilityCancelSubscription, domain.BillingRequest{
		SubscriptionID: resp.UUID.String(),
	})
	require.NoError(t, err)

	sub, err := f.subRepo.GetByID(context.Background(), resp.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
	assert.Nil(t, sub.NextPaymentDate)
}

func TestCancelUnknownSubscription(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCancelSubscription, domain.BillingRequest{
		SubscriptionID: uuid.NewString(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRouteRefundSettlesOriginalCharge(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     50,
		Currency:   "THB",
	})
	require.NoError(t, err)

	charge := f.lastTransaction(t)
	require.Equal(t, domain.TransactionStatusSuccess, charge.Status)

	_, err = f.svc.Route(context.Background(), domain.CapabilityRefund, domain.BillingRequest{
		Identifier:    "66812345678",
		Amount:        50,
		Currency:      "THB",
		TransactionID: charge.OperatorTxID,
	})
	require.NoError(t, err)

	refund := f.lastTransaction(t)
	assert.Equal(t, domain.TransactionTypeRefund, refund.Type)
	assert.Equal(t, domain.TransactionStatusRefunded, refund.Status)
	assert.Equal(t, charge.OperatorTxID, refund.RefundOf)

	// Полный возврат переводит исходное списание в refunded
	charge, err = f.txRepo.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, charge.Status)
}

func TestRoutePartialRefund(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     100,
		Currency:   "THB",
	})
	require.NoError(t, err)
	charge := f.lastTransaction(t)

	_, err = f.svc.Route(context.Background(), domain.CapabilityRefund, domain.BillingRequest{
		Identifier:    "66812345678",
		Amount:        40,
		Currency:      "THB",
		TransactionID: charge.OperatorTxID,
	})
	require.NoError(t, err)

	charge, err = f.txRepo.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPartiallyRefunded, charge.Status)
}

func TestRetryDueTransactions(t *testing.T) {
	f := newBillingFixture(t)

	// Таймаут оставляет pending с назначенным ретраем
	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812349999",
		Amount:     50,
		Currency:   "THB",
	})
	require.Error(t, err)

	tx := f.lastTransaction(t)
	require.NotNil(t, tx.NextRetryAt)

	// Сдвигаем ретрай в прошлое и меняем исход на успех
	past := time.Now().Add(-time.Minute)
	tx.NextRetryAt = &past
	tx.Identifier = "66812345678"
	require.NoError(t, f.txRepo.Update(context.Background(), tx))

	processed := f.svc.RetryDueTransactions(context.Background())
	assert.Equal(t, 1, processed)

	tx = f.lastTransaction(t)
	assert.Equal(t, domain.TransactionStatusSuccess, tx.Status)
	assert.Equal(t, 2, tx.AttemptCount)
	assert.Nil(t, tx.NextRetryAt)
}

func TestRetryRefundStaysRefund(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     50,
		Currency:   "THB",
	})
	require.NoError(t, err)
	charge := f.lastTransaction(t)

	// Возврат упирается в таймаут и уходит в ретрай
	_, err = f.svc.Route(context.Background(), domain.CapabilityRefund, domain.BillingRequest{
		Identifier:    "66812349999",
		Amount:        50,
		Currency:      "THB",
		TransactionID: charge.OperatorTxID,
	})
	require.Error(t, err)

	refund := f.lastTransaction(t)
	require.Equal(t, domain.TransactionStatusPending, refund.Status)
	require.NotNil(t, refund.NextRetryAt)
	require.Equal(t, charge.OperatorTxID, refund.RefundOf)

	past := time.Now().Add(-time.Minute)
	refund.NextRetryAt = &past
	refund.Identifier = "66812345678"
	require.NoError(t, f.txRepo.Update(context.Background(), refund))

	processed := f.svc.RetryDueTransactions(context.Background())
	require.Equal(t, 1, processed)

	// Ретрай переигрывает именно возврат, а не списание
	refund, err = f.txRepo.GetByID(context.Background(), refund.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, refund.Status)
	assert.Equal(t, 2, refund.AttemptCount)

	charge, err = f.txRepo.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusRefunded, charge.Status)
}

func TestRetrySubscriptionRecreates(t *testing.T) {
	f := newBillingFixture(t)

	_, err := f.svc.Route(context.Background(), domain.CapabilityCreateSubscription, domain.BillingRequest{
		Identifier: "66812349999",
		Amount:     30,
		Currency:   "THB",
		Frequency:  "weekly",
		Campaign:   "promoX",
	})
	require.Error(t, err)

	tx := f.lastTransaction(t)
	require.Equal(t, domain.TransactionStatusPending, tx.Status)
	require.Equal(t, domain.TransactionTypeSubscription, tx.Type)
	// Параметры операции пережили таймаут вместе с транзакцией
	require.Equal(t, "weekly", tx.Frequency)
	require.Equal(t, "promoX", tx.Campaign)

	past := time.Now().Add(-time.Minute)
	tx.NextRetryAt = &past
	tx.Identifier = "66812345678"
	require.NoError(t, f.txRepo.Update(context.Background(), tx))

	processed := f.svc.RetryDueTransactions(context.Background())
	require.Equal(t, 1, processed)

	tx, err = f.txRepo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusSuccess, tx.Status)
	require.NotNil(t, tx.SubscriptionID)

	sub, err := f.subRepo.GetByID(context.Background(), *tx.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionFrequency("weekly"), sub.Frequency)
	assert.Equal(t, "promoX", sub.Campaign)
}
