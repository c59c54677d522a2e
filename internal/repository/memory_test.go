package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

func newEvent(status domain.WebhookEventStatus) *domain.WebhookEvent {
	payload := []byte(`{"subscription_id":"op-sub-1"}`)
	return &domain.WebhookEvent{
		ID:           uuid.New(),
		Type:         domain.WebhookEventTypeSubscriptionRenewed,
		OperatorCode: "dtacTH",
		Payload:      payload,
		Fingerprint:  domain.EventFingerprint(domain.WebhookEventTypeSubscriptionRenewed, "dtacTH", payload),
		Status:       status,
	}
}

func TestClaimEventSingleWinner(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())
	ctx := context.Background()

	event := newEvent(domain.WebhookEventStatusReceived)
	require.NoError(t, repo.CreateEvent(ctx, event))

	from := []domain.WebhookEventStatus{domain.WebhookEventStatusReceived, domain.WebhookEventStatusRetrying}

	claimed, err := repo.ClaimEvent(ctx, event.ID, from)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Второй клейм того же события проигрывает
	claimed, err = repo.ClaimEvent(ctx, event.ID, from)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := repo.GetEventByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookEventStatusProcessing, got.Status)
	assert.NotNil(t, got.LastAttempt)
}

func TestClaimEventUnknownID(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())

	_, err := repo.ClaimEvent(context.Background(), uuid.New(), []domain.WebhookEventStatus{domain.WebhookEventStatusReceived})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFingerprintKeepsOriginal(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())
	ctx := context.Background()

	original := newEvent(domain.WebhookEventStatusReceived)
	require.NoError(t, repo.CreateEvent(ctx, original))

	dup := newEvent(domain.WebhookEventStatusIgnored)
	dup.IsDuplicate = true
	dup.DuplicateOf = &original.ID
	require.NoError(t, repo.CreateEvent(ctx, dup))

	// Отпечаток всегда указывает на оригинал, а не на дубликат
	got, err := repo.GetByFingerprint(ctx, original.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, original.ID, got.ID)
}

func TestCreateEventSecondOriginalDowngraded(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())
	ctx := context.Background()

	first := newEvent(domain.WebhookEventStatusReceived)
	require.NoError(t, repo.CreateEvent(ctx, first))

	// Вторая доставка проскочила проверку дедупликации до записи первой:
	// оригиналом остается ровно одна, вторая понижается при записи
	second := newEvent(domain.WebhookEventStatusReceived)
	require.NoError(t, repo.CreateEvent(ctx, second))

	assert.True(t, second.IsDuplicate)
	assert.Equal(t, domain.WebhookEventStatusIgnored, second.Status)
	require.NotNil(t, second.DuplicateOf)
	assert.Equal(t, first.ID, *second.DuplicateOf)

	got, err := repo.GetByFingerprint(ctx, first.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestListDueStaleProcessingReclaim(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())
	ctx := context.Background()

	stuck := newEvent(domain.WebhookEventStatusProcessing)
	require.NoError(t, repo.CreateEvent(ctx, stuck))

	// С точки зрения "сейчас" через десять минут событие зависло
	future := time.Now().Add(10 * time.Minute)
	due, err := repo.ListDue(ctx, future, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stuck.ID, due[0].ID)

	// А при свежем UpdatedAt processing-событие не трогается
	due, err = repo.ListDue(ctx, time.Now(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListDueRetrying(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository(testLogger())
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	dueEvent := newEvent(domain.WebhookEventStatusRetrying)
	dueEvent.NextRetryAt = &past
	require.NoError(t, repo.CreateEvent(ctx, dueEvent))

	futureAt := time.Now().Add(time.Hour)
	notYet := newEvent(domain.WebhookEventStatusRetrying)
	notYet.Payload = []byte(`{"subscription_id":"op-sub-2"}`)
	notYet.NextRetryAt = &futureAt
	require.NoError(t, repo.CreateEvent(ctx, notYet))

	due, err := repo.ListDue(ctx, time.Now(), 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, dueEvent.ID, due[0].ID)
}

func TestListDueRetriesTransactions(t *testing.T) {
	repo := NewInMemoryTransactionRepository(testLogger())
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	pending := &domain.Transaction{
		ID:           uuid.New(),
		Type:         domain.TransactionTypeCharge,
		Status:       domain.TransactionStatusPending,
		OperatorCode: "dtacTH",
		NextRetryAt:  &past,
	}
	require.NoError(t, repo.Create(ctx, pending))

	// Терминальная транзакция с назначенным ретраем в выборку не попадает
	failed := &domain.Transaction{
		ID:           uuid.New(),
		Type:         domain.TransactionTypeCharge,
		Status:       domain.TransactionStatusFailed,
		OperatorCode: "dtacTH",
		NextRetryAt:  &past,
	}
	require.NoError(t, repo.Create(ctx, failed))

	due, err := repo.ListDueRetries(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, pending.ID, due[0].ID)
}
