package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyStatusIdempotent(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: SubscriptionStatusActive}

	// Повторное применение того же статуса - no-op без ошибки
	changed, err := sub.ApplyStatus(SubscriptionStatusActive)
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, SubscriptionStatusActive, sub.Status)
}

func TestApplyStatusTransition(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: SubscriptionStatusPending}

	changed, err := sub.ApplyStatus(SubscriptionStatusActive)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = sub.ApplyStatus(SubscriptionStatusSuspended)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = sub.ApplyStatus(SubscriptionStatusActive)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestApplyStatusFinalIsProtected(t *testing.T) {
	next := time.Now().Add(24 * time.Hour)
	sub := &Subscription{ID: uuid.New(), Status: SubscriptionStatusActive, NextPaymentDate: &next}

	changed, err := sub.ApplyStatus(SubscriptionStatusCancelled)
	require.NoError(t, err)
	assert.True(t, changed)
	// Завершенная подписка не имеет следующей даты списания
	assert.Nil(t, sub.NextPaymentDate)

	// Назад в active уже нельзя
	changed, err = sub.ApplyStatus(SubscriptionStatusActive)
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.False(t, changed)
	assert.Equal(t, SubscriptionStatusCancelled, sub.Status)

	// Но следующий шаг жизненного цикла разрешен
	changed, err = sub.ApplyStatus(SubscriptionStatusDeleted)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestApplyStatusInvalidTransition(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), Status: SubscriptionStatusPending}

	changed, err := sub.ApplyStatus(SubscriptionStatusGrace)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, changed)
}

func TestAdvanceNextPayment(t *testing.T) {
	from := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		frequency SubscriptionFrequency
		want      time.Time
	}{
		{SubscriptionFrequencyDaily, from.AddDate(0, 0, 1)},
		{SubscriptionFrequencyWeekly, from.AddDate(0, 0, 7)},
		{SubscriptionFrequencyMonthly, from.AddDate(0, 1, 0)},
	}

	for _, tt := range tests {
		sub := &Subscription{ID: uuid.New(), Status: SubscriptionStatusActive, Frequency: tt.frequency}
		sub.AdvanceNextPayment(from)
		require.NotNil(t, sub.NextPaymentDate)
		assert.Equal(t, tt.want, *sub.NextPaymentDate, "frequency %s", tt.frequency)
	}
}

func TestEventFingerprint(t *testing.T) {
	payload := []byte(`{"subscription_id":"abc"}`)

	a := EventFingerprint(WebhookEventTypeSubscriptionRenewed, "dtacTH", payload)
	b := EventFingerprint(WebhookEventTypeSubscriptionRenewed, "dtacTH", payload)
	assert.Equal(t, a, b)

	// Любая компонента ключа меняет отпечаток
	assert.NotEqual(t, a, EventFingerprint(WebhookEventTypeSubscriptionCancelled, "dtacTH", payload))
	assert.NotEqual(t, a, EventFingerprint(WebhookEventTypeSubscriptionRenewed, "zainKW", payload))
	assert.NotEqual(t, a, EventFingerprint(WebhookEventTypeSubscriptionRenewed, "dtacTH", []byte(`{}`)))
}
