package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionTransition(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPending}

	require.NoError(t, tx.Transition(TransactionStatusProcessing))
	require.NoError(t, tx.Transition(TransactionStatusSuccess))

	// success не терминален: возможен возврат
	require.NoError(t, tx.Transition(TransactionStatusRefunded))
	assert.Equal(t, TransactionStatusRefunded, tx.Status)
}

func TestTransactionTerminalIsNoOp(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusFailed}

	err := tx.Transition(TransactionStatusSuccess)
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, TransactionStatusFailed, tx.Status)
}

func TestTransactionInvalidTransition(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPending}

	err := tx.Transition(TransactionStatusPartiallyRefunded)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, TransactionStatusPending, tx.Status)
}

func TestRefundTransactionSettlesDirectly(t *testing.T) {
	// Транзакция типа refund завершается в refunded без прохода через success
	tx := &Transaction{ID: uuid.New(), Type: TransactionTypeRefund, Status: TransactionStatusPending}

	require.NoError(t, tx.Transition(TransactionStatusRefunded))
	assert.Equal(t, TransactionStatusRefunded, tx.Status)
	assert.True(t, IsTerminalTransactionStatus(tx.Status))

	tx = &Transaction{ID: uuid.New(), Type: TransactionTypeRefund, Status: TransactionStatusProcessing}
	require.NoError(t, tx.Transition(TransactionStatusRefunded))
}

func TestTransactionTransitionClearsRetry(t *testing.T) {
	next := time.Now().Add(time.Minute)
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPending, NextRetryAt: &next}

	require.NoError(t, tx.Transition(TransactionStatusSuccess))
	assert.Nil(t, tx.NextRetryAt)
}

func TestPartiallyRefundedNotTerminal(t *testing.T) {
	assert.False(t, IsTerminalTransactionStatus(TransactionStatusPartiallyRefunded))

	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPartiallyRefunded}
	require.NoError(t, tx.Transition(TransactionStatusRefunded))
}

func TestScheduleRetry(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPending, AttemptCount: 1}

	ok := tx.ScheduleRetry(30*time.Second, 2.0, 6*time.Hour, 5)
	require.True(t, ok)
	require.NotNil(t, tx.NextRetryAt)

	// attempt=1 -> base * multiplier^1 = 60s
	delay := time.Until(*tx.NextRetryAt)
	assert.InDelta(t, (60 * time.Second).Seconds(), delay.Seconds(), 1.0)
}

func TestScheduleRetryExhausted(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusPending, AttemptCount: 5}

	assert.False(t, tx.ScheduleRetry(30*time.Second, 2.0, 6*time.Hour, 5))
	assert.Nil(t, tx.NextRetryAt)
}

func TestScheduleRetryNotRetryableStatus(t *testing.T) {
	tx := &Transaction{ID: uuid.New(), Status: TransactionStatusFailed, AttemptCount: 1}

	assert.False(t, tx.ScheduleRetry(30*time.Second, 2.0, 6*time.Hour, 5))
}

func TestRetryBackoffCeiling(t *testing.T) {
	b := RetryBackoff{BaseDelay: 30 * time.Second, Multiplier: 2.0, MaxDelay: 5 * time.Minute, MaxRetries: 10}

	assert.Equal(t, 30*time.Second, b.NextDelay(0))
	assert.Equal(t, time.Minute, b.NextDelay(1))
	assert.Equal(t, 4*time.Minute, b.NextDelay(3))
	// Экспонента упирается в потолок
	assert.Equal(t, 5*time.Minute, b.NextDelay(4))
	assert.Equal(t, 5*time.Minute, b.NextDelay(20))
}
