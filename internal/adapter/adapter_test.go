package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

func sandboxOperator() *domain.Operator {
	return &domain.Operator{
		Code:         "sandboxXX",
		Currency:     "USD",
		Capabilities: domain.AllCapabilities,
		Enabled:      true,
		Status:       domain.OperatorStatusActive,
	}
}

func TestInvokeValidatesBeforeCall(t *testing.T) {
	a := NewSandbox(testLogger())
	op := sandboxOperator()

	// charge без суммы отклоняется до любого вызова
	_, err := Invoke(context.Background(), a, op, domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Currency:   "USD",
	})
	require.Error(t, err)

	var berr *domain.BillingError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, domain.ErrCodeValidation, berr.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestInvokeUnsupportedCapability(t *testing.T) {
	// zain - checkout-only вариант без подписочных операций: даже если
	// конфигурация оператора заявляет операцию, вариант ее не реализует
	a := NewZainKuwait("http://localhost:0", "key", testLogger())
	op := &domain.Operator{Code: "zainKW", Currency: "KWD", Capabilities: domain.AllCapabilities}

	_, err := Invoke(context.Background(), a, op, domain.CapabilityCreateSubscription, domain.BillingRequest{
		Identifier: "96512345678",
		Amount:     1,
		Currency:   "KWD",
		Frequency:  "monthly",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFeatureNotSupported)
}

func TestSandboxChargeSuccess(t *testing.T) {
	a := NewSandbox(testLogger())
	op := sandboxOperator()

	resp, err := Invoke(context.Background(), a, op, domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812345678",
		Amount:     5,
		Currency:   "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "sandboxXX", resp.OperatorCode)
	assert.Equal(t, domain.TransactionStatusSuccess, resp.Transaction.Status)
	assert.NotEmpty(t, resp.Transaction.ID)
}

func TestSandboxInsufficientFunds(t *testing.T) {
	a := NewSandbox(testLogger())
	op := sandboxOperator()

	_, err := Invoke(context.Background(), a, op, domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812340000",
		Amount:     5,
		Currency:   "USD",
	})
	require.Error(t, err)

	var berr *domain.BillingError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, domain.ErrCodeOperatorError, berr.Code)
	assert.True(t, errors.Is(berr.OriginalErr, domain.ErrInsufficientFunds))
	assert.True(t, berr.Retryable())
}

func TestSandboxTimeout(t *testing.T) {
	a := NewSandbox(testLogger())
	op := sandboxOperator()

	_, err := Invoke(context.Background(), a, op, domain.CapabilityCharge, domain.BillingRequest{
		Identifier: "66812349999",
		Amount:     5,
		Currency:   "USD",
	})
	require.Error(t, err)

	var berr *domain.BillingError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, domain.ErrCodeTimeout, berr.Code)
	assert.True(t, berr.Retryable())
}

func TestSandboxEligibility(t *testing.T) {
	a := NewSandbox(testLogger())
	op := sandboxOperator()

	resp, err := Invoke(context.Background(), a, op, domain.CapabilityCheckEligibility, domain.BillingRequest{
		Identifier: "66812345678",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Eligible)
	assert.True(t, *resp.Eligible)

	resp, err = Invoke(context.Background(), a, op, domain.CapabilityCheckEligibility, domain.BillingRequest{
		Identifier: "66812340000",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Eligible)
	assert.False(t, *resp.Eligible)
}

func TestStatusMapNormalize(t *testing.T) {
	m := StatusMap{
		"ACTIVE": domain.SubscriptionStatusActive,
		"PARKED": domain.SubscriptionStatusSuspended,
	}
	log := testLogger()

	assert.Equal(t, domain.SubscriptionStatusActive, m.Normalize("ACTIVE", "dtacTH", log))
	assert.Equal(t, domain.SubscriptionStatusSuspended, m.Normalize("PARKED", "dtacTH", log))
	// Нераспознанный нативный статус становится unknown, а не ошибкой
	assert.Equal(t, domain.SubscriptionStatusUnknown, m.Normalize("WEIRD", "dtacTH", log))
}

type recordingHealth struct {
	results []bool
}

func (r *recordingHealth) RecordResult(_ string, success bool) {
	r.results = append(r.results, success)
}

func TestInstrumentedAdapterReportsHealth(t *testing.T) {
	health := &recordingHealth{}
	a := Instrument(NewSandbox(testLogger()), health, nil, testLogger())
	op := sandboxOperator()

	_, err := a.Charge(context.Background(), op, domain.BillingRequest{Identifier: "66812345678", Amount: 1, Currency: "USD"})
	require.NoError(t, err)

	_, err = a.Charge(context.Background(), op, domain.BillingRequest{Identifier: "66812346666", Amount: 1, Currency: "USD"})
	require.Error(t, err)

	assert.Equal(t, []bool{true, false}, health.results)
}

func TestInstrumentedAdapterSkipsHealthOnValidation(t *testing.T) {
	health := &recordingHealth{}
	a := Instrument(NewSandbox(testLogger()), health, nil, testLogger())
	op := sandboxOperator()

	_, err := Invoke(context.Background(), a, op, domain.CapabilityCharge, domain.BillingRequest{})
	require.Error(t, err)

	// Ошибка валидации не дошла до сети и здоровье не трогает
	assert.Empty(t, health.results)
}
