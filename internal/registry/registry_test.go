package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Carrier-billing-gateway/internal/adapter"
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/msisdn"
	"github.com/Dhoini/Carrier-billing-gateway/internal/repository"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.ERROR)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(msisdn.NewValidator(), nil, 0.1, 0.3, testLogger())
}

func thaiOperator(code string, priority int) *domain.Operator {
	return &domain.Operator{
		Code:            code,
		Country:         "TH",
		Currency:        "THB",
		IdentifierRegex: `^66[0-9]{9}$`,
		CountryCode:     "66",
		Capabilities:    domain.AllCapabilities,
		Enabled:         true,
		Status:          domain.OperatorStatusActive,
		Priority:        priority,
	}
}

func TestSelectByCountryAndRegex(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("dtacTH", 5), sandbox)
	r.Register(&domain.Operator{
		Code:            "zainKW",
		Country:         "KW",
		Currency:        "KWD",
		IdentifierRegex: `^965[0-9]{8}$`,
		CountryCode:     "965",
		Capabilities:    domain.AllCapabilities,
		Enabled:         true,
		Status:          domain.OperatorStatusActive,
	}, sandbox)

	op, _, err := r.Select("66812345678", "")
	require.NoError(t, err)
	assert.Equal(t, "dtacTH", op.Code)

	op, _, err = r.Select("96512345678", "")
	require.NoError(t, err)
	assert.Equal(t, "zainKW", op.Code)

	_, _, err = r.Select("49812345678", "")
	assert.ErrorIs(t, err, domain.ErrNoOperatorAvailable)
}

func TestSelectPrefersHigherPriority(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("opLow", 5), sandbox)
	r.Register(thaiOperator("opHigh", 10), sandbox)

	op, _, err := r.Select("66812345678", "")
	require.NoError(t, err)
	assert.Equal(t, "opHigh", op.Code)
}

func TestSelectCampaignBeatsPriority(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	low := thaiOperator("opCampaign", 5)
	low.Campaigns = []string{"promoX"}
	r.Register(low, sandbox)
	r.Register(thaiOperator("opHigh", 10), sandbox)

	op, _, err := r.Select("66812345678", "promoX")
	require.NoError(t, err)
	assert.Equal(t, "opCampaign", op.Code)

	// Без кампании выигрывает приоритет
	op, _, err = r.Select("66812345678", "")
	require.NoError(t, err)
	assert.Equal(t, "opHigh", op.Code)
}

func TestSelectLowWaterLosesTieBreak(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	sick := thaiOperator("opSick", 5)
	sick.HealthScore = 0.1
	r.Register(sick, sandbox)

	healthy := thaiOperator("opWell", 5)
	healthy.HealthScore = 0.9
	r.Register(healthy, sandbox)

	// Равный приоритет: просевший оператор проигрывает tie-break
	op, _, err := r.Select("66812345678", "")
	require.NoError(t, err)
	assert.Equal(t, "opWell", op.Code)

	// Но fail-open: при более высоком приоритете он все равно выбирается
	sickHigh := thaiOperator("opSickHigh", 10)
	sickHigh.HealthScore = 0.1
	r.Register(sickHigh, sandbox)

	op, _, err = r.Select("66812345678", "")
	require.NoError(t, err)
	assert.Equal(t, "opSickHigh", op.Code)
}

func TestSelectDeterministic(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("opB", 5), sandbox)
	r.Register(thaiOperator("opA", 5), sandbox)

	for i := 0; i < 20; i++ {
		op, _, err := r.Select("66812345678", "")
		require.NoError(t, err)
		// При полном равенстве выбор стабилен: лексикографически меньший код
		assert.Equal(t, "opA", op.Code)
	}
}

func TestSelectSkipsDisabledButLookupWorks(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("opOnly", 5), sandbox)

	require.NoError(t, r.SetEnabled("opOnly", false, "ops@example.com"))

	_, _, err := r.Select("66812345678", "")
	assert.ErrorIs(t, err, domain.ErrNoOperatorAvailable)

	// Существующие подписки отключенного оператора по-прежнему обслуживаются
	op, ad, err := r.Lookup("opOnly")
	require.NoError(t, err)
	assert.False(t, op.Enabled)
	assert.NotNil(t, ad)
}

func TestSelectACRRoutesToACRFamily(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("dtacTH", 5), sandbox)

	vodafone := &domain.Operator{
		Code:         "vodafoneUK",
		Country:      "GB",
		Currency:     "GBP",
		CountryCode:  "44",
		Capabilities: domain.AllCapabilities,
		AcceptsACR:   true,
		Enabled:      true,
		Status:       domain.OperatorStatusActive,
	}
	r.Register(vodafone, sandbox)

	op, _, err := r.Select("acr:AbCdEf0123456789AbCdEf01", "")
	require.NoError(t, err)
	assert.Equal(t, "vodafoneUK", op.Code)
}

func TestRecordResultEWMA(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	op := thaiOperator("opEwma", 5)
	r.Register(op, sandbox)

	// Новый оператор стартует со score 1.0
	got, _, err := r.Lookup("opEwma")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.HealthScore, 0.0001)

	// new = (1-0.1)*1.0 + 0.1*0 = 0.9
	r.RecordResult("opEwma", false)
	assert.InDelta(t, 0.9, got.HealthScore, 0.0001)

	// new = 0.9*0.9 + 0.1*1 = 0.91
	r.RecordResult("opEwma", true)
	assert.InDelta(t, 0.91, got.HealthScore, 0.0001)

	// Сигнал о неизвестном операторе молча игнорируется
	r.RecordResult("ghost", true)
}

func TestHealthSnapshotSorted(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("opC", 1), sandbox)
	r.Register(thaiOperator("opA", 1), sandbox)
	r.Register(thaiOperator("opB", 1), sandbox)

	snapshot := r.HealthSnapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "opA", snapshot[0].Code)
	assert.Equal(t, "opB", snapshot[1].Code)
	assert.Equal(t, "opC", snapshot[2].Code)
}

func TestRegisterHydratesPersistedState(t *testing.T) {
	log := testLogger()
	store := repository.NewInMemoryOperatorRepository(log)

	saved := thaiOperator("dtacTH", 5)
	saved.Enabled = false
	saved.Status = domain.OperatorStatusMaintenance
	saved.HealthScore = 0.42
	saved.LastHealthCheck = time.Now().Add(-time.Hour)
	require.NoError(t, store.UpsertOperator(context.Background(), saved))

	r := NewRegistry(msisdn.NewValidator(), store, 0.1, 0.3, log)
	r.Register(thaiOperator("dtacTH", 7), adapter.NewSandbox(log))

	// Админское отключение и накопленное здоровье переживают рестарт
	op, _, err := r.Lookup("dtacTH")
	require.NoError(t, err)
	assert.False(t, op.Enabled)
	assert.Equal(t, domain.OperatorStatusMaintenance, op.Status)
	assert.InDelta(t, 0.42, op.HealthScore, 0.0001)
	assert.False(t, op.LastHealthCheck.IsZero())
	// Priority всегда берется из конфига
	assert.Equal(t, 7, op.Priority)

	// Оператор без сохраненного состояния остается на значениях конфига
	r.Register(thaiOperator("aisTH", 5), adapter.NewSandbox(log))
	fresh, _, err := r.Lookup("aisTH")
	require.NoError(t, err)
	assert.True(t, fresh.Enabled)
	assert.Equal(t, domain.OperatorStatusActive, fresh.Status)
	assert.InDelta(t, 1.0, fresh.HealthScore, 0.0001)
}

func TestSetStatusMaintenanceExcludesFromSelection(t *testing.T) {
	r := newTestRegistry(t)
	sandbox := adapter.NewSandbox(testLogger())

	r.Register(thaiOperator("opMaint", 5), sandbox)

	require.NoError(t, r.SetStatus("opMaint", domain.OperatorStatusMaintenance, "ops@example.com"))

	_, _, err := r.Select("66812345678", "")
	assert.ErrorIs(t, err, domain.ErrNoOperatorAvailable)
}
