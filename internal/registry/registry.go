// Package registry хранит сконфигурированных операторов и их адаптеры и
// разрешает входящий идентификатор в конкретного оператора. Реестр -
// явно сконструированный объект, который собирается в main при старте и
// внедряется в маршрутизацию и вебхук-движок.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Carrier-billing-gateway/internal/adapter"
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/msisdn"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// HealthGauge экспортирует текущий health score оператора наружу
// (prometheus gauge). Реализуется слоем метрик.
type HealthGauge interface {
	SetOperatorHealth(operator string, score float64)
}

// OperatorStore персистит операционное состояние операторов.
// Реализуется слоем репозиториев.
type OperatorStore interface {
	// UpsertOperator сохраняет оператора
	UpsertOperator(ctx context.Context, op *domain.Operator) error

	// UpdateHealth сохраняет health score оператора
	UpdateHealth(ctx context.Context, code string, score float64, checkedAt time.Time) error

	// GetOperator возвращает сохраненное состояние оператора
	GetOperator(ctx context.Context, code string) (*domain.Operator, error)
}

// Registry реестр операторов и их адаптеров.
type Registry struct {
	mu        sync.RWMutex
	operators map[string]*domain.Operator
	adapters  map[string]adapter.Adapter
	validator *msisdn.Validator
	store     OperatorStore
	gauge     HealthGauge
	smoothing float64
	lowWater  float64
	log       *logger.Logger
}

// NewRegistry создает пустой реестр операторов.
// store может быть nil: тогда здоровье живет только в памяти.
func NewRegistry(validator *msisdn.Validator, store OperatorStore, smoothing, lowWater float64, log *logger.Logger) *Registry {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.1
	}
	return &Registry{
		operators: make(map[string]*domain.Operator),
		adapters:  make(map[string]adapter.Adapter),
		validator: validator,
		store:     store,
		smoothing: smoothing,
		lowWater:  lowWater,
		log:       log,
	}
}

// SetHealthGauge подключает экспорт health score в метрики.
// Вызывается один раз при сборке приложения, до регистрации операторов.
func (r *Registry) SetHealthGauge(g HealthGauge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge = g
}

// Register добавляет оператора и его адаптер в реестр.
// Конфиг дает статическое описание (regex, суммы, capabilities, priority),
// операционное состояние (enabled, status, health) поднимается из стора,
// чтобы админские отключения и накопленное здоровье переживали рестарт.
func (r *Registry) Register(op *domain.Operator, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if op.Status == "" {
		op.Status = domain.OperatorStatusActive
	}
	if op.HealthScore == 0 {
		// Новый оператор стартует здоровым
		op.HealthScore = 1.0
	}

	r.hydrate(op)

	r.operators[op.Code] = op
	r.adapters[op.Code] = a

	if r.gauge != nil {
		r.gauge.SetOperatorHealth(op.Code, op.HealthScore)
	}

	r.log.Infow("Operator registered",
		"code", op.Code, "country", op.Country, "adapter", a.Name(),
		"priority", op.Priority, "enabled", op.Enabled)
}

// hydrate накладывает сохраненное операционное состояние на оператора из
// конфига. Первый запуск и недоступный стор - не ошибка: остаются значения
// конфига. Priority всегда берется из конфига.
func (r *Registry) hydrate(op *domain.Operator) {
	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	saved, err := r.store.GetOperator(ctx, op.Code)
	if err != nil {
		return
	}

	op.Enabled = saved.Enabled
	if saved.Status != "" {
		op.Status = saved.Status
	}
	if saved.HealthScore > 0 {
		op.HealthScore = saved.HealthScore
	}
	op.LastHealthCheck = saved.LastHealthCheck

	r.log.Infow("Operator state hydrated from store",
		"code", op.Code, "enabled", op.Enabled, "status", op.Status, "health", op.HealthScore)
}

// Lookup возвращает оператора и адаптер по коду. Работает и для
// отключенных операторов: существующие подписки под ними по-прежнему
// можно запрашивать и отменять.
func (r *Registry) Lookup(code string) (*domain.Operator, adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.operators[code]
	if !ok {
		return nil, nil, domain.NewNotFoundError("operator", code)
	}
	return op, r.adapters[code], nil
}

// Select разрешает нормализованный идентификатор в оператора.
// Порядок выбора при нескольких кандидатах: кампания, затем priority по
// убыванию, затем health_score по убыванию; оператор ниже lowWater
// проигрывает tie-break оператору выше порога при равном приоритете.
// Выбор детерминирован для фиксированного снимка реестра: финальный
// tie-break - код оператора.
func (r *Registry) Select(identifier, campaign string) (*domain.Operator, adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*domain.Operator

	if msisdn.IsACR(identifier) {
		// ACR маршрутизируется в семейство адаптеров, принимающих эту форму
		for _, op := range r.operators {
			if op.AcceptsACR && op.Selectable() {
				candidates = append(candidates, op)
			}
		}
	} else {
		countryCode := msisdn.CountryCallingCode(identifier)
		for _, op := range r.operators {
			if !op.Selectable() {
				continue
			}
			if countryCode != "" && op.CountryCode != "" && op.CountryCode != countryCode {
				continue
			}
			if !r.validator.MatchesOperator(identifier, op) {
				continue
			}
			candidates = append(candidates, op)
		}
	}

	if len(candidates) == 0 {
		r.log.Warnw("No operator available for identifier", "identifier", identifier, "campaign", campaign)
		return nil, nil, domain.NewNoOperatorAvailableError(identifier)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if campaign != "" {
			am, bm := a.ServesCampaign(campaign), b.ServesCampaign(campaign)
			if am != bm {
				return am
			}
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		// Fail-open: просевший оператор не отключается, но проигрывает
		// tie-break здоровому
		aLow, bLow := a.HealthScore < r.lowWater, b.HealthScore < r.lowWater
		if aLow != bLow {
			return bLow
		}
		if a.HealthScore != b.HealthScore {
			return a.HealthScore > b.HealthScore
		}
		return a.Code < b.Code
	})

	best := candidates[0]
	r.log.Debugw("Operator selected",
		"identifier", identifier, "campaign", campaign,
		"operator", best.Code, "priority", best.Priority, "health", best.HealthScore)
	return best, r.adapters[best.Code], nil
}

// SetEnabled включает/выключает оператора. Административное действие:
// actor фиксируется в логе. Операторы никогда не удаляются физически.
func (r *Registry) SetEnabled(code string, enabled bool, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operators[code]
	if !ok {
		return domain.NewNotFoundError("operator", code)
	}

	op.Enabled = enabled
	r.log.Infow("Operator enabled flag changed", "code", code, "enabled", enabled, "actor", actor)

	r.persistAsync(op)
	return nil
}

// SetStatus меняет статус оператора (административное действие).
func (r *Registry) SetStatus(code string, status domain.OperatorStatus, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.operators[code]
	if !ok {
		return domain.NewNotFoundError("operator", code)
	}

	op.Status = status
	r.log.Infow("Operator status changed", "code", code, "status", status, "actor", actor)

	r.persistAsync(op)
	return nil
}

// HealthSnapshot возвращает снимок здоровья всех операторов для дашборда.
func (r *Registry) HealthSnapshot() []domain.OperatorHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OperatorHealth, 0, len(r.operators))
	for _, op := range r.operators {
		out = append(out, domain.OperatorHealth{
			Code:            op.Code,
			Status:          op.Status,
			Enabled:         op.Enabled,
			HealthScore:     op.HealthScore,
			LastHealthCheck: op.LastHealthCheck,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// persistAsync сохраняет оператора в фоне; вызывается под мьютексом,
// поэтому копирует нужные поля до запуска горутины.
func (r *Registry) persistAsync(op *domain.Operator) {
	if r.store == nil {
		return
	}

	snapshot := *op
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.store.UpsertOperator(ctx, &snapshot); err != nil {
			r.log.Errorw("Failed to persist operator state", "code", snapshot.Code, "error", err)
		}
	}()
}
