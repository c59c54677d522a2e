package registry

import (
	"context"
	"time"
)

// RecordResult принимает сигнал завершенного вызова адаптера и пересчитывает
// health score оператора как экспоненциально взвешенное скользящее среднее:
//
//	new = (1-α)·old + α·signal, signal = 1 при успехе, 0 при неуспехе
//
// Обновление best-effort: гонка двух конкурентных сигналов может потерять
// один инкремент, это допустимо - score эвристика, а не критичное к
// корректности значение. Персист асинхронный, выбор оператора его не ждет.
func (r *Registry) RecordResult(operatorCode string, success bool) {
	r.mu.Lock()

	op, ok := r.operators[operatorCode]
	if !ok {
		r.mu.Unlock()
		return
	}

	signal := 0.0
	if success {
		signal = 1.0
	}

	op.HealthScore = (1-r.smoothing)*op.HealthScore + r.smoothing*signal
	op.LastHealthCheck = time.Now()

	score := op.HealthScore
	checkedAt := op.LastHealthCheck
	crossedLow := score < r.lowWater
	gauge := r.gauge

	r.mu.Unlock()

	if gauge != nil {
		gauge.SetOperatorHealth(operatorCode, score)
	}

	if crossedLow {
		// Fail-open: оператор не отключается автоматически, только
		// проигрывает tie-break при выборе
		r.log.Warnw("Operator health below low-water mark",
			"operator", operatorCode, "score", score)
	}

	if r.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := r.store.UpdateHealth(ctx, operatorCode, score, checkedAt); err != nil {
				r.log.Errorw("Failed to persist operator health", "operator", operatorCode, "error", err)
			}
		}()
	}
}
