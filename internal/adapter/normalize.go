package adapter

import (
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// StatusMap фиксированная таблица маппинга нативных статусов оператора в
// унифицированные статусы подписки. Не распознанный нативный статус
// нормализуется в unknown и логируется для последующего расширения таблицы.
type StatusMap map[string]domain.SubscriptionStatus

// Normalize возвращает унифицированный статус для нативного
func (m StatusMap) Normalize(native string, operatorCode string, log *logger.Logger) domain.SubscriptionStatus {
	if status, ok := m[native]; ok {
		return status
	}
	log.Warnw("Unmapped native operator status, normalizing to unknown",
		"operator", operatorCode, "native_status", native)
	return domain.SubscriptionStatusUnknown
}

// TxStatusMap таблица маппинга нативных статусов транзакций
type TxStatusMap map[string]domain.TransactionStatus

// Normalize возвращает унифицированный статус транзакции для нативного
func (m TxStatusMap) Normalize(native string, operatorCode string, log *logger.Logger) domain.TransactionStatus {
	if status, ok := m[native]; ok {
		return status
	}
	log.Warnw("Unmapped native transaction status, keeping processing",
		"operator", operatorCode, "native_status", native)
	return domain.TransactionStatusProcessing
}

// ErrorMapping одна строка таблицы маппинга ошибок варианта
type ErrorMapping struct {
	Message   string
	Sentinel  error // сентинельная ошибка домена для errors.Is, если есть
	IsTimeout bool
}

// ErrorMap таблица маппинга нативных кодов ошибок оператора в
// унифицированную таксономию.
type ErrorMap map[string]ErrorMapping

// Normalize преобразует нативный код ошибки в BillingError. Не
// распознанный код становится generic OPERATOR_ERROR с оригинальным
// payload для диагностики.
func (m ErrorMap) Normalize(operatorCode, nativeCode, nativeMessage string, log *logger.Logger) *domain.BillingError {
	if entry, ok := m[nativeCode]; ok {
		if entry.IsTimeout {
			return domain.NewTimeoutError(operatorCode, nil)
		}
		berr := domain.NewOperatorError(operatorCode, nativeCode, entry.Message, entry.Sentinel)
		return berr
	}

	log.Warnw("Unmapped native operator error code",
		"operator", operatorCode, "native_code", nativeCode, "native_message", nativeMessage)
	return domain.NewOperatorError(operatorCode, nativeCode, nativeMessage, nil)
}
