package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrNoOperatorAvailable не найден подходящий оператор для идентификатора
	ErrNoOperatorAvailable = errors.New("no operator available")

	// ErrFeatureNotSupported операция не поддерживается адаптером оператора
	ErrFeatureNotSupported = errors.New("feature not supported")

	// ErrTimeoutExceeded превышено время ожидания ответа оператора
	ErrTimeoutExceeded = errors.New("timeout exceeded")

	// ErrInsufficientFunds недостаточно средств на счете абонента
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateEvent повторная доставка уже принятого вебхук-события
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrTerminalState попытка перехода из терминального статуса
	ErrTerminalState = errors.New("terminal state reached")
)

// Коды унифицированной таксономии ошибок.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNoOperatorAvailable = "NO_OPERATOR_AVAILABLE"
	ErrCodeFeatureNotSupported = "FEATURE_NOT_SUPPORTED"
	ErrCodeOperatorError       = "OPERATOR_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeDuplicateEvent      = "DUPLICATE_EVENT"
)

// BillingError представляет нормализованную ошибку биллинга.
// Message - диагностическое сообщение, UserMessage - сообщение для конечного
// пользователя без операторского жаргона.
type BillingError struct {
	Code        string
	Message     string
	UserMessage string
	Operator    string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *BillingError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("billing error [%s]: %s: %v (operator: %s)", e.Code, e.Message, e.OriginalErr, e.Operator)
	}
	return fmt.Sprintf("billing error [%s]: %s (operator: %s)", e.Code, e.Message, e.Operator)
}

// Unwrap возвращает оригинальную ошибку
func (e *BillingError) Unwrap() error {
	return e.OriginalErr
}

// Is сопоставляет код ошибки с сентинельными ошибками пакета
func (e *BillingError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Code == ErrCodeValidation
	case ErrNoOperatorAvailable:
		return e.Code == ErrCodeNoOperatorAvailable
	case ErrFeatureNotSupported:
		return e.Code == ErrCodeFeatureNotSupported
	case ErrTimeoutExceeded:
		return e.Code == ErrCodeTimeout
	case ErrDuplicateEvent:
		return e.Code == ErrCodeDuplicateEvent
	}
	return false
}

// Retryable сообщает, должен ли вызов уходить в ретрай-машину.
// Валидация и неподдерживаемые операции не ретраятся никогда.
func (e *BillingError) Retryable() bool {
	switch e.Code {
	case ErrCodeTimeout:
		return true
	case ErrCodeOperatorError:
		return errors.Is(e.OriginalErr, ErrInsufficientFunds)
	default:
		return false
	}
}

// NewValidationError создает ошибку валидации входных данных
func NewValidationError(message string) *BillingError {
	return &BillingError{
		Code:        ErrCodeValidation,
		Message:     message,
		UserMessage: "The request is invalid. Please check the provided data.",
	}
}

// NewNoOperatorAvailableError создает ошибку маршрутизации
func NewNoOperatorAvailableError(identifier string) *BillingError {
	return &BillingError{
		Code:        ErrCodeNoOperatorAvailable,
		Message:     fmt.Sprintf("no enabled operator matches identifier %q", identifier),
		UserMessage: "Carrier billing is not available for this phone number.",
	}
}

// NewFeatureNotSupportedError создает ошибку неподдерживаемой операции
func NewFeatureNotSupportedError(operator string, capability string) *BillingError {
	return &BillingError{
		Code:        ErrCodeFeatureNotSupported,
		Message:     fmt.Sprintf("operator %s does not support %s", operator, capability),
		UserMessage: "This payment option is not available for your carrier.",
		Operator:    operator,
	}
}

// NewOperatorError создает нормализованную ошибку оператора.
// Оригинальный ответ оператора сохраняется для диагностики: наружу
// никогда не уходит сырой операторский код как основной.
func NewOperatorError(operator, nativeCode, message string, originalErr error) *BillingError {
	return &BillingError{
		Code:        ErrCodeOperatorError,
		Message:     fmt.Sprintf("operator fault [%s]: %s", nativeCode, message),
		UserMessage: "The payment could not be completed. Please try again later.",
		Operator:    operator,
		OriginalErr: originalErr,
	}
}

// NewTimeoutError создает ошибку таймаута.
// Таймаут - неопределенный исход: списание могло пройти на стороне оператора.
func NewTimeoutError(operator string, originalErr error) *BillingError {
	return &BillingError{
		Code:        ErrCodeTimeout,
		Message:     fmt.Sprintf("operator %s did not respond in time", operator),
		UserMessage: "The carrier is taking longer than expected. The payment will be retried.",
		Operator:    operator,
		OriginalErr: originalErr,
	}
}

// NewDuplicateEventError создает ошибку дубликата вебхук-события
func NewDuplicateEventError(fingerprint string) *BillingError {
	return &BillingError{
		Code:        ErrCodeDuplicateEvent,
		Message:     fmt.Sprintf("event with fingerprint %s already ingested", fingerprint),
		UserMessage: "Event already received.",
	}
}

// ValidationError представляет ошибку валидации одного поля
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}

	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields возвращает список полей с ошибками
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// AsBillingError сворачивает набор ошибок валидации в унифицированную ошибку
func (e ValidationErrors) AsBillingError() *BillingError {
	berr := NewValidationError(e.Error())
	berr.OriginalErr = ErrInvalidInput
	return berr
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
