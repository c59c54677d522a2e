package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WebhookEventType тип события вебхука
type WebhookEventType string

const (
	// События подписок
	WebhookEventTypeSubscriptionActivated WebhookEventType = "subscription.activated"
	WebhookEventTypeSubscriptionSuspended WebhookEventType = "subscription.suspended"
	WebhookEventTypeSubscriptionRenewed   WebhookEventType = "subscription.renewed"
	WebhookEventTypeSubscriptionCancelled WebhookEventType = "subscription.cancelled"
	WebhookEventTypeSubscriptionDeleted   WebhookEventType = "subscription.deleted"

	// События транзакций
	WebhookEventTypeChargeCompleted   WebhookEventType = "charge.completed"
	WebhookEventTypeChargeFailed      WebhookEventType = "charge.failed"
	WebhookEventTypeChargeRefunded    WebhookEventType = "charge.refunded"
	WebhookEventTypeInsufficientFunds WebhookEventType = "charge.insufficient_funds"
)

// WebhookEventStatus статус обработки события
type WebhookEventStatus string

const (
	WebhookEventStatusReceived   WebhookEventStatus = "received"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusProcessed  WebhookEventStatus = "processed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
	WebhookEventStatusRetrying   WebhookEventStatus = "retrying"
	WebhookEventStatusIgnored    WebhookEventStatus = "ignored"
)

// WebhookEvent представляет входящее событие вебхука от оператора.
// События хранятся бессрочно для аудита и никогда не удаляются.
type WebhookEvent struct {
	ID           uuid.UUID          `json:"id" db:"id"`
	Type         WebhookEventType   `json:"type" db:"type"`
	OperatorCode string             `json:"operator_code" db:"operator_code"`
	Payload      []byte             `json:"payload" db:"payload"`
	Fingerprint  string             `json:"fingerprint" db:"fingerprint"`
	Status       WebhookEventStatus `json:"status" db:"status"`
	AttemptCount int                `json:"attempt_count" db:"attempt_count"`
	NextRetryAt  *time.Time         `json:"next_retry_at,omitempty" db:"next_retry_at"`
	IsDuplicate  bool               `json:"is_duplicate" db:"is_duplicate"`
	DuplicateOf  *uuid.UUID         `json:"duplicate_of,omitempty" db:"duplicate_of"`
	LastAttempt  *time.Time         `json:"last_attempt,omitempty" db:"last_attempt"`
	ProcessedAt  *time.Time         `json:"processed_at,omitempty" db:"processed_at"`
	ErrorMessage string             `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" db:"updated_at"`
}

// EventFingerprint вычисляет дедуп-ключ события: тип + оператор +
// отпечаток содержимого payload. Ровно этот ключ гарантирует not-more-
// than-once обработку независимо от ретраев оператора.
func EventFingerprint(eventType WebhookEventType, operatorCode string, payload []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", eventType, operatorCode)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// WebhookIngestResult итог приема события
type WebhookIngestResult string

const (
	WebhookIngestAccepted  WebhookIngestResult = "accepted"
	WebhookIngestDuplicate WebhookIngestResult = "duplicate"
	WebhookIngestRejected  WebhookIngestResult = "rejected"
)

// WebhookEventRequest представляет запрос на прием вебхук-события
type WebhookEventRequest struct {
	Type         WebhookEventType `json:"type" binding:"required"`
	OperatorCode string           `json:"operator_code" binding:"required"`
	Payload      []byte           `json:"payload"`
}
