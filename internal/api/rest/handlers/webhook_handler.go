package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/service"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// WebhookHandler обработчик входящих вебхуков операторов
type WebhookHandler struct {
	webhooks service.WebhookService
	log      *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(webhooks service.WebhookService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		log:      log,
	}
}

// HandleOperatorWebhook принимает событие от оператора.
// POST /api/v1/webhooks/:operator
//
// Тип события приходит в заголовке X-Event-Type, тело запроса сохраняется
// как payload целиком: дедупликация считается по сырому содержимому.
// Оператору всегда отвечаем быстро; обработка идет асинхронно.
func (h *WebhookHandler) HandleOperatorWebhook(c *gin.Context) {
	operatorCode := c.Param("operator")

	eventType := c.GetHeader("X-Event-Type")
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Event-Type header is required"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "error", err, "operator", operatorCode)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read webhook body"})
		return
	}

	req := domain.WebhookEventRequest{
		Type:         domain.WebhookEventType(eventType),
		OperatorCode: operatorCode,
		Payload:      payload,
	}

	result, event, err := h.webhooks.Ingest(c.Request.Context(), req)
	if err != nil {
		writeBillingError(c, h.log, err)
		return
	}

	switch result {
	case domain.WebhookIngestDuplicate:
		// Дубликат подтверждаем успехом, чтобы оператор перестал ретраить
		c.JSON(http.StatusOK, gin.H{
			"result":       result,
			"event_id":     event.ID,
			"duplicate_of": event.DuplicateOf,
		})
	default:
		// Обработка после ответа оператору
		eventID := event.ID
		go func() {
			// Контекст запроса умирает вместе с ответом, обработка живет дольше
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := h.webhooks.ProcessEvent(ctx, eventID); err != nil {
				h.log.Warnw("Async webhook processing failed, sweep will retry", "eventID", eventID, "error", err)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"result":   result,
			"event_id": event.ID,
		})
	}
}
