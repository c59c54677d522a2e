// Package handlers содержит HTTP-обработчики REST API шлюза.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/service"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// BillingHandler обработчик операций биллинга
type BillingHandler struct {
	billing service.BillingService
	log     *logger.Logger
}

// NewBillingHandler создает новый обработчик биллинга
func NewBillingHandler(billing service.BillingService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billing,
		log:     log,
	}
}

// Execute выполняет операцию биллинга.
// POST /api/v1/billing/:capability
func (h *BillingHandler) Execute(c *gin.Context) {
	capability, ok := domain.ParseCapability(c.Param("capability"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown billing capability"})
		return
	}

	var req domain.BillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	resp, err := h.billing.Route(c.Request.Context(), capability, req)
	if err != nil {
		writeBillingError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeBillingError маппит унифицированную таксономию ошибок в HTTP-статусы.
// Наружу уходят код и user_message; сырые операторские ответы остаются в логах.
func writeBillingError(c *gin.Context, log *logger.Logger, err error) {
	var berr *domain.BillingError
	if errors.As(err, &berr) {
		status := http.StatusInternalServerError
		switch berr.Code {
		case domain.ErrCodeValidation:
			status = http.StatusBadRequest
		case domain.ErrCodeNoOperatorAvailable, domain.ErrCodeFeatureNotSupported:
			status = http.StatusUnprocessableEntity
		case domain.ErrCodeOperatorError:
			status = http.StatusBadGateway
		case domain.ErrCodeTimeout:
			// Исход не определен: клиенту предлагается дождаться ретрая
			status = http.StatusGatewayTimeout
		case domain.ErrCodeDuplicateEvent:
			status = http.StatusConflict
		}

		c.JSON(status, gin.H{
			"code":    berr.Code,
			"message": berr.UserMessage,
		})
		return
	}

	var nfErr *domain.NotFoundError
	if errors.As(err, &nfErr) {
		c.JSON(http.StatusNotFound, gin.H{"error": nfErr.Error()})
		return
	}

	log.Errorw("Unhandled billing error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
