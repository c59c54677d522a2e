package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// OperatorHandler обработчик дашборда и администрирования операторов
type OperatorHandler struct {
	registry *registry.Registry
	log      *logger.Logger
}

// NewOperatorHandler создает новый обработчик операторов
func NewOperatorHandler(reg *registry.Registry, log *logger.Logger) *OperatorHandler {
	return &OperatorHandler{
		registry: reg,
		log:      log,
	}
}

// Health возвращает снимок здоровья всех операторов.
// GET /api/v1/operators/health
func (h *OperatorHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"operators": h.registry.HealthSnapshot()})
}

// Enable включает оператора.
// PUT /api/v1/admin/operators/:code/enable
func (h *OperatorHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable выключает оператора. Оператор никогда не удаляется: существующие
// подписки продолжают обслуживаться.
// PUT /api/v1/admin/operators/:code/disable
func (h *OperatorHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *OperatorHandler) setEnabled(c *gin.Context, enabled bool) {
	code := c.Param("code")

	actor := c.GetHeader("X-Admin-Actor")
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Admin-Actor header is required"})
		return
	}

	if err := h.registry.SetEnabled(code, enabled, actor); err != nil {
		writeBillingError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": code, "enabled": enabled})
}
