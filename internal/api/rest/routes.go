// Package rest собирает HTTP-поверхность шлюза: маршруты, middleware и сервер.
package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dhoini/Carrier-billing-gateway/internal/api/rest/handlers"
	"github.com/Dhoini/Carrier-billing-gateway/internal/api/rest/middleware"
	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/internal/service"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(
	billing service.BillingService,
	webhooks service.WebhookService,
	reg *registry.Registry,
	promRegistry *prometheus.Registry,
	log *logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/healthz", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))

	billingHandler := handlers.NewBillingHandler(billing, log)
	webhookHandler := handlers.NewWebhookHandler(webhooks, log)
	operatorHandler := handlers.NewOperatorHandler(reg, log)

	v1 := r.Group("/api/v1")
	{
		// Операции биллинга: capability в пути, параметры в теле
		v1.POST("/billing/:capability", billingHandler.Execute)

		// Входящие вебхуки операторов
		v1.POST("/webhooks/:operator", webhookHandler.HandleOperatorWebhook)

		// Дашборд здоровья операторов
		v1.GET("/operators/health", operatorHandler.Health)

		// Администрирование
		admin := v1.Group("/admin")
		{
			admin.PUT("/operators/:code/enable", operatorHandler.Enable)
			admin.PUT("/operators/:code/disable", operatorHandler.Disable)
		}
	}

	return r
}
