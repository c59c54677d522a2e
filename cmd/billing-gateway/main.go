package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dhoini/Carrier-billing-gateway/internal/adapter"
	"github.com/Dhoini/Carrier-billing-gateway/internal/api/rest"
	"github.com/Dhoini/Carrier-billing-gateway/internal/config"
	"github.com/Dhoini/Carrier-billing-gateway/internal/db"
	"github.com/Dhoini/Carrier-billing-gateway/internal/domain"
	"github.com/Dhoini/Carrier-billing-gateway/internal/kafka"
	"github.com/Dhoini/Carrier-billing-gateway/internal/metrics"
	"github.com/Dhoini/Carrier-billing-gateway/internal/msisdn"
	"github.com/Dhoini/Carrier-billing-gateway/internal/registry"
	"github.com/Dhoini/Carrier-billing-gateway/internal/repository"
	"github.com/Dhoini/Carrier-billing-gateway/internal/service"
	"github.com/Dhoini/Carrier-billing-gateway/pkg/logger"
)

var log *logger.Logger

func init() {
	logLevel := logger.INFO
	if os.Getenv("DEBUG") == "true" {
		logLevel = logger.DEBUG
	}
	log = logger.New(logLevel)
}

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prometheus
	promRegistry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(promRegistry, log)
	runtimeMetrics := metrics.NewRuntimeMetrics(promRegistry, log)
	runtimeMetrics.Start(ctx, 15*time.Second)

	// Хранилище: PostgreSQL при заданном DSN, иначе in-memory (локальные
	// запуски и sandbox-окружение)
	var (
		operatorRepo repository.OperatorRepository
		subRepo      repository.SubscriptionRepository
		txRepo       repository.TransactionRepository
		eventRepo    repository.WebhookEventRepository
	)
	if cfg.Database.DSN != "" {
		dbClient, err := db.NewClient(cfg.Database.DSN, log)
		if err != nil {
			log.Fatal("Failed to connect to database: %v", err)
		}
		defer dbClient.Close()

		operatorRepo = repository.NewPostgresOperatorRepository(dbClient.DB(), log)
		subRepo = repository.NewPostgresSubscriptionRepository(dbClient.DB(), log)
		txRepo = repository.NewPostgresTransactionRepository(dbClient.DB(), log)
		eventRepo = repository.NewPostgresWebhookEventRepository(dbClient.DB(), log)

		if cfg.Redis.Addr != "" {
			cache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
			if err != nil {
				log.Fatal("Failed to connect to Redis: %v", err)
			}
			defer cache.Close()

			subRepo = repository.NewCachedSubscriptionRepository(subRepo, cache, log)
		}
	} else {
		log.Warnw("Database DSN is not configured, using in-memory storage")
		operatorRepo = repository.NewInMemoryOperatorRepository(log)
		subRepo = repository.NewInMemorySubscriptionRepository(log)
		txRepo = repository.NewInMemoryTransactionRepository(log)
		eventRepo = repository.NewInMemoryWebhookEventRepository(log)
	}

	// Kafka
	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, log); err != nil {
			log.Fatal("Failed to ensure Kafka topics: %v", err)
		}

		producer, err = kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Fatal("Failed to create Kafka producer: %v", err)
		}
		defer producer.Close()
	} else {
		log.Warnw("Kafka brokers are not configured, events will not be published")
	}

	// Реестр операторов
	validator := msisdn.NewValidator()
	reg := registry.NewRegistry(validator, operatorRepo, cfg.Health.Smoothing, cfg.Health.LowWater, log)
	reg.SetHealthGauge(billingMetrics)

	for _, opCfg := range cfg.Operators {
		base, err := buildAdapter(opCfg)
		if err != nil {
			log.Fatal("Failed to build adapter for operator %s: %v", opCfg.Code, err)
		}

		op := operatorFromConfig(opCfg)
		reg.Register(op, adapter.Instrument(base, reg, billingMetrics, log))
	}

	backoff := domain.RetryBackoff{
		BaseDelay:  cfg.Billing.RetryBaseDelay,
		Multiplier: cfg.Billing.RetryMultiplier,
		MaxDelay:   cfg.Billing.RetryMaxDelay,
		MaxRetries: cfg.Billing.MaxRetries,
	}

	billingService := service.NewBillingService(
		reg, txRepo, subRepo, producer, billingMetrics, backoff, cfg.Billing.AdapterTimeout, log)
	webhookService := service.NewWebhookService(
		reg, eventRepo, subRepo, txRepo, producer, billingMetrics, backoff, cfg.Webhook.MaxAttempts, log)

	billingService.StartRetryLoop(ctx, cfg.Billing.RetrySweepInterval)
	webhookService.StartSweepLoop(ctx, cfg.Webhook.SweepInterval)

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := rest.SetupRouter(billingService, webhookService, reg, promRegistry, log)
	server := rest.NewServer(router, cfg.App.Port, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped gracefully")
}

// buildAdapter создает вариант адаптера по имени из конфигурации.
func buildAdapter(opCfg config.OperatorConfig) (adapter.Adapter, error) {
	switch opCfg.Adapter {
	case "dtac":
		return adapter.NewDTACThailand(opCfg.BaseURL, opCfg.APIKey, log), nil
	case "zain":
		return adapter.NewZainKuwait(opCfg.BaseURL, opCfg.APIKey, log), nil
	case "vodafone":
		return adapter.NewVodafoneUK(opCfg.BaseURL, opCfg.APIKey, log), nil
	case "sandbox", "":
		return adapter.NewSandbox(log), nil
	}
	return nil, domain.NewValidationError("unknown adapter variant: " + opCfg.Adapter)
}

// operatorFromConfig преобразует конфигурацию оператора в доменную модель.
func operatorFromConfig(opCfg config.OperatorConfig) *domain.Operator {
	capabilities := make([]domain.Capability, 0, len(opCfg.Capabilities))
	for _, c := range opCfg.Capabilities {
		if capability, ok := domain.ParseCapability(c); ok {
			capabilities = append(capabilities, capability)
		} else {
			log.Warnw("Unknown capability in operator config ignored", "operator", opCfg.Code, "capability", c)
		}
	}

	return &domain.Operator{
		Code:            opCfg.Code,
		Country:         opCfg.Country,
		Currency:        opCfg.Currency,
		IdentifierRegex: opCfg.IdentifierRegex,
		CountryCode:     opCfg.CountryCode,
		MinAmount:       opCfg.MinAmount,
		MaxAmount:       opCfg.MaxAmount,
		PINLength:       opCfg.PINLength,
		Capabilities:    capabilities,
		CheckoutOnly:    opCfg.CheckoutOnly,
		AcceptsACR:      opCfg.AcceptsACR,
		Enabled:         opCfg.Enabled,
		Priority:        opCfg.Priority,
		Campaigns:       opCfg.Campaigns,
	}
}
