package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
	} `mapstructure:"kafka"`
	Billing struct {
		MaxRetries         int           `mapstructure:"maxRetries"`
		RetryBaseDelay     time.Duration `mapstructure:"retryBaseDelay"`
		RetryMultiplier    float64       `mapstructure:"retryMultiplier"`
		RetryMaxDelay      time.Duration `mapstructure:"retryMaxDelay"`
		RetrySweepInterval time.Duration `mapstructure:"retrySweepInterval"`
		AdapterTimeout     time.Duration `mapstructure:"adapterTimeout"`
	} `mapstructure:"billing"`
	Webhook struct {
		MaxAttempts   int           `mapstructure:"maxAttempts"`
		SweepInterval time.Duration `mapstructure:"sweepInterval"`
	} `mapstructure:"webhook"`
	Health struct {
		// Smoothing - коэффициент сглаживания EWMA для health score
		Smoothing float64 `mapstructure:"smoothing"`
		// LowWater - нижний порог, после которого оператор проигрывает tie-break
		LowWater float64 `mapstructure:"lowWater"`
	} `mapstructure:"health"`
	Operators []OperatorConfig `mapstructure:"operators"`
}

// OperatorConfig описывает одного оператора из конфигурационного файла.
type OperatorConfig struct {
	Code            string   `mapstructure:"code"`
	Country         string   `mapstructure:"country"`
	Currency        string   `mapstructure:"currency"`
	Adapter         string   `mapstructure:"adapter"`
	IdentifierRegex string   `mapstructure:"identifierRegex"`
	CountryCode     string   `mapstructure:"countryCode"`
	MinAmount       float64  `mapstructure:"minAmount"`
	MaxAmount       float64  `mapstructure:"maxAmount"`
	PINLength       int      `mapstructure:"pinLength"`
	Capabilities    []string `mapstructure:"capabilities"`
	CheckoutOnly    bool     `mapstructure:"checkoutOnly"`
	AcceptsACR      bool     `mapstructure:"acceptsACR"`
	Priority        int      `mapstructure:"priority"`
	Enabled         bool     `mapstructure:"enabled"`
	BaseURL         string   `mapstructure:"baseUrl"`
	APIKey          string   `mapstructure:"apiKey"`
	Campaigns       []string `mapstructure:"campaigns"`
}

// LoadConfig загружает конфигурацию из файла или переменных окружения.
func LoadConfig(path string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env не обязателен: локально удобно, в контейнере конфиг приходит из окружения
		_ = godotenv.Load(path)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv() // Чтение переменных окружения

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults задает значения по умолчанию для настроек ретраев и health score.
// Спорные константы (сглаживание, пороги) намеренно вынесены в конфиг.
func setDefaults() {
	viper.SetDefault("app.port", "8080")
	viper.SetDefault("app.env", "development")

	viper.SetDefault("billing.maxRetries", 5)
	viper.SetDefault("billing.retryBaseDelay", "30s")
	viper.SetDefault("billing.retryMultiplier", 2.0)
	viper.SetDefault("billing.retryMaxDelay", "6h")
	viper.SetDefault("billing.retrySweepInterval", "30s")
	viper.SetDefault("billing.adapterTimeout", "15s")

	viper.SetDefault("webhook.maxAttempts", 5)
	viper.SetDefault("webhook.sweepInterval", "30s")

	viper.SetDefault("health.smoothing", 0.1)
	viper.SetDefault("health.lowWater", 0.3)
}
