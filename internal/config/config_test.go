package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaults()

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, 5, cfg.Billing.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Billing.RetryBaseDelay)
	assert.Equal(t, 6*time.Hour, cfg.Billing.RetryMaxDelay)
	// Ретраи транзакций и добор вебхуков крутятся на своих интервалах
	assert.Equal(t, 30*time.Second, cfg.Billing.RetrySweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Webhook.SweepInterval)
	assert.Equal(t, 15*time.Second, cfg.Billing.AdapterTimeout)

	assert.InDelta(t, 0.1, cfg.Health.Smoothing, 0.0001)
	assert.InDelta(t, 0.3, cfg.Health.LowWater, 0.0001)
}
