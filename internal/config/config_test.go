package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.APIPublicKey = "pub"
	cfg.APISecretKey = "secret"
	cfg.Userref = 1
	cfg.Strategy = string(StrategyGridHODL)
	cfg.Name = "my-bot"
	cfg.BaseCurrency = "BTC"
	cfg.QuoteCurrency = "USD"
	cfg.Interval = 0.01
	cfg.AmountPerGrid = 100
	cfg.MaxInvestment = 10_000
	cfg.NOpenBuyOrders = 5
	cfg.Fee = 0.0025
	return cfg
}

func TestValidConfigPasses(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = "Unknown"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsIntervalOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Interval = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroAmountPerGrid(t *testing.T) {
	cfg := validConfig()
	cfg.AmountPerGrid = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.APISecretKey = ""
	assert.Error(t, cfg.Validate())
}

func TestExpandEnvVarsPrefersGridPrefix(t *testing.T) {
	os.Setenv("GRID_API_KEY", "prefixed")
	os.Setenv("API_KEY", "unprefixed")
	defer os.Unsetenv("GRID_API_KEY")
	defer os.Unsetenv("API_KEY")

	result := expandEnvVars("api_public_key: ${API_KEY}")
	assert.Equal(t, "api_public_key: prefixed", result)
}

func TestLoadParsesAndValidatesFile(t *testing.T) {
	tmp, err := os.CreateTemp("", "config-test-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmp.Name())

	content := `
api_public_key: pub
api_secret_key: ${GRID_TEST_SECRET}
exchange: Kraken
userref: 1
strategy: GridHODL
name: my-bot
base_currency: BTC
quote_currency: USD
interval: 0.01
amount_per_grid: 100
max_investment: 10000
n_open_buy_orders: 5
fee: 0.0025
`
	_, err = tmp.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	os.Setenv("GRID_TEST_SECRET", "super-secret")
	defer os.Unsetenv("GRID_TEST_SECRET")

	cfg, err := Load(tmp.Name())
	require.NoError(t, err)
	assert.Equal(t, Secret("super-secret"), cfg.APISecretKey)
	assert.Equal(t, "BTC/USD", cfg.Symbol())
}

func TestStringRedactsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.APIPublicKey = "pub-key-value"
	cfg.APISecretKey = "secret-key-value"
	out := cfg.String()
	assert.Contains(t, out, "REDACTED")
	assert.NotContains(t, out, "pub-key-value")
	assert.NotContains(t, out, "secret-key-value")
}
