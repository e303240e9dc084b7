package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Trading.MaxTradesPerRound)
	assert.Equal(t, "0.00000001", cfg.Trading.DustThreshold.String())
	assert.Equal(t, uint64(3_135_000), cfg.Trading.GasLimit)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("NODE_RPC_URL", "ws://node:8546")
	t.Setenv("NODE_CHAIN_ID", "1337")
	t.Setenv("NODE_RECEIPT_POLL_MS", "250")
	t.Setenv("NODE_RECEIPT_TIMEOUT_S", "90")
	t.Setenv("TRADING_DUST_THRESHOLD", "0.001")
	t.Setenv("TRADING_MAX_TRADES_PER_ROUND", "5")
	t.Setenv("TRADING_GAS_PRICE_WEI", "1000000000")
	t.Setenv("API_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "ws://node:8546", cfg.Node.RPCURL)
	assert.Equal(t, uint64(1337), cfg.Node.ChainID)
	assert.Equal(t, 250*time.Millisecond, cfg.Node.ReceiptPollInterval)
	assert.Equal(t, 90*time.Second, cfg.Node.ReceiptTimeout)
	assert.Equal(t, "0.001", cfg.Trading.DustThreshold.String())
	assert.Equal(t, 5, cfg.Trading.MaxTradesPerRound)
	assert.Equal(t, "1000000000", cfg.Trading.GasPriceWei.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromEnvIgnoresBadValues(t *testing.T) {
	t.Setenv("TRADING_MAX_TRADES_PER_ROUND", "lots")
	t.Setenv("TRADING_DUST_THRESHOLD", "tiny")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, 3, cfg.Trading.MaxTradesPerRound)
	assert.Equal(t, "0.00000001", cfg.Trading.DustThreshold.String())
}

func TestLoadFromEnvReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MARKETS_FILE=/etc/predikt/markets.json\n"), 0o600))
	// godotenv never overrides variables that are already set.
	t.Setenv("MARKETS_FILE", "")
	require.NoError(t, os.Unsetenv("MARKETS_FILE"))

	cfg := LoadFromEnv(path)
	assert.Equal(t, "/etc/predikt/markets.json", cfg.MarketsFile)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty rpc", func(c *Config) { c.Node.RPCURL = "" }},
		{"bad contract", func(c *Config) { c.Node.ContractAddress = "0x123" }},
		{"zero poll", func(c *Config) { c.Node.ReceiptPollInterval = 0 }},
		{"zero receipt timeout", func(c *Config) { c.Node.ReceiptTimeout = 0 }},
		{"zero batch", func(c *Config) { c.Trading.MaxTradesPerRound = 0 }},
		{"nil gas price", func(c *Config) { c.Trading.GasPriceWei = nil }},
		{"zero multi-step", func(c *Config) { c.Trading.MultiStep = 0 }},
		{"empty api addr", func(c *Config) { c.API.Addr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
