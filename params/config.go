package params

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

var ErrInvalidConfig = errors.New("invalid config")

type Node struct {
	RPCURL          string
	ChainID         uint64 // 0 asks the node
	ContractAddress string
	PrivateKeyHex   string
	// ReceiptPollInterval is how often a sent transaction's receipt is polled.
	ReceiptPollInterval time.Duration
	// ReceiptTimeout is how long a sent transaction may stay unmined.
	ReceiptTimeout time.Duration
}

type Trading struct {
	// DustThreshold is the amount of shares or ether below which an
	// execution counts as complete.
	DustThreshold     fxp.Decimal
	MaxTradesPerRound int
	GasLimit          uint64
	GasPriceWei       *big.Int
	// MultiStep multiplies estimated gas for trades that need a second
	// transaction (risky short sells, short asks).
	MultiStep int64
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	Level string
	File  string // empty logs to stdout only
}

type Config struct {
	Node        Node
	Trading     Trading
	API         API
	Log         Log
	MarketsFile string
}

func Default() Config {
	return Config{
		Node: Node{
			RPCURL:              "http://localhost:8545",
			ReceiptPollInterval: 2 * time.Second,
			ReceiptTimeout:      5 * time.Minute,
		},
		Trading: Trading{
			DustThreshold:     fxp.MustParse("0.00000001"),
			MaxTradesPerRound: 3,
			GasLimit:          3_135_000,
			GasPriceWei:       big.NewInt(20_000_000_000),
			MultiStep:         2,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: Log{
			Level: "info",
		},
		MarketsFile: "markets.json",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.RPCURL = getEnv("NODE_RPC_URL", cfg.Node.RPCURL)
	cfg.Node.ContractAddress = getEnv("NODE_CONTRACT_ADDRESS", cfg.Node.ContractAddress)
	cfg.Node.PrivateKeyHex = getEnv("NODE_PRIVATE_KEY", cfg.Node.PrivateKeyHex)
	if v := os.Getenv("NODE_CHAIN_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Node.ChainID = id
		}
	}
	if v := os.Getenv("NODE_RECEIPT_POLL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Node.ReceiptPollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("NODE_RECEIPT_TIMEOUT_S"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			cfg.Node.ReceiptTimeout = time.Duration(sec) * time.Second
		}
	}

	if v := os.Getenv("TRADING_DUST_THRESHOLD"); v != "" {
		if d, err := fxp.Parse(v); err == nil {
			cfg.Trading.DustThreshold = d
		}
	}
	if v := os.Getenv("TRADING_MAX_TRADES_PER_ROUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trading.MaxTradesPerRound = n
		}
	}
	if v := os.Getenv("TRADING_GAS_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Trading.GasLimit = n
		}
	}
	if v := os.Getenv("TRADING_GAS_PRICE_WEI"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok {
			cfg.Trading.GasPriceWei = n
		}
	}
	if v := os.Getenv("TRADING_MULTI_STEP"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Trading.MultiStep = n
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.MarketsFile = getEnv("MARKETS_FILE", cfg.MarketsFile)

	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Node.RPCURL == "":
		return fmt.Errorf("%w: node rpc url is empty", ErrInvalidConfig)
	case c.Node.ContractAddress != "" && !common.IsHexAddress(c.Node.ContractAddress):
		return fmt.Errorf("%w: contract address %q", ErrInvalidConfig, c.Node.ContractAddress)
	case c.Node.ReceiptPollInterval <= 0:
		return fmt.Errorf("%w: receipt poll interval must be positive", ErrInvalidConfig)
	case c.Node.ReceiptTimeout <= 0:
		return fmt.Errorf("%w: receipt timeout must be positive", ErrInvalidConfig)
	case c.Trading.DustThreshold.IsNegative():
		return fmt.Errorf("%w: negative dust threshold", ErrInvalidConfig)
	case c.Trading.MaxTradesPerRound < 1:
		return fmt.Errorf("%w: max trades per round must be at least 1", ErrInvalidConfig)
	case c.Trading.GasPriceWei == nil || c.Trading.GasPriceWei.Sign() < 0:
		return fmt.Errorf("%w: gas price must be non-negative", ErrInvalidConfig)
	case c.Trading.MultiStep < 1:
		return fmt.Errorf("%w: multi-step gas multiplier must be at least 1", ErrInvalidConfig)
	case c.API.Addr == "":
		return fmt.Errorf("%w: api address is empty", ErrInvalidConfig)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
