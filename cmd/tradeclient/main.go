package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/api"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/execution"
	"github.com/uhyunpark/predikt/pkg/crypto"
	"github.com/uhyunpark/predikt/pkg/settlement/ethrpc"
	"github.com/uhyunpark/predikt/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Markets ----
	markets := market.NewRegistry()
	n, err := markets.LoadFile(cfg.MarketsFile)
	if err != nil {
		sugar.Fatalw("markets_load_failed", "file", cfg.MarketsFile, "err", err)
	}
	sugar.Infow("markets_loaded", "file", cfg.MarketsFile, "count", n)

	// ---- Settlement ----
	signer, err := loadSigner(cfg.Node.PrivateKeyHex, sugar)
	if err != nil {
		sugar.Fatalw("signer_init_failed", "err", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.Node.RPCURL)
	if err != nil {
		sugar.Fatalw("rpc_dial_failed", "url", cfg.Node.RPCURL, "err", err)
	}
	defer client.Close()

	ledgerCfg := ethrpc.Config{
		Contract:            common.HexToAddress(cfg.Node.ContractAddress),
		GasPrice:            cfg.Trading.GasPriceWei,
		ReceiptPollInterval: cfg.Node.ReceiptPollInterval,
		ReceiptTimeout:      cfg.Node.ReceiptTimeout,
	}
	if cfg.Node.ChainID != 0 {
		ledgerCfg.ChainID = new(big.Int).SetUint64(cfg.Node.ChainID)
	}
	clock := util.RealClock{}
	ledger := ethrpc.New(client, signer, ledgerCfg, sugar.Named("ledger"), clock)

	// ---- Trading ----
	m := matcher.New(matcher.GasParams{
		GasLimit:  cfg.Trading.GasLimit,
		GasPrice:  cfg.Trading.GasPriceWei,
		MultiStep: cfg.Trading.MultiStep,
	})
	engine := execution.NewEngine(ledger, execution.Config{
		DustThreshold:     cfg.Trading.DustThreshold,
		MaxTradesPerRound: cfg.Trading.MaxTradesPerRound,
	}, sugar.Named("execution"), clock)

	sugar.Infow("client_starting",
		"account", signer.Address(),
		"rpc", cfg.Node.RPCURL,
		"contract", cfg.Node.ContractAddress,
		"max_trades_per_round", cfg.Trading.MaxTradesPerRound)

	// ---- API Server ----
	apiServer := api.NewServer(api.Deps{
		Markets:        markets,
		Ledger:         ledger,
		Matcher:        m,
		Engine:         engine,
		Account:        signer.Address(),
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar.Named("api"),
		Clock:          clock,
	})
	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Info("client_stopped")
}

func newLogger(c params.Log) (*zap.Logger, error) {
	if c.File != "" {
		return util.NewLoggerWithFile(c.File, c.Level)
	}
	return util.NewLogger(c.Level)
}

// loadSigner uses the configured key, or a throwaway one for local devnets.
func loadSigner(keyHex string, sugar *zap.SugaredLogger) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	sugar.Warnw("ephemeral_key_generated", "account", signer.Address())
	return signer, nil
}
