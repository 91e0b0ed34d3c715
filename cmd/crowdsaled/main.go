package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"crowdsale/config"
	"crowdsale/core/events"
	"crowdsale/crypto"
	"crowdsale/native/authorizer"
	"crowdsale/native/bank"
	"crowdsale/native/pricing"
	"crowdsale/native/sale"
	"crowdsale/observability"
	"crowdsale/observability/logging"
	"crowdsale/rpc"
	"crowdsale/storage"
)

const saleTokenDecimals = 18

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logger := logging.Setup("crowdsaled", cfg.LogEnvironment)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	instanceAddr, err := crypto.DecodeAddress(cfg.InstanceAddress)
	if err != nil {
		logger.Error("Invalid instance address", slog.Any("error", err))
		os.Exit(1)
	}
	var instance [20]byte
	copy(instance[:], instanceAddr.Bytes())

	plan, err := config.LoadPlan(cfg.SalePlanFile)
	if err != nil {
		logger.Error("Failed to load sale plan", slog.String("path", cfg.SalePlanFile), slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "crowdsale.db"))
	if err != nil {
		logger.Error("Failed to open state store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	recorder := observability.NewRecorder(events.EmitterFunc(func(evt events.Event) {
		logger.Debug("engine event", slog.String("type", evt.EventType()))
	}))

	authEngine := authorizer.NewEngine(store, cfg.ChainID, instance)
	authEngine.SetEmitter(recorder)

	pricingEngine := pricing.NewEngine(store)
	ledger := bank.NewLedger(store)

	saleEngine := sale.NewEngine(instance)
	saleEngine.SetState(store)
	saleEngine.SetEmitter(recorder)
	saleEngine.SetAuthorizer(authEngine)
	saleEngine.SetPricing(pricingEngine)
	saleEngine.SetBank(ledger)
	saleEngine.SetSaleToken(bank.NewTokenLedger(store, "SALE", saleTokenDecimals, instance))
	saleEngine.SetKYCProvider(sale.NewKYCRegistry(store))
	pricingEngine.SetTimelineView(saleEngine)

	for _, price := range plan.Prices {
		if price.Key == pricing.NativeKey {
			continue
		}
		token := bank.NewTokenLedger(store, price.Key, price.Decimals, instance)
		saleEngine.RegisterPaymentToken(token.Symbol(), token)
	}

	if err := seedState(saleEngine, authEngine, pricingEngine, plan, logger); err != nil {
		logger.Error("Failed to seed sale state", slog.Any("error", err))
		os.Exit(1)
	}

	secret, err := cfg.TokenSecret()
	if err != nil {
		logger.Error("Failed to resolve RPC token secret", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("RPC admin auth configured", logging.MaskField("secret", secret))

	server := rpc.NewServer(saleEngine, pricingEngine, authEngine, rpc.ServerConfig{
		Address: cfg.RPCAddress,
		Auth: rpc.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.NetworkName,
			Audience:   "crowdsale-rpc",
		},
		RequestsPerMinute: float64(cfg.RateLimitPerMin),
		Burst:             cfg.RateBurst,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("crowdsaled starting",
		slog.String("network", cfg.NetworkName),
		slog.Uint64("chain_id", cfg.ChainID),
		slog.String("instance", cfg.InstanceAddress),
		slog.String("rpc", cfg.RPCAddress))

	if err := server.Start(ctx); err != nil {
		logger.Error("RPC server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("crowdsaled stopped")
}

// seedState applies the sale plan on first run. An already bootstrapped store
// keeps its persisted configuration; the plan file is not a mutation channel
// after that point.
func seedState(saleEngine *sale.Engine, authEngine *authorizer.Engine, pricingEngine *pricing.Engine, plan *config.ResolvedPlan, logger *slog.Logger) error {
	if _, err := saleEngine.Params(); err == nil {
		logger.Info("Sale state already bootstrapped, skipping plan seed")
		return nil
	}

	if err := saleEngine.Bootstrap(plan.Params); err != nil {
		return fmt.Errorf("bootstrap sale: %w", err)
	}
	if err := authEngine.Bootstrap(plan.Params.Owner, plan.VoucherSigner); err != nil {
		return fmt.Errorf("bootstrap authorizer: %w", err)
	}
	for _, price := range plan.Prices {
		if err := pricingEngine.SetPrice(pricing.MethodFromKey(price.Key), price.PriceUSD, price.Decimals, price.Active); err != nil {
			return fmt.Errorf("set price %s: %w", price.Key, err)
		}
	}
	for _, round := range plan.Rounds {
		if err := saleEngine.ConfigureRound(plan.Params.Owner, round.ID, round.UnitsPerUSD, round.Capacity, round.Duration); err != nil {
			return fmt.Errorf("configure round %d: %w", round.ID, err)
		}
	}
	for buyer, allocation := range plan.Allocations {
		if err := saleEngine.SetWhitelistAllocation(plan.Params.Owner, buyer, allocation); err != nil {
			return fmt.Errorf("seed whitelist allocation: %w", err)
		}
	}
	for _, buyer := range plan.KYCVerified {
		if err := saleEngine.SetKYCVerified(plan.Params.Owner, buyer, true); err != nil {
			return fmt.Errorf("seed KYC registry: %w", err)
		}
	}
	logger.Info("Sale plan seeded",
		slog.Int("rounds", len(plan.Rounds)),
		slog.Int("prices", len(plan.Prices)),
		slog.Int("allocations", len(plan.Allocations)),
		slog.Int("kyc_verified", len(plan.KYCVerified)))
	return nil
}
