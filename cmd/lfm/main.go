package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/loopyield/lfm/internal/config"
	"github.com/loopyield/lfm/internal/feed"
	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/manager"
	"github.com/loopyield/lfm/internal/protocol/evm"
	"github.com/loopyield/lfm/internal/state"
	"github.com/loopyield/lfm/internal/trigger"
	"github.com/loopyield/lfm/internal/web"
)

// main is the entry point for the LFM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("LFM Core Logic Starting...")

	params, err := config.LoadStrategyParameters()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load strategy parameters")
	}

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Protocol Adapters (with Safety Switch) ---
	if os.Getenv("LFM_MODE") != "live" {
		log.Fatal().Msg("LFM_MODE is not set to 'live'. Halting to prevent accidental execution. Set LFM_MODE=live to run.")
	}
	log.Warn().Msg("Initializing LFM in LIVE mode. Real transactions will be broadcast.")

	client, err := evm.NewClient(config.NodeRPC, config.SignerKey, config.ChainID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize EVM client")
	}
	defer client.Close()

	custody, err := evm.NewCustody(client, config.PositionNFT)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize custody adapter")
	}

	lending, err := evm.NewLendingMarket(client, config.LendingPool,
		map[common.Address]common.Address{config.CollateralAsset: config.CollateralReceiptToken},
		map[common.Address]common.Address{config.StableAsset: config.StableDebtToken},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize lending market adapter")
	}

	positions, err := evm.NewLiquidityPositions(client, config.PositionNFT)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize liquidity positions adapter")
	}

	swapRouter, err := evm.NewSwapRouter(client, config.SwapRouterAddr, uint32(config.SwapFeeTier))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize swap router adapter")
	}

	oracle, err := evm.NewPriceOracle(client, config.PriceFeed,
		config.CollateralAsset, config.StableAsset,
		config.CollateralDecimals, config.StableDecimals)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize price oracle adapter")
	}

	// --- 3. Core Components with Dependency Injection ---
	recorder := state.NewRecorder()

	mgr, err := manager.NewManager(manager.Config{
		Lending:         lending,
		Positions:       positions,
		Swap:            swapRouter,
		Oracle:          oracle,
		Custody:         custody,
		Recorder:        recorder,
		Params:          params,
		Pool:            config.AMMPool,
		StableAsset:     config.StableAsset,
		CollateralAsset: config.CollateralAsset,
		WorkingAccount:  client.Signer(),
		FeeCollector:    config.FeeCollector,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create position manager")
	}

	trig, err := trigger.NewTrigger(trigger.Config{
		Positions:       positions,
		Counters:        recorder,
		Pools:           recorder,
		Threshold:       params.TradeTriggerThreshold,
		StableAsset:     config.StableAsset,
		CollateralAsset: config.CollateralAsset,
		WorkingAccount:  client.Signer(),
		AdminToken:      config.AdminToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trade trigger")
	}

	bindToken, err := mgr.BindTrigger()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue trigger binding")
	}
	if err := trig.BindManager(config.AdminToken, mgr, bindToken); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind trigger to manager")
	}

	// --- 4. Restore Persisted State ---
	restored, err := state.LoadActivePositions()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load persisted positions")
	}
	mgr.Restore(restored)
	log.Info().Int("positions", len(restored)).Msg("Active positions restored")

	pools, err := state.LoadAuthorizedPools()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load authorized pools")
	}
	if len(pools) == 0 {
		// First boot: authorize the configured strategy pool. The trigger
		// persists the authorization through the recorder.
		if err := trig.SetPoolAuthorized(config.AdminToken, config.AMMPool, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to authorize strategy pool")
		}
		pools = []common.Address{config.AMMPool}
	} else {
		for _, pool := range pools {
			if err := trig.SetPoolAuthorized(config.AdminToken, pool, true); err != nil {
				log.Fatal().Err(err).Str("pool", pool.Hex()).Msg("Failed to authorize persisted pool")
			}
		}
	}

	// --- 5. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, mgr, trig, config.StableDecimals, config.CollateralDecimals)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting LFM status server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Run Trade Feed ---
	wsClient, err := ethclient.Dial(config.NodeWS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to dial websocket endpoint")
	}
	defer wsClient.Close()

	watcher, err := feed.NewWatcher(wsClient, pools, mgr, trig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trade feed watcher")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Trade feed terminated")
	}
	log.Info().Msg("Shutdown complete")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
