package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment
// variables. These are populated at startup by the LoadConfig function.
var (
	// NodeRPC is the HTTP JSON-RPC endpoint of the target network.
	NodeRPC string
	// NodeWS is the WebSocket endpoint used for the trade event feed.
	NodeWS string
	// ChainID is the chain ID of the target network.
	ChainID uint64
	// SignerKey is the hex private key of the strategy's working account.
	SignerKey string

	// LendingPool is the lending market's pool contract.
	LendingPool common.Address
	// PositionNFT is the AMM's position certificate contract.
	PositionNFT common.Address
	// SwapRouterAddr is the swap venue's router contract.
	SwapRouterAddr common.Address
	// PriceFeed is the collateral/stable price aggregator.
	PriceFeed common.Address
	// AMMPool is the pool the strategy provides liquidity to.
	AMMPool common.Address
	// SwapFeeTier selects the swap pool, in hundredths of a basis point.
	SwapFeeTier uint64

	// StableAsset and CollateralAsset are the two tokens of the strategy.
	StableAsset     common.Address
	CollateralAsset common.Address
	// StableDecimals and CollateralDecimals are the tokens' ERC20 decimals.
	StableDecimals     int
	CollateralDecimals int
	// StableDebtToken is the lending market's variable-debt token for the
	// stable asset; CollateralReceiptToken is its interest-bearing receipt
	// token for the collateral asset. Balances of these answer debt and
	// collateral queries.
	StableDebtToken        common.Address
	CollateralReceiptToken common.Address

	// FeeCollector receives the protocol-fee skim.
	FeeCollector common.Address
	// AdminToken gates the administrative trigger operations.
	AdminToken string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	NodeRPC, err = getEnv("NODE_RPC")
	if err != nil {
		return err
	}

	NodeWS, err = getEnv("NODE_WS")
	if err != nil {
		return err
	}

	ChainID, err = getEnvAsUint64("CHAIN_ID")
	if err != nil {
		return err
	}

	SignerKey, err = getEnv("SIGNER_PRIVATE_KEY")
	if err != nil {
		return err
	}

	LendingPool, err = getEnvAsAddress("LENDING_POOL_ADDRESS")
	if err != nil {
		return err
	}

	PositionNFT, err = getEnvAsAddress("POSITION_NFT_ADDRESS")
	if err != nil {
		return err
	}

	SwapRouterAddr, err = getEnvAsAddress("SWAP_ROUTER_ADDRESS")
	if err != nil {
		return err
	}

	PriceFeed, err = getEnvAsAddress("PRICE_FEED_ADDRESS")
	if err != nil {
		return err
	}

	AMMPool, err = getEnvAsAddress("AMM_POOL_ADDRESS")
	if err != nil {
		return err
	}

	SwapFeeTier, err = getEnvAsUint64("SWAP_FEE_TIER")
	if err != nil {
		return err
	}

	StableAsset, err = getEnvAsAddress("STABLE_ASSET_ADDRESS")
	if err != nil {
		return err
	}

	CollateralAsset, err = getEnvAsAddress("COLLATERAL_ASSET_ADDRESS")
	if err != nil {
		return err
	}

	StableDecimals, err = getEnvAsInt("STABLE_ASSET_DECIMALS")
	if err != nil {
		return err
	}

	CollateralDecimals, err = getEnvAsInt("COLLATERAL_ASSET_DECIMALS")
	if err != nil {
		return err
	}

	StableDebtToken, err = getEnvAsAddress("STABLE_DEBT_TOKEN_ADDRESS")
	if err != nil {
		return err
	}

	CollateralReceiptToken, err = getEnvAsAddress("COLLATERAL_RECEIPT_TOKEN_ADDRESS")
	if err != nil {
		return err
	}

	FeeCollector, err = getEnvAsAddress("FEE_COLLECTOR_ADDRESS")
	if err != nil {
		return err
	}

	AdminToken, err = getEnv("ADMIN_TOKEN")
	if err != nil {
		return err
	}

	log.Debug().
		Uint64("ChainID", ChainID).
		Str("LendingPool", LendingPool.Hex()).
		Str("PositionNFT", PositionNFT.Hex()).
		Str("AMMPool", AMMPool.Hex()).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a checksummed address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration.
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
