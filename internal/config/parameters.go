/*

This file contains the default strategy parameters.

These defaults are calibrated for a volatile-collateral / stable-debt pair on
a deep pool. Each value balances harvest frequency against execution cost.

*/

package config

import (
	"errors"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/types"
)

// DefaultStrategyParameters provides the baseline policy for the position
// manager and trade trigger. Individual values can be overridden through
// environment variables (see LoadStrategyParameters).
var DefaultStrategyParameters = types.StrategyParameters{
	TradeTriggerThreshold: 10, // Harvest fees on every 10th observed trade.
	// Rationale: on an active pool this lands a harvest every few minutes
	// without paying execution costs on every trade. The counter is never
	// reset, so the trigger fires on every multiple.

	MaxLTVBps: 7500, // Never borrow above 75% of collateral value.
	// Rationale: the lending market liquidates well below 100%; the ceiling
	// keeps caller-requested ratios inside the market's own limits.

	MaxSlippageBps: 500, // Reject slippage tolerances above 5%.
	// Rationale: a wider tolerance than this on entry is indistinguishable
	// from accepting a bad fill.

	ProtocolFeeBps: 0, // No skim unless the operator configures one.

	DustAmount: sdkmath.NewInt(1000), // Skip transfers at or below 1000 raw units.
	// Rationale: returning a few raw units costs more in execution than the
	// units are worth.

	SwapDeadline: 2 * time.Minute, // Swaps and mints expire after 2 minutes.

	MaxOracleStaleness: 30 * time.Minute, // Reject price observations older than this.
}

// LoadStrategyParameters returns the default parameters with any environment
// overrides applied. Overrides are optional; when present they must parse.
func LoadStrategyParameters() (types.StrategyParameters, error) {
	params := DefaultStrategyParameters

	if _, ok := os.LookupEnv("TRADE_TRIGGER_THRESHOLD"); ok {
		v, err := getEnvAsUint64("TRADE_TRIGGER_THRESHOLD")
		if err != nil {
			return params, err
		}
		if v == 0 {
			return params, errors.New("TRADE_TRIGGER_THRESHOLD must be positive")
		}
		params.TradeTriggerThreshold = v
	}

	if _, ok := os.LookupEnv("MAX_LTV_BPS"); ok {
		v, err := getEnvAsUint64("MAX_LTV_BPS")
		if err != nil {
			return params, err
		}
		if v == 0 || v >= 10000 {
			return params, errors.New("MAX_LTV_BPS must be between 1 and 9999")
		}
		params.MaxLTVBps = uint32(v)
	}

	if _, ok := os.LookupEnv("MAX_SLIPPAGE_BPS"); ok {
		v, err := getEnvAsUint64("MAX_SLIPPAGE_BPS")
		if err != nil {
			return params, err
		}
		if v >= 10000 {
			return params, errors.New("MAX_SLIPPAGE_BPS must be below 10000")
		}
		params.MaxSlippageBps = uint32(v)
	}

	if _, ok := os.LookupEnv("PROTOCOL_FEE_BPS"); ok {
		v, err := getEnvAsUint64("PROTOCOL_FEE_BPS")
		if err != nil {
			return params, err
		}
		if v >= 10000 {
			return params, errors.New("PROTOCOL_FEE_BPS must be below 10000")
		}
		params.ProtocolFeeBps = uint32(v)
	}

	if raw, ok := os.LookupEnv("DUST_AMOUNT"); ok {
		v, ok := sdkmath.NewIntFromString(raw)
		if !ok || v.IsNegative() {
			return params, errors.New("DUST_AMOUNT must be a non-negative integer, got: " + raw)
		}
		params.DustAmount = v
	}

	if _, ok := os.LookupEnv("SWAP_DEADLINE"); ok {
		v, err := getEnvAsDuration("SWAP_DEADLINE")
		if err != nil {
			return params, err
		}
		params.SwapDeadline = v
	}

	if _, ok := os.LookupEnv("MAX_ORACLE_STALENESS"); ok {
		v, err := getEnvAsDuration("MAX_ORACLE_STALENESS")
		if err != nil {
			return params, err
		}
		params.MaxOracleStaleness = v
	}

	return params, nil
}
