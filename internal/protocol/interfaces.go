/*

This package defines the interface boundary to the external financial systems
the strategy core coordinates: a lending market, an AMM position manager, a
swap venue, a price oracle and the user's custody account. The core treats
all of them as correct, audited collaborators; implementations live in the
evm subpackage.

*/

package protocol

import (
	"context"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopyield/lfm/internal/types"
)

// RateMode selects the interest model of a lending-market loan.
type RateMode uint8

const (
	RateStable   RateMode = 1
	RateVariable RateMode = 2
)

// LendingMarket is the supply/borrow side of the strategy.
// Amounts are raw token units; beneficiary is always the custody account,
// never the strategy's working account.
type LendingMarket interface {
	Supply(ctx context.Context, asset common.Address, amount sdkmath.Int, beneficiary common.Address) error
	Borrow(ctx context.Context, asset common.Address, amount sdkmath.Int, rate RateMode, beneficiary common.Address) error

	// Repay pays down beneficiary's debt and returns the amount actually
	// repaid, which may be less than requested when the debt is smaller.
	Repay(ctx context.Context, asset common.Address, amount sdkmath.Int, rate RateMode, beneficiary common.Address) (sdkmath.Int, error)

	// Withdraw removes supplied collateral and returns the amount actually
	// withdrawn to the recipient.
	Withdraw(ctx context.Context, asset common.Address, amount sdkmath.Int, recipient common.Address) (sdkmath.Int, error)

	Debt(ctx context.Context, owner common.Address, asset common.Address, rate RateMode) (sdkmath.Int, error)
	Collateral(ctx context.Context, owner common.Address, asset common.Address) (sdkmath.Int, error)
}

// MintParams describes a new concentrated liquidity position. TokenA/TokenB
// carry no ordering promise: the implementation maps them onto the pool's
// canonical token0/token1 by identity.
type MintParams struct {
	Pool       common.Address
	TokenA     common.Address
	AmountA    sdkmath.Int
	AmountAMin sdkmath.Int
	TokenB     common.Address
	AmountB    sdkmath.Int
	AmountBMin sdkmath.Int
	Recipient  common.Address
	Deadline   time.Time
}

// MintResult reports the issued certificate and the amounts the pool
// actually consumed, keyed by the same A/B identities as MintParams.
type MintResult struct {
	Certificate types.CertificateID
	UsedA       sdkmath.Int
	UsedB       sdkmath.Int
}

// PositionInfo is the on-chain view of one liquidity certificate. Token0 and
// Token1 are in the pool's canonical order, which is unrelated to which asset
// the strategy considers stable.
type PositionInfo struct {
	Token0    common.Address
	Token1    common.Address
	Liquidity sdkmath.Int
}

// LiquidityPositions is the AMM position certificate interface.
// DecreaseLiquidity and Collect report amounts in the pool's canonical
// token0/token1 order; callers must resolve identities through Query before
// interpreting them.
type LiquidityPositions interface {
	Mint(ctx context.Context, params MintParams) (MintResult, error)
	DecreaseLiquidity(ctx context.Context, id types.CertificateID, liquidity sdkmath.Int, deadline time.Time) (amount0, amount1 sdkmath.Int, err error)
	Collect(ctx context.Context, id types.CertificateID, recipient common.Address, max0, max1 sdkmath.Int) (amount0, amount1 sdkmath.Int, err error)
	Query(ctx context.Context, id types.CertificateID) (PositionInfo, error)
}

// SwapRouter executes exact-input swaps with a minimum-output bound and a
// staleness deadline.
type SwapRouter interface {
	SwapExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error)
}

// PriceOracle reports the price of one raw unit of base expressed in raw
// units of quote, already adjusted for the two tokens' decimals.
type PriceOracle interface {
	LatestPrice(ctx context.Context, base, quote common.Address) (price sdkmath.LegacyDec, updatedAt time.Time, err error)
}

// Custody moves pre-approved funds and certificates between the custody
// account and the strategy's working balance. Pulls fail with
// types.ErrInsufficientApproval when the account has not granted enough
// allowance; the strategy never holds standing custody between operations.
type Custody interface {
	// PullAsset moves amount of asset from the owner's custody account into
	// the working balance.
	PullAsset(ctx context.Context, owner common.Address, asset common.Address, amount sdkmath.Int) error

	// PushAsset moves amount of asset from the working balance to any
	// recipient (the custody account, or the protocol fee collector).
	PushAsset(ctx context.Context, recipient common.Address, asset common.Address, amount sdkmath.Int) error

	PullCertificate(ctx context.Context, owner common.Address, id types.CertificateID) error
	PushCertificate(ctx context.Context, owner common.Address, id types.CertificateID) error
}

// MaxCollect is the per-asset collection cap: the largest amount an AMM
// collect call may sweep in one pass (uint128 max).
func MaxCollect() sdkmath.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return sdkmath.NewIntFromBigInt(limit.Sub(limit, big.NewInt(1)))
}
