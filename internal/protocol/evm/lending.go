package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	sdkmath "cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/protocol"
	"github.com/loopyield/lfm/internal/utils"
)

const lendingPoolABI = `[
  {"name":"supply","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
  {"name":"borrow","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"outputs":[]},
  {"name":"repay","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const referralCode = uint16(0)

// LendingMarket adapts an Aave-v3-style pool. Debt and collateral balances
// are read from the pool's interest-bearing tokens, so actual repaid and
// withdrawn amounts are measured as balance deltas rather than trusted from
// call returns.
type LendingMarket struct {
	client   *Client
	tokens   *erc20
	pool     *bind.BoundContract
	poolAddr common.Address
	logger   zerolog.Logger

	// receiptTokens maps supplied asset -> interest-bearing receipt token.
	// debtTokens maps borrowed asset -> variable-rate debt token.
	receiptTokens map[common.Address]common.Address
	debtTokens    map[common.Address]common.Address
}

func NewLendingMarket(client *Client, pool common.Address, receiptTokens, debtTokens map[common.Address]common.Address) (*LendingMarket, error) {
	bound, _, err := client.boundContract(pool, lendingPoolABI)
	if err != nil {
		return nil, err
	}
	return &LendingMarket{
		client:        client,
		tokens:        newERC20(client),
		pool:          bound,
		poolAddr:      pool,
		logger:        logger.GetForComponent("lending_market"),
		receiptTokens: receiptTokens,
		debtTokens:    debtTokens,
	}, nil
}

// Supply deposits amount of asset as collateral credited to beneficiary.
func (l *LendingMarket) Supply(ctx context.Context, asset common.Address, amount sdkmath.Int, beneficiary common.Address) error {
	raw := amount.BigInt()
	if err := l.tokens.ensureApproval(ctx, asset, l.poolAddr, raw); err != nil {
		return err
	}
	_, err := l.client.transact(ctx, l.pool, "supply", asset, raw, beneficiary, referralCode)
	return err
}

// Borrow draws amount of asset against beneficiary's collateral. The pool
// must have been granted credit delegation from beneficiary to the working
// account.
func (l *LendingMarket) Borrow(ctx context.Context, asset common.Address, amount sdkmath.Int, rate protocol.RateMode, beneficiary common.Address) error {
	_, err := l.client.transact(ctx, l.pool, "borrow",
		asset, amount.BigInt(), rateModeArg(rate), referralCode, beneficiary)
	return err
}

// Repay pays down up to amount of beneficiary's debt in asset and returns
// the amount actually applied.
func (l *LendingMarket) Repay(ctx context.Context, asset common.Address, amount sdkmath.Int, rate protocol.RateMode, beneficiary common.Address) (sdkmath.Int, error) {
	before, err := l.Debt(ctx, beneficiary, asset, rate)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	raw := amount.BigInt()
	if err := l.tokens.ensureApproval(ctx, asset, l.poolAddr, raw); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if _, err := l.client.transact(ctx, l.pool, "repay",
		asset, raw, rateModeArg(rate), beneficiary); err != nil {
		return sdkmath.ZeroInt(), err
	}

	after, err := l.Debt(ctx, beneficiary, asset, rate)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	repaid := before.Sub(after)
	if repaid.IsNegative() {
		// Interest accrual within the same block cannot exceed the payment.
		repaid = sdkmath.ZeroInt()
	}
	return repaid, nil
}

// Withdraw releases up to amount of supplied asset to recipient and returns
// the amount actually received, measured on the recipient's balance.
func (l *LendingMarket) Withdraw(ctx context.Context, asset common.Address, amount sdkmath.Int, recipient common.Address) (sdkmath.Int, error) {
	before, err := l.tokens.balanceOf(ctx, asset, recipient)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if _, err := l.client.transact(ctx, l.pool, "withdraw",
		asset, amount.BigInt(), recipient); err != nil {
		return sdkmath.ZeroInt(), err
	}

	after, err := l.tokens.balanceOf(ctx, asset, recipient)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	withdrawn := new(big.Int).Sub(after, before)
	if withdrawn.Sign() < 0 {
		withdrawn = big.NewInt(0)
	}
	return utils.BigToSDKInt(withdrawn)
}

// Debt reports owner's outstanding debt in asset under the given rate mode.
func (l *LendingMarket) Debt(ctx context.Context, owner common.Address, asset common.Address, rate protocol.RateMode) (sdkmath.Int, error) {
	if rate != protocol.RateVariable {
		l.logger.Warn().Str("asset", asset.Hex()).Uint8("rate", uint8(rate)).
			Msg("Only variable-rate debt tokens are configured")
		return sdkmath.ZeroInt(), nil
	}
	debtToken, ok := l.debtTokens[asset]
	if !ok {
		l.logger.Warn().Str("asset", asset.Hex()).Msg("No debt token configured for asset")
		return sdkmath.ZeroInt(), nil
	}
	bal, err := l.tokens.balanceOf(ctx, debtToken, owner)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.BigToSDKInt(bal)
}

// Collateral reports owner's supplied balance in asset.
func (l *LendingMarket) Collateral(ctx context.Context, owner common.Address, asset common.Address) (sdkmath.Int, error) {
	receiptToken, ok := l.receiptTokens[asset]
	if !ok {
		l.logger.Warn().Str("asset", asset.Hex()).Msg("No receipt token configured for asset")
		return sdkmath.ZeroInt(), nil
	}
	bal, err := l.tokens.balanceOf(ctx, receiptToken, owner)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return utils.BigToSDKInt(bal)
}

func rateModeArg(rate protocol.RateMode) *big.Int {
	return new(big.Int).SetUint64(uint64(rate))
}
