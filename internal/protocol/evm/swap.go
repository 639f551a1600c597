package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	sdkmath "cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/types"
	"github.com/loopyield/lfm/internal/utils"
)

const swapRouterABI = `[
  {"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// SwapRouter adapts a Uniswap-v3-style router for exact-input single-hop
// swaps. The realized output is measured on the working account's balance so
// fee-on-transfer quirks cannot overstate it.
type SwapRouter struct {
	client     *Client
	tokens     *erc20
	router     *bind.BoundContract
	routerAddr common.Address
	fee        *big.Int
	logger     zerolog.Logger
}

// NewSwapRouter binds the router; feeTier selects the pool, in hundredths of
// a basis point (e.g. 3000 for 0.3%).
func NewSwapRouter(client *Client, router common.Address, feeTier uint32) (*SwapRouter, error) {
	bound, _, err := client.boundContract(router, swapRouterABI)
	if err != nil {
		return nil, err
	}
	return &SwapRouter{
		client:     client,
		tokens:     newERC20(client),
		router:     bound,
		routerAddr: router,
		fee:        new(big.Int).SetUint64(uint64(feeTier)),
		logger:     logger.GetForComponent("swap_router"),
	}, nil
}

// SwapExactInput swaps amountIn of tokenIn for at least minOut of tokenOut
// and returns the amount actually received by the working account.
func (s *SwapRouter) SwapExactInput(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error) {
	before, err := s.tokens.balanceOf(ctx, tokenOut, s.client.signer)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if err := s.tokens.ensureApproval(ctx, tokenIn, s.routerAddr, amountIn.BigInt()); err != nil {
		return sdkmath.ZeroInt(), err
	}

	_, err = s.client.transact(ctx, s.router, "exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               s.fee,
		Recipient:         s.client.signer,
		Deadline:          deadlineArg(deadline),
		AmountIn:          amountIn.BigInt(),
		AmountOutMinimum:  minOut.BigInt(),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	after, err := s.tokens.balanceOf(ctx, tokenOut, s.client.signer)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	received := new(big.Int).Sub(after, before)
	if received.Sign() < 0 {
		received = big.NewInt(0)
	}
	out, err := utils.BigToSDKInt(received)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	if out.LT(minOut) {
		return out, errors.Join(types.ErrSlippageExceeded,
			fmt.Errorf("received %s, required %s", out, minOut))
	}

	s.logger.Debug().
		Str("tokenIn", tokenIn.Hex()).
		Str("tokenOut", tokenOut.Hex()).
		Str("amountIn", amountIn.String()).
		Str("amountOut", out.String()).
		Msg("Swap executed")

	return out, nil
}
