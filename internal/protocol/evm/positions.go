package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	sdkmath "cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/protocol"
	"github.com/loopyield/lfm/internal/types"
	"github.com/loopyield/lfm/internal/utils"
)

const positionManagerABI = `[
  {"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},{"name":"token0","type":"address"},{"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},{"name":"liquidity","type":"uint128"},{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]},
  {"name":"mint","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"token0","type":"address"},{"name":"token1","type":"address"},{"name":"fee","type":"uint24"},{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},{"name":"amount0Desired","type":"uint256"},{"name":"amount1Desired","type":"uint256"},{"name":"amount0Min","type":"uint256"},{"name":"amount1Min","type":"uint256"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"}]}],"outputs":[{"name":"tokenId","type":"uint256"},{"name":"liquidity","type":"uint128"},{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
  {"name":"decreaseLiquidity","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenId","type":"uint256"},{"name":"liquidity","type":"uint128"},{"name":"amount0Min","type":"uint256"},{"name":"amount1Min","type":"uint256"},{"name":"deadline","type":"uint256"}]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
  {"name":"collect","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenId","type":"uint256"},{"name":"recipient","type":"address"},{"name":"amount0Max","type":"uint128"},{"name":"amount1Max","type":"uint128"}]}],"outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
  {"anonymous":false,"name":"IncreaseLiquidity","type":"event","inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":false,"name":"liquidity","type":"uint128"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"}]},
  {"anonymous":false,"name":"DecreaseLiquidity","type":"event","inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":false,"name":"liquidity","type":"uint128"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"}]},
  {"anonymous":false,"name":"Collect","type":"event","inputs":[{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":false,"name":"recipient","type":"address"},{"indexed":false,"name":"amount0","type":"uint256"},{"indexed":false,"name":"amount1","type":"uint256"}]}
]`

const poolABI = `[
  {"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]}
]`

// Full-range tick bounds for the common 60-spacing fee tiers.
const (
	FullRangeTickLower = -887220
	FullRangeTickUpper = 887220
)

var ErrTokenMismatch = errors.New("mint tokens do not match pool tokens")

type poolMeta struct {
	token0 common.Address
	token1 common.Address
	fee    *big.Int
}

// LiquidityPositions adapts a Uniswap-v3-style nonfungible position manager.
// Mint amounts carry caller identities; everything on the wire is in the
// pool's canonical token0/token1 order and mapped at this boundary.
type LiquidityPositions struct {
	client    *Client
	tokens    *erc20
	nfpm      *bind.BoundContract
	nfpmABI   abi.ABI
	nfpmAddr  common.Address
	tickLower *big.Int
	tickUpper *big.Int
	logger    zerolog.Logger

	poolsMu sync.Mutex
	pools   map[common.Address]poolMeta
}

func NewLiquidityPositions(client *Client, positionManager common.Address) (*LiquidityPositions, error) {
	bound, parsed, err := client.boundContract(positionManager, positionManagerABI)
	if err != nil {
		return nil, err
	}
	return &LiquidityPositions{
		client:    client,
		tokens:    newERC20(client),
		nfpm:      bound,
		nfpmABI:   parsed,
		nfpmAddr:  positionManager,
		tickLower: big.NewInt(FullRangeTickLower),
		tickUpper: big.NewInt(FullRangeTickUpper),
		logger:    logger.GetForComponent("liquidity_positions"),
		pools:     make(map[common.Address]poolMeta),
	}, nil
}

type nfpmMintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            *big.Int
	TickLower      *big.Int
	TickUpper      *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

type nfpmDecreaseParams struct {
	TokenId    *big.Int
	Liquidity  *big.Int
	Amount0Min *big.Int
	Amount1Min *big.Int
	Deadline   *big.Int
}

type nfpmCollectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

type liquidityEvent struct {
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

type collectEvent struct {
	Recipient common.Address
	Amount0   *big.Int
	Amount1   *big.Int
}

// Mint opens a full-range position and returns the certificate with the
// consumed amounts mapped back to the caller's A/B identities.
func (p *LiquidityPositions) Mint(ctx context.Context, params protocol.MintParams) (protocol.MintResult, error) {
	meta, err := p.poolMeta(ctx, params.Pool)
	if err != nil {
		return protocol.MintResult{}, err
	}

	aIsToken0 := params.TokenA == meta.token0 && params.TokenB == meta.token1
	bIsToken0 := params.TokenB == meta.token0 && params.TokenA == meta.token1
	if !aIsToken0 && !bIsToken0 {
		return protocol.MintResult{}, errors.Join(ErrTokenMismatch,
			fmt.Errorf("pool %s holds %s/%s", params.Pool.Hex(), meta.token0.Hex(), meta.token1.Hex()))
	}

	amount0, amount0Min := params.AmountA, params.AmountAMin
	amount1, amount1Min := params.AmountB, params.AmountBMin
	if bIsToken0 {
		amount0, amount0Min = params.AmountB, params.AmountBMin
		amount1, amount1Min = params.AmountA, params.AmountAMin
	}

	if err := p.tokens.ensureApproval(ctx, meta.token0, p.nfpmAddr, amount0.BigInt()); err != nil {
		return protocol.MintResult{}, err
	}
	if err := p.tokens.ensureApproval(ctx, meta.token1, p.nfpmAddr, amount1.BigInt()); err != nil {
		return protocol.MintResult{}, err
	}

	receipt, err := p.client.transact(ctx, p.nfpm, "mint", nfpmMintParams{
		Token0:         meta.token0,
		Token1:         meta.token1,
		Fee:            meta.fee,
		TickLower:      p.tickLower,
		TickUpper:      p.tickUpper,
		Amount0Desired: amount0.BigInt(),
		Amount1Desired: amount1.BigInt(),
		Amount0Min:     amount0Min.BigInt(),
		Amount1Min:     amount1Min.BigInt(),
		Recipient:      params.Recipient,
		Deadline:       deadlineArg(params.Deadline),
	})
	if err != nil {
		return protocol.MintResult{}, err
	}

	var ev liquidityEvent
	tokenID, err := p.unpackPositionEvent(receipt, "IncreaseLiquidity", &ev)
	if err != nil {
		return protocol.MintResult{}, err
	}

	used0, err := utils.BigToSDKInt(ev.Amount0)
	if err != nil {
		return protocol.MintResult{}, err
	}
	used1, err := utils.BigToSDKInt(ev.Amount1)
	if err != nil {
		return protocol.MintResult{}, err
	}

	result := protocol.MintResult{
		Certificate: types.CertificateID(tokenID.Uint64()),
		UsedA:       used0,
		UsedB:       used1,
	}
	if bIsToken0 {
		result.UsedA, result.UsedB = used1, used0
	}

	p.logger.Info().
		Uint64("certificate", uint64(result.Certificate)).
		Str("pool", params.Pool.Hex()).
		Msg("Liquidity position minted")

	return result, nil
}

// DecreaseLiquidity burns liquidity from the position. Returned amounts are
// in the pool's canonical token0/token1 order.
func (p *LiquidityPositions) DecreaseLiquidity(ctx context.Context, id types.CertificateID, liquidity sdkmath.Int, deadline time.Time) (sdkmath.Int, sdkmath.Int, error) {
	receipt, err := p.client.transact(ctx, p.nfpm, "decreaseLiquidity", nfpmDecreaseParams{
		TokenId:    new(big.Int).SetUint64(uint64(id)),
		Liquidity:  liquidity.BigInt(),
		Amount0Min: big.NewInt(0),
		Amount1Min: big.NewInt(0),
		Deadline:   deadlineArg(deadline),
	})
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}

	var ev liquidityEvent
	if _, err := p.unpackPositionEvent(receipt, "DecreaseLiquidity", &ev); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return p.eventAmounts(ev.Amount0, ev.Amount1)
}

// Collect sweeps owed amounts up to the given caps to recipient. Returned
// amounts are in the pool's canonical token0/token1 order.
func (p *LiquidityPositions) Collect(ctx context.Context, id types.CertificateID, recipient common.Address, max0, max1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	receipt, err := p.client.transact(ctx, p.nfpm, "collect", nfpmCollectParams{
		TokenId:    new(big.Int).SetUint64(uint64(id)),
		Recipient:  recipient,
		Amount0Max: max0.BigInt(),
		Amount1Max: max1.BigInt(),
	})
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}

	var ev collectEvent
	if _, err := p.unpackPositionEvent(receipt, "Collect", &ev); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return p.eventAmounts(ev.Amount0, ev.Amount1)
}

// Query reads the position's token identities and remaining liquidity.
func (p *LiquidityPositions) Query(ctx context.Context, id types.CertificateID) (protocol.PositionInfo, error) {
	var out []interface{}
	err := p.nfpm.Call(p.client.callOpts(ctx), &out, "positions", new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return protocol.PositionInfo{}, errors.Join(types.ErrExternalProtocol,
			fmt.Errorf("positions(%d) failed: %w", id, err))
	}

	liquidity, err := utils.BigToSDKInt(out[7].(*big.Int))
	if err != nil {
		return protocol.PositionInfo{}, err
	}
	return protocol.PositionInfo{
		Token0:    out[2].(common.Address),
		Token1:    out[3].(common.Address),
		Liquidity: liquidity,
	}, nil
}

// poolMeta reads and caches a pool's token identities and fee tier. The
// cache is shared across concurrent operations; network reads run unlocked.
func (p *LiquidityPositions) poolMeta(ctx context.Context, pool common.Address) (poolMeta, error) {
	p.poolsMu.Lock()
	meta, ok := p.pools[pool]
	p.poolsMu.Unlock()
	if ok {
		return meta, nil
	}

	contract, _, err := p.client.boundContract(pool, poolABI)
	if err != nil {
		return poolMeta{}, err
	}

	var out []interface{}
	if err := contract.Call(p.client.callOpts(ctx), &out, "token0"); err != nil {
		return poolMeta{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("token0 failed: %w", err))
	}
	meta.token0 = out[0].(common.Address)

	out = out[:0]
	if err := contract.Call(p.client.callOpts(ctx), &out, "token1"); err != nil {
		return poolMeta{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("token1 failed: %w", err))
	}
	meta.token1 = out[0].(common.Address)

	out = out[:0]
	if err := contract.Call(p.client.callOpts(ctx), &out, "fee"); err != nil {
		return poolMeta{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("fee failed: %w", err))
	}
	meta.fee = out[0].(*big.Int)

	p.poolsMu.Lock()
	p.pools[pool] = meta
	p.poolsMu.Unlock()
	return meta, nil
}

// unpackPositionEvent finds the named position-manager event in the receipt
// and returns the indexed tokenId alongside the unpacked body.
func (p *LiquidityPositions) unpackPositionEvent(receipt *ethtypes.Receipt, name string, out interface{}) (*big.Int, error) {
	eventID := p.nfpmABI.Events[name].ID
	for _, log := range receipt.Logs {
		if log.Address != p.nfpmAddr || len(log.Topics) < 2 || log.Topics[0] != eventID {
			continue
		}
		if err := p.nfpm.UnpackLog(out, name, *log); err != nil {
			return nil, errors.Join(types.ErrExternalProtocol,
				fmt.Errorf("failed to decode %s event: %w", name, err))
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()), nil
	}
	return nil, errors.Join(types.ErrExternalProtocol, ErrEventNotFound, errors.New(name))
}

func (p *LiquidityPositions) eventAmounts(raw0, raw1 *big.Int) (sdkmath.Int, sdkmath.Int, error) {
	amount0, err := utils.BigToSDKInt(raw0)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	amount1, err := utils.BigToSDKInt(raw1)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	return amount0, amount1, nil
}

func deadlineArg(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}
