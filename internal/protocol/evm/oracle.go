package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	sdkmath "cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/types"
)

const priceFeedABI = `[
  {"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"roundId","type":"uint80"},{"name":"answer","type":"int256"},{"name":"startedAt","type":"uint256"},{"name":"updatedAt","type":"uint256"},{"name":"answeredInRound","type":"uint80"}]},
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	ErrUnsupportedPair  = errors.New("oracle does not serve this pair")
	ErrNonPositivePrice = errors.New("oracle returned a non-positive price")
)

// PriceOracle adapts a Chainlink-style aggregator that quotes one configured
// base asset in one configured quote asset. The reported price is per raw
// base unit in raw quote units, so token decimals are folded in here.
type PriceOracle struct {
	client *Client
	feed   *bind.BoundContract

	base          common.Address
	quote         common.Address
	baseDecimals  int
	quoteDecimals int

	// feedDecimals is read lazily from the aggregator on first use and
	// cached under the mutex; concurrent operations share one oracle.
	mu           sync.Mutex
	feedDecimals *big.Int
}

func NewPriceOracle(client *Client, feed, base, quote common.Address, baseDecimals, quoteDecimals int) (*PriceOracle, error) {
	bound, _, err := client.boundContract(feed, priceFeedABI)
	if err != nil {
		return nil, err
	}
	return &PriceOracle{
		client:        client,
		feed:          bound,
		base:          base,
		quote:         quote,
		baseDecimals:  baseDecimals,
		quoteDecimals: quoteDecimals,
	}, nil
}

// LatestPrice returns the most recent price of base in quote together with
// its on-chain update time. Asking for the inverse pair returns the
// reciprocal of the same round.
func (o *PriceOracle) LatestPrice(ctx context.Context, base, quote common.Address) (sdkmath.LegacyDec, time.Time, error) {
	direct := base == o.base && quote == o.quote
	inverse := base == o.quote && quote == o.base
	if !direct && !inverse {
		return sdkmath.LegacyZeroDec(), time.Time{}, errors.Join(ErrUnsupportedPair,
			fmt.Errorf("requested %s/%s", base.Hex(), quote.Hex()))
	}

	o.mu.Lock()
	feedDecimals := o.feedDecimals
	o.mu.Unlock()
	if feedDecimals == nil {
		var out []interface{}
		if err := o.feed.Call(o.client.callOpts(ctx), &out, "decimals"); err != nil {
			return sdkmath.LegacyZeroDec(), time.Time{}, errors.Join(types.ErrExternalProtocol,
				fmt.Errorf("feed decimals failed: %w", err))
		}
		feedDecimals = new(big.Int).SetUint64(uint64(out[0].(uint8)))
		o.mu.Lock()
		o.feedDecimals = feedDecimals
		o.mu.Unlock()
	}

	var out []interface{}
	if err := o.feed.Call(o.client.callOpts(ctx), &out, "latestRoundData"); err != nil {
		return sdkmath.LegacyZeroDec(), time.Time{}, errors.Join(types.ErrExternalProtocol,
			fmt.Errorf("latestRoundData failed: %w", err))
	}

	answer := out[1].(*big.Int)
	updatedAt := time.Unix(out[3].(*big.Int).Int64(), 0)

	if answer.Sign() <= 0 {
		return sdkmath.LegacyZeroDec(), updatedAt, errors.Join(types.ErrExternalProtocol, ErrNonPositivePrice)
	}

	// answer is base-per-quote in feed decimals for whole tokens; rescale to
	// raw-unit terms: price = answer / 10^feedDec * 10^(quoteDec - baseDec).
	price := sdkmath.LegacyNewDecFromBigInt(answer).Quo(pow10(int(feedDecimals.Int64())))
	price = price.Mul(pow10(o.quoteDecimals)).Quo(pow10(o.baseDecimals))

	if inverse {
		price = sdkmath.LegacyOneDec().Quo(price)
	}
	return price, updatedAt, nil
}

func pow10(n int) sdkmath.LegacyDec {
	result := sdkmath.LegacyOneDec()
	ten := sdkmath.LegacyNewDec(10)
	for i := 0; i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}
