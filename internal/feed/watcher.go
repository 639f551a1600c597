/*

This package watches the AMM pools for swap events and feeds each one into
the reinvestment trigger, once per position active in the traded pool. The
subscription reconnects with backoff, so a flaky websocket degrades into
missed trades rather than a crashed process.

*/

package feed

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/manager"
	"github.com/loopyield/lfm/internal/trigger"
)

// swapTopic is the Uniswap-v3-style pool Swap event signature.
var swapTopic = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))

var ErrNoPools = errors.New("no pools to watch")

const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = time.Minute
)

// LogSubscriber is the slice of the RPC client the watcher needs.
// ethclient.Client satisfies it.
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
}

// Watcher subscribes to swap logs on a set of pools and reports each trade
// to the trigger for every position active in the traded pool.
type Watcher struct {
	eth    LogSubscriber
	pools  []common.Address
	mgr    *manager.Manager
	trig   *trigger.Trigger
	logger zerolog.Logger

	baseDelay time.Duration
	maxDelay  time.Duration
}

func NewWatcher(eth LogSubscriber, pools []common.Address, mgr *manager.Manager, trig *trigger.Trigger) (*Watcher, error) {
	if eth == nil {
		return nil, errors.New("eth client is nil")
	}
	if len(pools) == 0 {
		return nil, ErrNoPools
	}
	if mgr == nil || trig == nil {
		return nil, errors.New("manager and trigger are required")
	}
	return &Watcher{
		eth:       eth,
		pools:     pools,
		mgr:       mgr,
		trig:      trig,
		logger:    logger.GetForComponent("feed_watcher"),
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}, nil
}

// Run blocks consuming swap events until ctx is cancelled. Subscription
// failures are retried with exponential backoff; a successful subscription
// resets the backoff so a drop after healthy streaming reconnects fast.
func (w *Watcher) Run(ctx context.Context) error {
	delay := w.baseDelay
	for {
		err := w.watch(ctx, func() { delay = w.baseDelay })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn().Err(err).Dur("retryIn", delay).Msg("Swap subscription dropped, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
}

// watch holds one subscription until it fails, calling onSubscribed once the
// subscription is established.
func (w *Watcher) watch(ctx context.Context, onSubscribed func()) error {
	query := ethereum.FilterQuery{
		Addresses: w.pools,
		Topics:    [][]common.Hash{{swapTopic}},
	}

	logs := make(chan ethtypes.Log, 64)
	sub, err := w.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	onSubscribed()

	w.logger.Info().Int("pools", len(w.pools)).Msg("Watching pools for swap events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case log := <-logs:
			if log.Removed {
				continue
			}
			w.dispatch(ctx, log.Address)
		}
	}
}

// dispatch reports one observed trade in pool for every active position
// providing liquidity there. Trigger errors are logged and swallowed: one
// failed reinvestment must not stall the feed.
func (w *Watcher) dispatch(ctx context.Context, pool common.Address) {
	positions := w.mgr.PositionsForPool(pool)
	if len(positions) == 0 {
		return
	}

	for _, pos := range positions {
		if err := w.trig.OnTrade(ctx, pool, pos.Certificate); err != nil {
			w.logger.Error().Err(err).
				Str("pool", pool.Hex()).
				Uint64("certificate", uint64(pos.Certificate)).
				Msg("Trade notification failed")
		}
	}
}
