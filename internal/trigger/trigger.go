/*

This package implements the trade-count-gated fee harvest trigger. Every
authorized pool notification increments a per-certificate counter; on every
multiple of the configured threshold the trigger collects the position's
accrued trading fees and forwards them to the position manager's
reinvestment entry point.

The counter is monotone and never reset, so harvesting fires perpetually on
the 10th, 20th, 30th... notification. The trigger holds no funds across
calls; any balance it carries is mid-flight to the manager.

*/

package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/manager"
	"github.com/loopyield/lfm/internal/protocol"
	"github.com/loopyield/lfm/internal/types"
)

// CounterStore persists the monotone per-certificate trade counters.
type CounterStore interface {
	// Increment bumps the counter for the certificate and returns the new
	// value. The first notification for a fresh certificate returns 1.
	Increment(id types.CertificateID) (uint64, error)
}

// PoolStore persists the authorized-pool set so authorization changes
// survive a restart.
type PoolStore interface {
	SetAuthorization(pool common.Address, authorized bool) error
}

// Config holds the dependencies for creating a new Trigger.
type Config struct {
	Positions protocol.LiquidityPositions
	Counters  CounterStore
	Pools     PoolStore

	// Threshold is the trade count between harvests.
	Threshold uint64

	StableAsset     common.Address
	CollateralAsset common.Address
	// WorkingAccount receives collected fees while they are mid-flight to
	// the manager.
	WorkingAccount common.Address

	// AdminToken gates BindManager and SetPoolAuthorized.
	AdminToken string
}

// Trigger is the per-certificate trade counting state machine.
type Trigger struct {
	logger zerolog.Logger

	positions protocol.LiquidityPositions
	counters  CounterStore
	poolStore PoolStore

	threshold       uint64
	stableAsset     common.Address
	collateralAsset common.Address
	workingAccount  common.Address
	adminToken      string

	mu        sync.Mutex
	pools     map[common.Address]bool
	manager   *manager.Manager
	bindToken string
}

// NewTrigger creates a new Trigger instance.
func NewTrigger(cfg Config) (*Trigger, error) {
	if cfg.Positions == nil {
		return nil, errors.New("liquidity positions adapter cannot be nil")
	}
	if cfg.Counters == nil {
		return nil, errors.New("counter store cannot be nil")
	}
	if cfg.Pools == nil {
		return nil, errors.New("pool store cannot be nil")
	}
	if cfg.Threshold == 0 {
		return nil, errors.New("trigger threshold must be positive")
	}
	if cfg.AdminToken == "" {
		return nil, errors.New("admin token cannot be empty")
	}
	if cfg.StableAsset == cfg.CollateralAsset {
		return nil, errors.New("stable and collateral assets must differ")
	}

	t := &Trigger{
		logger:          logger.GetForComponent("trade_trigger"),
		positions:       cfg.Positions,
		counters:        cfg.Counters,
		poolStore:       cfg.Pools,
		threshold:       cfg.Threshold,
		stableAsset:     cfg.StableAsset,
		collateralAsset: cfg.CollateralAsset,
		workingAccount:  cfg.WorkingAccount,
		adminToken:      cfg.AdminToken,
		pools:           make(map[common.Address]bool),
	}

	t.logger.Info().Uint64("threshold", cfg.Threshold).Msg("Trade trigger created")
	return t, nil
}

// BindManager points the trigger at its position manager. The two components
// are constructed separately and bound once both exist; rebinding is an
// administrative operation gated by the admin token.
func (t *Trigger) BindManager(adminToken string, m *manager.Manager, bindToken string) error {
	if adminToken != t.adminToken {
		return fmt.Errorf("%w: bind requires the admin capability", types.ErrUnauthorized)
	}
	if m == nil {
		return errors.New("manager cannot be nil")
	}
	if bindToken == "" {
		return errors.New("bind token cannot be empty")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.manager = m
	t.bindToken = bindToken
	t.logger.Info().Msg("Position manager bound to trade trigger")
	return nil
}

// SetPoolAuthorized toggles a pool's permission to deliver trade
// notifications. Administrative, not part of the per-user data path. The
// change is persisted before it takes effect so it survives a restart.
func (t *Trigger) SetPoolAuthorized(adminToken string, pool common.Address, authorized bool) error {
	if adminToken != t.adminToken {
		return fmt.Errorf("%w: pool authorization requires the admin capability", types.ErrUnauthorized)
	}

	if err := t.poolStore.SetAuthorization(pool, authorized); err != nil {
		return fmt.Errorf("pool authorization persistence failed: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if authorized {
		t.pools[pool] = true
	} else {
		delete(t.pools, pool)
	}
	t.logger.Info().Str("pool", pool.Hex()).Bool("authorized", authorized).Msg("Pool authorization updated")
	return nil
}

// AuthorizedPools returns the current authorized-pool set.
func (t *Trigger) AuthorizedPools() []common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.Address, 0, len(t.pools))
	for pool := range t.pools {
		out = append(out, pool)
	}
	return out
}

// OnTrade handles one trade notification for a certificate. Unauthorized
// pools are rejected before the counter moves. On every threshold multiple
// the accrued fees are collected and forwarded to the manager.
func (t *Trigger) OnTrade(ctx context.Context, pool common.Address, id types.CertificateID) error {
	t.mu.Lock()
	authorized := t.pools[pool]
	mgr := t.manager
	bindToken := t.bindToken
	t.mu.Unlock()

	if !authorized {
		return fmt.Errorf("%w: %s", types.ErrUnauthorizedPool, pool.Hex())
	}

	count, err := t.counters.Increment(id)
	if err != nil {
		return fmt.Errorf("trade counter increment failed: %w", err)
	}

	if count%t.threshold != 0 {
		t.logger.Debug().
			Uint64("certificate", uint64(id)).
			Uint64("count", count).
			Msg("Trade counted, below harvest threshold")
		return nil
	}

	if mgr == nil {
		return fmt.Errorf("%w: no position manager bound", types.ErrUnauthorized)
	}

	// A certificate outside the manager's index belongs to nobody we manage;
	// collecting its fees blindly would strand them.
	owner, ok := mgr.OwnerOf(id)
	if !ok {
		return fmt.Errorf("%w: certificate %d", types.ErrUnknownCertificate, id)
	}

	info, err := t.positions.Query(ctx, id)
	if err != nil {
		return errors.Join(types.ErrExternalProtocol, fmt.Errorf("position query failed: %w", err))
	}

	maxCollect := protocol.MaxCollect()
	amount0, amount1, err := t.positions.Collect(ctx, id, t.workingAccount, maxCollect, maxCollect)
	if err != nil {
		return errors.Join(types.ErrExternalProtocol, fmt.Errorf("fee collection failed: %w", err))
	}

	// Which collected amount is the stable asset depends on the pool's
	// canonical token order; resolve by identity, never by index.
	var stableAmount, collateralAmount = amount0, amount1
	switch {
	case info.Token0 == t.stableAsset && info.Token1 == t.collateralAsset:
		// already in place
	case info.Token0 == t.collateralAsset && info.Token1 == t.stableAsset:
		stableAmount, collateralAmount = amount1, amount0
	default:
		return fmt.Errorf("%w: certificate pair %s/%s does not match strategy assets",
			types.ErrExternalProtocol, info.Token0.Hex(), info.Token1.Hex())
	}

	t.logger.Info().
		Uint64("certificate", uint64(id)).
		Uint64("count", count).
		Str("stableCollected", stableAmount.String()).
		Str("collateralCollected", collateralAmount.String()).
		Msg("Harvest threshold reached, forwarding fees")

	if _, err := mgr.Reinvest(ctx, bindToken, owner, stableAmount, collateralAmount); err != nil {
		return fmt.Errorf("fee reinvestment failed: %w", err)
	}

	return nil
}
