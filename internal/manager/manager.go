/*

This package owns the position lifecycle state machine: strategy initiation,
fee reinvestment and strategy unwind, plus the owner -> position and
certificate -> owner bookkeeping every other component resolves through.

All external effects go through the protocol interfaces. Internal state is
mutated only after every external call of an operation has succeeded, and
every entry point holds a per-owner in-flight guard for its whole duration,
so no adapter callback can re-enter the manager mid-operation.

*/

package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/protocol"
	"github.com/loopyield/lfm/internal/types"
)

const bpsDenominator = 10000

// Recorder persists lifecycle transitions and receipts. Persistence failures
// are logged and never abort an operation whose external effects already
// committed; the in-memory maps stay authoritative.
type Recorder interface {
	SavePosition(p types.Position) error
	DeletePosition(owner common.Address) error
	SaveHarvest(r types.HarvestReceipt) (int64, error)
	SaveUnwind(r types.UnwindReceipt) (int64, error)
}

// Config holds the dependencies for creating a new Manager.
type Config struct {
	Lending   protocol.LendingMarket
	Positions protocol.LiquidityPositions
	Swap      protocol.SwapRouter
	Oracle    protocol.PriceOracle
	Custody   protocol.Custody
	Recorder  Recorder

	Params types.StrategyParameters

	// Pool is the AMM pool the strategy provides liquidity to.
	Pool common.Address
	// StableAsset is the borrowed side; CollateralAsset the supplied side.
	StableAsset     common.Address
	CollateralAsset common.Address
	// WorkingAccount holds funds transiently mid-operation (collect and
	// withdraw recipients).
	WorkingAccount common.Address
	// FeeCollector receives the protocol-fee skim.
	FeeCollector common.Address
}

// Manager is the position lifecycle state machine.
type Manager struct {
	logger zerolog.Logger

	lending   protocol.LendingMarket
	positions protocol.LiquidityPositions
	swap      protocol.SwapRouter
	oracle    protocol.PriceOracle
	custody   protocol.Custody
	recorder  Recorder

	params          types.StrategyParameters
	pool            common.Address
	stableAsset     common.Address
	collateralAsset common.Address
	workingAccount  common.Address
	feeCollector    common.Address

	mu        sync.Mutex
	active    map[common.Address]types.Position
	certOwner map[types.CertificateID]common.Address
	inflight  map[common.Address]bool

	bindToken string
	bound     bool
}

// NewManager creates a new Manager instance with dependency injection.
func NewManager(cfg Config) (*Manager, error) {
	if err := validateManagerConfig(cfg); err != nil {
		return nil, fmt.Errorf("manager configuration validation failed: %w", err)
	}

	m := &Manager{
		logger:          logger.GetForComponent("position_manager"),
		lending:         cfg.Lending,
		positions:       cfg.Positions,
		swap:            cfg.Swap,
		oracle:          cfg.Oracle,
		custody:         cfg.Custody,
		recorder:        cfg.Recorder,
		params:          cfg.Params,
		pool:            cfg.Pool,
		stableAsset:     cfg.StableAsset,
		collateralAsset: cfg.CollateralAsset,
		workingAccount:  cfg.WorkingAccount,
		feeCollector:    cfg.FeeCollector,
		active:          make(map[common.Address]types.Position),
		certOwner:       make(map[types.CertificateID]common.Address),
		inflight:        make(map[common.Address]bool),
	}

	m.logger.Info().
		Str("pool", cfg.Pool.Hex()).
		Str("stable", cfg.StableAsset.Hex()).
		Str("collateral", cfg.CollateralAsset.Hex()).
		Msg("Position manager created")

	return m, nil
}

// validateManagerConfig validates the manager dependencies.
func validateManagerConfig(cfg Config) error {
	if cfg.Lending == nil {
		return errors.New("lending market cannot be nil")
	}
	if cfg.Positions == nil {
		return errors.New("liquidity positions adapter cannot be nil")
	}
	if cfg.Swap == nil {
		return errors.New("swap router cannot be nil")
	}
	if cfg.Oracle == nil {
		return errors.New("price oracle cannot be nil")
	}
	if cfg.Custody == nil {
		return errors.New("custody adapter cannot be nil")
	}
	if cfg.Recorder == nil {
		return errors.New("recorder cannot be nil")
	}
	if cfg.StableAsset == cfg.CollateralAsset {
		return errors.New("stable and collateral assets must differ")
	}
	if cfg.Params.TradeTriggerThreshold == 0 {
		return errors.New("trade trigger threshold must be positive")
	}
	if cfg.Params.MaxLTVBps == 0 || cfg.Params.MaxLTVBps >= bpsDenominator {
		return errors.New("max LTV must be between 1 and 9999 basis points")
	}
	if cfg.Params.DustAmount.IsNil() || cfg.Params.DustAmount.IsNegative() {
		return errors.New("dust amount must be non-negative")
	}
	return nil
}

// BindTrigger issues the opaque capability token the trade trigger must
// present to Reinvest. It can be called exactly once; the two components
// are constructed separately and bound afterwards.
func (m *Manager) BindTrigger() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bound {
		return "", fmt.Errorf("%w: trigger already bound", types.ErrUnauthorized)
	}
	m.bindToken = uuid.New().String()
	m.bound = true
	m.logger.Info().Msg("Trade trigger bound to position manager")
	return m.bindToken, nil
}

// Restore rehydrates the position maps from persisted state at startup.
// It must be called before the manager starts serving operations.
func (m *Manager) Restore(positions []types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		m.active[p.Owner] = p
		m.certOwner[p.Certificate] = p.Owner
	}
	m.logger.Info().Int("positions", len(positions)).Msg("Restored active positions")
}

// begin acquires the per-owner in-flight guard.
func (m *Manager) begin(owner common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[owner] {
		return types.ErrOperationInFlight
	}
	m.inflight[owner] = true
	return nil
}

// end releases the per-owner in-flight guard.
func (m *Manager) end(owner common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, owner)
}

// Position returns the active position for owner, if any.
func (m *Manager) Position(owner common.Address) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.active[owner]
	return p, ok
}

// OwnerOf resolves a certificate through the reverse index.
func (m *Manager) OwnerOf(id types.CertificateID) (common.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.certOwner[id]
	return owner, ok
}

// ActivePositions returns a copy of all active positions.
func (m *Manager) ActivePositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.active))
	for _, p := range m.active {
		out = append(out, p)
	}
	return out
}

// PositionsForPool returns the active positions minted on the given pool.
func (m *Manager) PositionsForPool(pool common.Address) []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, p := range m.active {
		if p.Pool == pool {
			out = append(out, p)
		}
	}
	return out
}

// Initiate opens a leveraged liquidity position for owner: pull collateral,
// supply it, borrow stable against it sized by the oracle price, swap half
// of the borrow back to collateral and mint the liquidity position.
func (m *Manager) Initiate(ctx context.Context, owner common.Address, collateralAmount sdkmath.Int, ltvBps, slippageBps uint32) (types.Position, error) {
	opLogger := m.opLogger("initiate", owner)

	if err := m.begin(owner); err != nil {
		return types.Position{}, err
	}
	defer m.end(owner)

	// Everything that can fail cheaply fails before the first fund movement.
	if _, exists := m.Position(owner); exists {
		return types.Position{}, types.ErrPositionExists
	}
	if collateralAmount.IsNil() || !collateralAmount.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: collateral amount must be positive", types.ErrInvalidParameter)
	}
	if ltvBps == 0 || ltvBps > m.params.MaxLTVBps {
		return types.Position{}, fmt.Errorf("%w: ltv %d bps exceeds ceiling %d", types.ErrInvalidParameter, ltvBps, m.params.MaxLTVBps)
	}
	if slippageBps > m.params.MaxSlippageBps {
		return types.Position{}, fmt.Errorf("%w: slippage %d bps exceeds ceiling %d", types.ErrInvalidParameter, slippageBps, m.params.MaxSlippageBps)
	}

	// Borrow sizing is price-aware: collateral face amount is converted to
	// stable units before applying the requested ratio, because lending
	// market health factors are computed in value terms.
	price, updatedAt, err := m.oracle.LatestPrice(ctx, m.collateralAsset, m.stableAsset)
	if err != nil {
		return types.Position{}, errors.Join(types.ErrExternalProtocol, err)
	}
	if time.Since(updatedAt) > m.params.MaxOracleStaleness {
		return types.Position{}, fmt.Errorf("%w: price observed at %s", types.ErrStalePrice, updatedAt)
	}
	if !price.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: non-positive oracle price", types.ErrExternalProtocol)
	}

	borrowAmount := sdkmath.LegacyNewDecFromInt(collateralAmount).
		Mul(price).
		MulInt64(int64(ltvBps)).
		QuoInt64(bpsDenominator).
		TruncateInt()
	if !borrowAmount.IsPositive() {
		return types.Position{}, fmt.Errorf("%w: computed borrow amount is zero", types.ErrInvalidParameter)
	}

	opLogger.Info().
		Str("collateral", collateralAmount.String()).
		Str("borrow", borrowAmount.String()).
		Str("price", price.String()).
		Uint32("ltvBps", ltvBps).
		Msg("Initiating position")

	if err := m.custody.PullAsset(ctx, owner, m.collateralAsset, collateralAmount); err != nil {
		return types.Position{}, fmt.Errorf("collateral pull failed: %w", err)
	}

	if err := m.lending.Supply(ctx, m.collateralAsset, collateralAmount, owner); err != nil {
		return types.Position{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("collateral supply failed: %w", err))
	}

	if err := m.lending.Borrow(ctx, m.stableAsset, borrowAmount, protocol.RateVariable, owner); err != nil {
		return types.Position{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("stable borrow failed: %w", err))
	}

	// Half the borrow stays stable for the liquidity position, the other
	// half is swapped back into the collateral asset.
	stableHalf := borrowAmount.QuoRaw(2)
	swapIn := borrowAmount.Sub(stableHalf)

	expectedOut := sdkmath.LegacyNewDecFromInt(swapIn).Quo(price).TruncateInt()
	minOut := applySlippage(expectedOut, slippageBps)
	deadline := time.Now().Add(m.params.SwapDeadline)

	swappedCollateral, err := m.swap.SwapExactInput(ctx, m.stableAsset, m.collateralAsset, swapIn, minOut, deadline)
	if err != nil {
		return types.Position{}, fmt.Errorf("entry swap failed: %w", err)
	}

	mintRes, err := m.positions.Mint(ctx, protocol.MintParams{
		Pool:       m.pool,
		TokenA:     m.stableAsset,
		AmountA:    stableHalf,
		AmountAMin: applySlippage(stableHalf, slippageBps),
		TokenB:     m.collateralAsset,
		AmountB:    swappedCollateral,
		AmountBMin: applySlippage(swappedCollateral, slippageBps),
		Recipient:  owner,
		Deadline:   deadline,
	})
	if err != nil {
		return types.Position{}, fmt.Errorf("liquidity mint failed: %w", err)
	}

	position := types.Position{
		Owner:           owner,
		Certificate:     mintRes.Certificate,
		Pool:            m.pool,
		CollateralAsset: m.collateralAsset,
		StableAsset:     m.stableAsset,
		OpenedAt:        time.Now(),
	}

	m.mu.Lock()
	m.active[owner] = position
	m.certOwner[position.Certificate] = owner
	m.mu.Unlock()

	if err := m.recorder.SavePosition(position); err != nil {
		opLogger.Error().Err(err).Msg("Failed to persist position record")
	}

	// Mint leftovers above the dust threshold go straight back to custody.
	m.returnDust(ctx, opLogger, owner, m.stableAsset, stableHalf.Sub(mintRes.UsedA))
	m.returnDust(ctx, opLogger, owner, m.collateralAsset, swappedCollateral.Sub(mintRes.UsedB))

	opLogger.Info().
		Uint64("certificate", uint64(position.Certificate)).
		Str("stableUsed", mintRes.UsedA.String()).
		Str("collateralUsed", mintRes.UsedB.String()).
		Msg("Position initiated")

	return position, nil
}

// Reinvest repays debt and tops up collateral from collected trading fees.
// Only the bound trade trigger holds the bindToken; the owner's position is
// re-validated here rather than trusting the caller's resolution.
func (m *Manager) Reinvest(ctx context.Context, bindToken string, owner common.Address, stableAmount, collateralAmount sdkmath.Int) (types.HarvestReceipt, error) {
	opLogger := m.opLogger("reinvest", owner)

	m.mu.Lock()
	authorized := m.bound && bindToken == m.bindToken
	m.mu.Unlock()
	if !authorized {
		return types.HarvestReceipt{}, fmt.Errorf("%w: reinvest requires the trade trigger capability", types.ErrUnauthorized)
	}

	if err := m.begin(owner); err != nil {
		return types.HarvestReceipt{}, err
	}
	defer m.end(owner)

	position, exists := m.Position(owner)
	if !exists {
		return types.HarvestReceipt{}, types.ErrNoPosition
	}
	if stableAmount.IsNil() || collateralAmount.IsNil() || stableAmount.IsNegative() || collateralAmount.IsNegative() {
		return types.HarvestReceipt{}, fmt.Errorf("%w: harvest amounts must be non-negative", types.ErrInvalidParameter)
	}

	receipt := types.HarvestReceipt{
		Owner:              owner,
		Certificate:        position.Certificate,
		StableIn:           stableAmount,
		CollateralIn:       collateralAmount,
		StableSkimmed:      sdkmath.ZeroInt(),
		CollateralSkimmed:  sdkmath.ZeroInt(),
		DebtRepaid:         sdkmath.ZeroInt(),
		StableReturned:     sdkmath.ZeroInt(),
		CollateralSupplied: sdkmath.ZeroInt(),
		Timestamp:          time.Now(),
	}

	netStable, netCollateral := stableAmount, collateralAmount
	if m.params.ProtocolFeeBps > 0 {
		skimStable := stableAmount.MulRaw(int64(m.params.ProtocolFeeBps)).QuoRaw(bpsDenominator)
		skimCollateral := collateralAmount.MulRaw(int64(m.params.ProtocolFeeBps)).QuoRaw(bpsDenominator)
		if skimStable.IsPositive() {
			if err := m.custody.PushAsset(ctx, m.feeCollector, m.stableAsset, skimStable); err != nil {
				return types.HarvestReceipt{}, fmt.Errorf("stable fee skim failed: %w", err)
			}
			netStable = netStable.Sub(skimStable)
			receipt.StableSkimmed = skimStable
		}
		if skimCollateral.IsPositive() {
			if err := m.custody.PushAsset(ctx, m.feeCollector, m.collateralAsset, skimCollateral); err != nil {
				return types.HarvestReceipt{}, fmt.Errorf("collateral fee skim failed: %w", err)
			}
			netCollateral = netCollateral.Sub(skimCollateral)
			receipt.CollateralSkimmed = skimCollateral
		}
	}

	debt, err := m.lending.Debt(ctx, owner, m.stableAsset, protocol.RateVariable)
	if err != nil {
		return types.HarvestReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("debt query failed: %w", err))
	}

	if debt.IsZero() {
		// Nothing to repay; the whole stable harvest goes home.
		if returned := m.returnDust(ctx, opLogger, owner, m.stableAsset, netStable); returned {
			receipt.StableReturned = netStable
		}
	} else if netStable.IsPositive() {
		// Never repay more than exists: lending markets may reject or
		// misbehave on over-repayment.
		repaid, err := m.lending.Repay(ctx, m.stableAsset, sdkmath.MinInt(netStable, debt), protocol.RateVariable, owner)
		if err != nil {
			return types.HarvestReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("debt repayment failed: %w", err))
		}
		receipt.DebtRepaid = repaid
		if remainder := netStable.Sub(repaid); remainder.IsPositive() {
			if returned := m.returnDust(ctx, opLogger, owner, m.stableAsset, remainder); returned {
				receipt.StableReturned = remainder
			}
		}
	}

	if netCollateral.IsPositive() {
		if err := m.lending.Supply(ctx, m.collateralAsset, netCollateral, owner); err != nil {
			return types.HarvestReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("collateral top-up failed: %w", err))
		}
		receipt.CollateralSupplied = netCollateral
	}

	if _, err := m.recorder.SaveHarvest(receipt); err != nil {
		opLogger.Error().Err(err).Msg("Failed to persist harvest receipt")
	}

	opLogger.Info().
		Str("debtRepaid", receipt.DebtRepaid.String()).
		Str("collateralSupplied", receipt.CollateralSupplied.String()).
		Str("stableReturned", receipt.StableReturned.String()).
		Msg("Harvest reinvested")

	return receipt, nil
}

// Unwind exits the whole strategy: drain the liquidity position, collect
// residual fees, clear as much debt as the proceeds allow, withdraw the
// lending-market collateral and return everything to the custody account.
func (m *Manager) Unwind(ctx context.Context, owner common.Address, swapCollateralForRemainingDebt bool) (types.UnwindReceipt, error) {
	opLogger := m.opLogger("unwind", owner)

	if err := m.begin(owner); err != nil {
		return types.UnwindReceipt{}, err
	}
	defer m.end(owner)

	position, exists := m.Position(owner)
	if !exists {
		return types.UnwindReceipt{}, types.ErrNoPosition
	}

	if err := m.custody.PullCertificate(ctx, owner, position.Certificate); err != nil {
		return types.UnwindReceipt{}, fmt.Errorf("certificate pull failed: %w", err)
	}

	info, err := m.positions.Query(ctx, position.Certificate)
	if err != nil {
		return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("position query failed: %w", err))
	}

	deadline := time.Now().Add(m.params.SwapDeadline)

	var dec0, dec1 sdkmath.Int
	if info.Liquidity.IsPositive() {
		dec0, dec1, err = m.positions.DecreaseLiquidity(ctx, position.Certificate, info.Liquidity, deadline)
		if err != nil {
			return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("liquidity decrease failed: %w", err))
		}
	} else {
		dec0, dec1 = sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}

	maxCollect := protocol.MaxCollect()
	col0, col1, err := m.positions.Collect(ctx, position.Certificate, m.workingAccount, maxCollect, maxCollect)
	if err != nil {
		return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("fee collection failed: %w", err))
	}

	// Aggregate the decrease and collect results by resolved token identity,
	// never by call order: the pool's token0 may be either asset.
	collectedStable, collectedCollateral, err := splitByIdentity(info, m.stableAsset, m.collateralAsset, dec0.Add(col0), dec1.Add(col1))
	if err != nil {
		return types.UnwindReceipt{}, err
	}

	// The certificate goes home empty but unburned.
	if err := m.custody.PushCertificate(ctx, owner, position.Certificate); err != nil {
		return types.UnwindReceipt{}, fmt.Errorf("certificate return failed: %w", err)
	}

	receipt := types.UnwindReceipt{
		Owner:               owner,
		Certificate:         position.Certificate,
		StableCollected:     collectedStable,
		CollateralCollected: collectedCollateral,
		DebtRepaid:          sdkmath.ZeroInt(),
		DebtOutstanding:     sdkmath.ZeroInt(),
		CollateralSwapped:   sdkmath.ZeroInt(),
		StableReturned:      sdkmath.ZeroInt(),
		CollateralReturned:  sdkmath.ZeroInt(),
		Timestamp:           time.Now(),
	}

	debt, err := m.lending.Debt(ctx, owner, m.stableAsset, protocol.RateVariable)
	if err != nil {
		return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("debt query failed: %w", err))
	}

	collateralOnHand := collectedCollateral

	if collectedStable.GTE(debt) {
		if debt.IsPositive() {
			repaid, err := m.lending.Repay(ctx, m.stableAsset, debt, protocol.RateVariable, owner)
			if err != nil {
				return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("debt repayment failed: %w", err))
			}
			receipt.DebtRepaid = repaid
		}
		if excess := collectedStable.Sub(receipt.DebtRepaid); excess.IsPositive() {
			if returned := m.returnDust(ctx, opLogger, owner, m.stableAsset, excess); returned {
				receipt.StableReturned = excess
			}
		}
	} else {
		if collectedStable.IsPositive() {
			repaid, err := m.lending.Repay(ctx, m.stableAsset, collectedStable, protocol.RateVariable, owner)
			if err != nil {
				return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("partial debt repayment failed: %w", err))
			}
			receipt.DebtRepaid = repaid
		}
		remaining := debt.Sub(receipt.DebtRepaid)

		if swapCollateralForRemainingDebt && remaining.IsPositive() && collateralOnHand.IsPositive() {
			// Swap a share of the collected collateral proportional to the
			// debt gap. No minimum-output bound here: the goal is debt
			// reduction, not price protection, an explicit accepted risk.
			swapAmount := collateralOnHand.Mul(remaining).Quo(collectedStable.Add(remaining))
			if swapAmount.IsPositive() {
				proceeds, err := m.swap.SwapExactInput(ctx, m.collateralAsset, m.stableAsset, swapAmount, sdkmath.ZeroInt(), deadline)
				if err != nil {
					return types.UnwindReceipt{}, fmt.Errorf("debt cover swap failed: %w", err)
				}
				receipt.CollateralSwapped = swapAmount
				collateralOnHand = collateralOnHand.Sub(swapAmount)

				repayAmount := sdkmath.MinInt(proceeds, remaining)
				if repayAmount.IsPositive() {
					repaid, err := m.lending.Repay(ctx, m.stableAsset, repayAmount, protocol.RateVariable, owner)
					if err != nil {
						return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("swap proceeds repayment failed: %w", err))
					}
					receipt.DebtRepaid = receipt.DebtRepaid.Add(repaid)
					remaining = remaining.Sub(repaid)
				}
				if surplus := proceeds.Sub(repayAmount); surplus.IsPositive() {
					if returned := m.returnDust(ctx, opLogger, owner, m.stableAsset, surplus); returned {
						receipt.StableReturned = receipt.StableReturned.Add(surplus)
					}
				}
			}
		}
		receipt.DebtOutstanding = remaining
	}

	// Pull the remaining lending-market collateral into the working balance
	// and hand every collateral unit back to the custody account.
	suppliedCollateral, err := m.lending.Collateral(ctx, owner, m.collateralAsset)
	if err != nil {
		return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("collateral query failed: %w", err))
	}
	if suppliedCollateral.IsPositive() {
		withdrawn, err := m.lending.Withdraw(ctx, m.collateralAsset, suppliedCollateral, m.workingAccount)
		if err != nil {
			return types.UnwindReceipt{}, errors.Join(types.ErrExternalProtocol, fmt.Errorf("collateral withdrawal failed: %w", err))
		}
		collateralOnHand = collateralOnHand.Add(withdrawn)
	}

	if returned := m.returnDust(ctx, opLogger, owner, m.collateralAsset, collateralOnHand); returned {
		receipt.CollateralReturned = collateralOnHand
	}

	m.mu.Lock()
	delete(m.active, owner)
	delete(m.certOwner, position.Certificate)
	m.mu.Unlock()

	if err := m.recorder.DeletePosition(owner); err != nil {
		opLogger.Error().Err(err).Msg("Failed to delete persisted position record")
	}
	if _, err := m.recorder.SaveUnwind(receipt); err != nil {
		opLogger.Error().Err(err).Msg("Failed to persist unwind receipt")
	}

	opLogger.Info().
		Uint64("certificate", uint64(position.Certificate)).
		Str("debtRepaid", receipt.DebtRepaid.String()).
		Str("debtOutstanding", receipt.DebtOutstanding.String()).
		Str("collateralReturned", receipt.CollateralReturned.String()).
		Msg("Position unwound")

	return receipt, nil
}

// returnDust pushes amount back to the recipient when it clears the dust
// threshold; below it the transfer is skipped entirely. Reports whether a
// transfer happened. A failed return aborts nothing: it is logged and the
// funds stay in the working balance for manual sweeping.
func (m *Manager) returnDust(ctx context.Context, opLogger zerolog.Logger, recipient common.Address, asset common.Address, amount sdkmath.Int) bool {
	if amount.IsNil() || !amount.GT(m.params.DustAmount) {
		return false
	}
	if err := m.custody.PushAsset(ctx, recipient, asset, amount); err != nil {
		opLogger.Error().
			Err(err).
			Str("asset", asset.Hex()).
			Str("amount", amount.String()).
			Msg("Failed to return balance to custody account")
		return false
	}
	return true
}

// splitByIdentity maps pool-ordered amounts onto (stable, collateral) by
// comparing token identities, and rejects pools whose token pair is not the
// configured strategy pair.
func splitByIdentity(info protocol.PositionInfo, stable, collateral common.Address, amount0, amount1 sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	switch {
	case info.Token0 == stable && info.Token1 == collateral:
		return amount0, amount1, nil
	case info.Token0 == collateral && info.Token1 == stable:
		return amount1, amount0, nil
	default:
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: certificate pair %s/%s does not match strategy assets",
			types.ErrExternalProtocol, info.Token0.Hex(), info.Token1.Hex())
	}
}

// applySlippage scales amount down by the tolerance in basis points.
func applySlippage(amount sdkmath.Int, slippageBps uint32) sdkmath.Int {
	return amount.MulRaw(int64(bpsDenominator - slippageBps)).QuoRaw(bpsDenominator)
}

// opLogger tags a logger with a fresh operation ID for tracing one lifecycle
// operation across all of its external calls.
func (m *Manager) opLogger(op string, owner common.Address) zerolog.Logger {
	return m.logger.With().
		Str("op_id", uuid.New().String()).
		Str("op", op).
		Str("owner", owner.Hex()).
		Logger()
}
