package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopyield/lfm/internal/manager"
	"github.com/loopyield/lfm/internal/protocol"
	"github.com/loopyield/lfm/internal/types"
)

var (
	stableAsset     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	collateralAsset = common.HexToAddress("0x0000000000000000000000000000000000000002")
	strategyPool    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	ownerAddr       = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	workingAccount  = common.HexToAddress("0x0000000000000000000000000000000000000057")
	feeCollector    = common.HexToAddress("0x00000000000000000000000000000000000000FE")
)

type transfer struct {
	counterparty common.Address
	asset        common.Address
	amount       sdkmath.Int
}

type fakeLending struct {
	debt     sdkmath.Int
	supplied sdkmath.Int

	supplies []sdkmath.Int
	borrows  []sdkmath.Int
	repays   []sdkmath.Int
}

func newFakeLending() *fakeLending {
	return &fakeLending{debt: sdkmath.ZeroInt(), supplied: sdkmath.ZeroInt()}
}

func (f *fakeLending) Supply(_ context.Context, _ common.Address, amount sdkmath.Int, _ common.Address) error {
	f.supplied = f.supplied.Add(amount)
	f.supplies = append(f.supplies, amount)
	return nil
}

func (f *fakeLending) Borrow(_ context.Context, _ common.Address, amount sdkmath.Int, _ protocol.RateMode, _ common.Address) error {
	f.debt = f.debt.Add(amount)
	f.borrows = append(f.borrows, amount)
	return nil
}

func (f *fakeLending) Repay(_ context.Context, _ common.Address, amount sdkmath.Int, _ protocol.RateMode, _ common.Address) (sdkmath.Int, error) {
	paid := sdkmath.MinInt(amount, f.debt)
	f.debt = f.debt.Sub(paid)
	f.repays = append(f.repays, paid)
	return paid, nil
}

func (f *fakeLending) Withdraw(_ context.Context, _ common.Address, amount sdkmath.Int, _ common.Address) (sdkmath.Int, error) {
	out := sdkmath.MinInt(amount, f.supplied)
	f.supplied = f.supplied.Sub(out)
	return out, nil
}

func (f *fakeLending) Debt(_ context.Context, _ common.Address, _ common.Address, _ protocol.RateMode) (sdkmath.Int, error) {
	return f.debt, nil
}

func (f *fakeLending) Collateral(_ context.Context, _ common.Address, _ common.Address) (sdkmath.Int, error) {
	return f.supplied, nil
}

type swapCall struct {
	tokenIn  common.Address
	tokenOut common.Address
	amountIn sdkmath.Int
	minOut   sdkmath.Int
}

type fakeSwap struct {
	// quotes multiplies the input amount per input token to produce output.
	quotes map[common.Address]sdkmath.LegacyDec
	calls  []swapCall
}

func (f *fakeSwap) SwapExactInput(_ context.Context, tokenIn, tokenOut common.Address, amountIn, minOut sdkmath.Int, _ time.Time) (sdkmath.Int, error) {
	f.calls = append(f.calls, swapCall{tokenIn, tokenOut, amountIn, minOut})
	q, ok := f.quotes[tokenIn]
	if !ok {
		return sdkmath.ZeroInt(), errors.New("no quote for token")
	}
	out := sdkmath.LegacyNewDecFromInt(amountIn).Mul(q).TruncateInt()
	if out.LT(minOut) {
		return sdkmath.ZeroInt(), types.ErrSlippageExceeded
	}
	return out, nil
}

type fakePositions struct {
	certificate types.CertificateID
	leftoverA   sdkmath.Int
	leftoverB   sdkmath.Int

	info       protocol.PositionInfo
	dec0, dec1 sdkmath.Int
	col0, col1 sdkmath.Int

	mints     []protocol.MintParams
	decreased []sdkmath.Int
}

func newFakePositions() *fakePositions {
	return &fakePositions{
		certificate: 7,
		leftoverA:   sdkmath.ZeroInt(),
		leftoverB:   sdkmath.ZeroInt(),
		info: protocol.PositionInfo{
			Token0:    stableAsset,
			Token1:    collateralAsset,
			Liquidity: sdkmath.NewInt(500_000),
		},
		dec0: sdkmath.ZeroInt(), dec1: sdkmath.ZeroInt(),
		col0: sdkmath.ZeroInt(), col1: sdkmath.ZeroInt(),
	}
}

func (f *fakePositions) Mint(_ context.Context, params protocol.MintParams) (protocol.MintResult, error) {
	f.mints = append(f.mints, params)
	return protocol.MintResult{
		Certificate: f.certificate,
		UsedA:       params.AmountA.Sub(f.leftoverA),
		UsedB:       params.AmountB.Sub(f.leftoverB),
	}, nil
}

func (f *fakePositions) DecreaseLiquidity(_ context.Context, _ types.CertificateID, liquidity sdkmath.Int, _ time.Time) (sdkmath.Int, sdkmath.Int, error) {
	f.decreased = append(f.decreased, liquidity)
	return f.dec0, f.dec1, nil
}

func (f *fakePositions) Collect(_ context.Context, _ types.CertificateID, _ common.Address, _, _ sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	return f.col0, f.col1, nil
}

func (f *fakePositions) Query(_ context.Context, _ types.CertificateID) (protocol.PositionInfo, error) {
	return f.info, nil
}

type fakeOracle struct {
	price sdkmath.LegacyDec
	at    time.Time
}

func (f *fakeOracle) LatestPrice(_ context.Context, _, _ common.Address) (sdkmath.LegacyDec, time.Time, error) {
	return f.price, f.at, nil
}

type fakeCustody struct {
	pulls       []transfer
	pushes      []transfer
	pulledCerts []types.CertificateID
	pushedCerts []types.CertificateID

	pullStarted chan struct{}
	pullGate    chan struct{}
}

func (f *fakeCustody) PullAsset(_ context.Context, owner, asset common.Address, amount sdkmath.Int) error {
	if f.pullStarted != nil {
		close(f.pullStarted)
		f.pullStarted = nil
		<-f.pullGate
	}
	f.pulls = append(f.pulls, transfer{owner, asset, amount})
	return nil
}

func (f *fakeCustody) PushAsset(_ context.Context, recipient, asset common.Address, amount sdkmath.Int) error {
	f.pushes = append(f.pushes, transfer{recipient, asset, amount})
	return nil
}

func (f *fakeCustody) PullCertificate(_ context.Context, _ common.Address, id types.CertificateID) error {
	f.pulledCerts = append(f.pulledCerts, id)
	return nil
}

func (f *fakeCustody) PushCertificate(_ context.Context, _ common.Address, id types.CertificateID) error {
	f.pushedCerts = append(f.pushedCerts, id)
	return nil
}

// pushedTo sums everything pushed to one recipient in one asset.
func (f *fakeCustody) pushedTo(recipient, asset common.Address) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, p := range f.pushes {
		if p.counterparty == recipient && p.asset == asset {
			total = total.Add(p.amount)
		}
	}
	return total
}

type fakeRecorder struct {
	saved    []types.Position
	deleted  []common.Address
	harvests []types.HarvestReceipt
	unwinds  []types.UnwindReceipt
}

func (f *fakeRecorder) SavePosition(p types.Position) error {
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakeRecorder) DeletePosition(owner common.Address) error {
	f.deleted = append(f.deleted, owner)
	return nil
}

func (f *fakeRecorder) SaveHarvest(r types.HarvestReceipt) (int64, error) {
	f.harvests = append(f.harvests, r)
	return int64(len(f.harvests)), nil
}

func (f *fakeRecorder) SaveUnwind(r types.UnwindReceipt) (int64, error) {
	f.unwinds = append(f.unwinds, r)
	return int64(len(f.unwinds)), nil
}

func testParams() types.StrategyParameters {
	return types.StrategyParameters{
		TradeTriggerThreshold: 10,
		MaxLTVBps:             7500,
		MaxSlippageBps:        500,
		ProtocolFeeBps:        0,
		DustAmount:            sdkmath.NewInt(1000),
		SwapDeadline:          2 * time.Minute,
		MaxOracleStaleness:    30 * time.Minute,
	}
}

type fixture struct {
	lending   *fakeLending
	positions *fakePositions
	swap      *fakeSwap
	oracle    *fakeOracle
	custody   *fakeCustody
	recorder  *fakeRecorder
	mgr       *manager.Manager
	bindToken string
}

func newFixture(t *testing.T, params types.StrategyParameters) *fixture {
	t.Helper()

	f := &fixture{
		lending:   newFakeLending(),
		positions: newFakePositions(),
		swap: &fakeSwap{quotes: map[common.Address]sdkmath.LegacyDec{
			// 1 collateral = 2 stable in both directions.
			stableAsset:     sdkmath.LegacyNewDecWithPrec(5, 1),
			collateralAsset: sdkmath.LegacyNewDec(2),
		}},
		oracle:   &fakeOracle{price: sdkmath.LegacyNewDec(2), at: time.Now()},
		custody:  &fakeCustody{},
		recorder: &fakeRecorder{},
	}

	mgr, err := manager.NewManager(manager.Config{
		Lending:         f.lending,
		Positions:       f.positions,
		Swap:            f.swap,
		Oracle:          f.oracle,
		Custody:         f.custody,
		Recorder:        f.recorder,
		Params:          params,
		Pool:            strategyPool,
		StableAsset:     stableAsset,
		CollateralAsset: collateralAsset,
		WorkingAccount:  workingAccount,
		FeeCollector:    feeCollector,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	f.mgr = mgr

	token, err := mgr.BindTrigger()
	if err != nil {
		t.Fatalf("BindTrigger failed: %v", err)
	}
	f.bindToken = token
	return f
}

func (f *fixture) restorePosition() types.Position {
	p := types.Position{
		Owner:           ownerAddr,
		Certificate:     f.positions.certificate,
		Pool:            strategyPool,
		CollateralAsset: collateralAsset,
		StableAsset:     stableAsset,
		OpenedAt:        time.Now(),
	}
	f.mgr.Restore([]types.Position{p})
	return p
}

func TestInitiateOpensPosition(t *testing.T) {
	f := newFixture(t, testParams())

	// 1_000_000 collateral at price 2 and 50% LTV borrows 1_000_000 stable.
	pos, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if pos.Certificate != 7 {
		t.Fatalf("expected certificate 7, got %d", pos.Certificate)
	}

	if len(f.lending.borrows) != 1 || !f.lending.borrows[0].Equal(sdkmath.NewInt(1_000_000)) {
		t.Fatalf("expected single borrow of 1000000, got %v", f.lending.borrows)
	}

	// Half the borrow is swapped back to collateral at price 2.
	if len(f.swap.calls) != 1 {
		t.Fatalf("expected one entry swap, got %d", len(f.swap.calls))
	}
	call := f.swap.calls[0]
	if !call.amountIn.Equal(sdkmath.NewInt(500_000)) {
		t.Fatalf("expected swap of 500000 stable, got %s", call.amountIn)
	}
	// Expected output 250000, minus 100 bps tolerance.
	if !call.minOut.Equal(sdkmath.NewInt(247_500)) {
		t.Fatalf("expected minOut 247500, got %s", call.minOut)
	}

	if len(f.positions.mints) != 1 {
		t.Fatalf("expected one mint, got %d", len(f.positions.mints))
	}
	mint := f.positions.mints[0]
	if !mint.AmountA.Equal(sdkmath.NewInt(500_000)) || !mint.AmountB.Equal(sdkmath.NewInt(250_000)) {
		t.Fatalf("unexpected mint amounts: %s / %s", mint.AmountA, mint.AmountB)
	}
	if mint.Recipient != ownerAddr {
		t.Fatalf("certificate must be minted to the owner, got %s", mint.Recipient.Hex())
	}

	if _, ok := f.mgr.Position(ownerAddr); !ok {
		t.Fatal("position not tracked after initiate")
	}
	if got, ok := f.mgr.OwnerOf(7); !ok || got != ownerAddr {
		t.Fatal("certificate index not populated")
	}
	if len(f.recorder.saved) != 1 {
		t.Fatalf("expected one persisted position, got %d", len(f.recorder.saved))
	}
}

func TestInitiateRejectsSecondPosition(t *testing.T) {
	f := newFixture(t, testParams())

	if _, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100); err != nil {
		t.Fatalf("first Initiate failed: %v", err)
	}
	_, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100)
	if !errors.Is(err, types.ErrPositionExists) {
		t.Fatalf("expected ErrPositionExists, got %v", err)
	}
}

func TestInitiateValidatesParameters(t *testing.T) {
	f := newFixture(t, testParams())

	cases := []struct {
		name        string
		amount      sdkmath.Int
		ltvBps      uint32
		slippageBps uint32
	}{
		{"zero collateral", sdkmath.ZeroInt(), 5000, 100},
		{"negative collateral", sdkmath.NewInt(-5), 5000, 100},
		{"zero ltv", sdkmath.NewInt(1_000_000), 0, 100},
		{"ltv above ceiling", sdkmath.NewInt(1_000_000), 7501, 100},
		{"slippage above ceiling", sdkmath.NewInt(1_000_000), 5000, 501},
	}
	for _, tc := range cases {
		_, err := f.mgr.Initiate(context.Background(), ownerAddr, tc.amount, tc.ltvBps, tc.slippageBps)
		if !errors.Is(err, types.ErrInvalidParameter) {
			t.Fatalf("%s: expected ErrInvalidParameter, got %v", tc.name, err)
		}
	}
	if len(f.custody.pulls) != 0 {
		t.Fatal("no funds may move on parameter rejection")
	}
}

func TestInitiateRejectsStalePrice(t *testing.T) {
	f := newFixture(t, testParams())
	f.oracle.at = time.Now().Add(-time.Hour)

	_, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100)
	if !errors.Is(err, types.ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
	if len(f.custody.pulls) != 0 {
		t.Fatal("no funds may move on a stale price")
	}
}

func TestInitiateReturnsMintLeftovers(t *testing.T) {
	f := newFixture(t, testParams())
	// Stable leftover clears the dust threshold, collateral leftover does not.
	f.positions.leftoverA = sdkmath.NewInt(5_000)
	f.positions.leftoverB = sdkmath.NewInt(999)

	if _, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100); err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	if got := f.custody.pushedTo(ownerAddr, stableAsset); !got.Equal(sdkmath.NewInt(5_000)) {
		t.Fatalf("expected stable leftover 5000 returned, got %s", got)
	}
	if got := f.custody.pushedTo(ownerAddr, collateralAsset); !got.IsZero() {
		t.Fatalf("sub-dust collateral leftover must stay put, got %s", got)
	}
}

func TestInitiateBlocksConcurrentOperation(t *testing.T) {
	f := newFixture(t, testParams())
	f.custody.pullStarted = make(chan struct{})
	f.custody.pullGate = make(chan struct{})
	started := f.custody.pullStarted

	done := make(chan error, 1)
	go func() {
		_, err := f.mgr.Initiate(context.Background(), ownerAddr, sdkmath.NewInt(1_000_000), 5000, 100)
		done <- err
	}()

	<-started
	_, err := f.mgr.Unwind(context.Background(), ownerAddr, false)
	if !errors.Is(err, types.ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight, got %v", err)
	}

	close(f.custody.pullGate)
	if err := <-done; err != nil {
		t.Fatalf("blocked Initiate failed: %v", err)
	}
}

func TestBindTriggerIssuesOnce(t *testing.T) {
	f := newFixture(t, testParams())
	if _, err := f.mgr.BindTrigger(); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected second bind to fail with ErrUnauthorized, got %v", err)
	}
}

func TestReinvestRequiresCapability(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()

	_, err := f.mgr.Reinvest(context.Background(), "not-the-token", ownerAddr, sdkmath.NewInt(100), sdkmath.NewInt(100))
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.lending.repays) != 0 || len(f.custody.pushes) != 0 {
		t.Fatal("no funds may move on an unauthorized reinvest")
	}
}

func TestReinvestRequiresPosition(t *testing.T) {
	f := newFixture(t, testParams())
	_, err := f.mgr.Reinvest(context.Background(), f.bindToken, ownerAddr, sdkmath.NewInt(100), sdkmath.NewInt(100))
	if !errors.Is(err, types.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestReinvestCapsRepayAtDebt(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()
	f.lending.debt = sdkmath.NewInt(300_000)

	receipt, err := f.mgr.Reinvest(context.Background(), f.bindToken, ownerAddr, sdkmath.NewInt(1_000_000), sdkmath.ZeroInt())
	if err != nil {
		t.Fatalf("Reinvest failed: %v", err)
	}

	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(300_000)) {
		t.Fatalf("expected repay capped at 300000, got %s", receipt.DebtRepaid)
	}
	if !f.lending.debt.IsZero() {
		t.Fatalf("debt should be cleared, got %s", f.lending.debt)
	}
	if !receipt.StableReturned.Equal(sdkmath.NewInt(700_000)) {
		t.Fatalf("expected 700000 stable returned, got %s", receipt.StableReturned)
	}
	if got := f.custody.pushedTo(ownerAddr, stableAsset); !got.Equal(sdkmath.NewInt(700_000)) {
		t.Fatalf("expected 700000 pushed to owner, got %s", got)
	}
}

func TestReinvestZeroDebtReturnsEverything(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()

	receipt, err := f.mgr.Reinvest(context.Background(), f.bindToken, ownerAddr, sdkmath.NewInt(50_000), sdkmath.ZeroInt())
	if err != nil {
		t.Fatalf("Reinvest failed: %v", err)
	}
	if !receipt.StableReturned.Equal(sdkmath.NewInt(50_000)) {
		t.Fatalf("expected whole harvest returned, got %s", receipt.StableReturned)
	}
	if len(f.lending.repays) != 0 {
		t.Fatal("no repay expected with zero debt")
	}
}

func TestReinvestSuppliesCollateralSide(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()
	f.lending.debt = sdkmath.NewInt(1_000_000)

	receipt, err := f.mgr.Reinvest(context.Background(), f.bindToken, ownerAddr, sdkmath.NewInt(40_000), sdkmath.NewInt(25_000))
	if err != nil {
		t.Fatalf("Reinvest failed: %v", err)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(40_000)) {
		t.Fatalf("expected 40000 repaid, got %s", receipt.DebtRepaid)
	}
	if !receipt.CollateralSupplied.Equal(sdkmath.NewInt(25_000)) {
		t.Fatalf("expected 25000 collateral supplied, got %s", receipt.CollateralSupplied)
	}
	if !f.lending.supplied.Equal(sdkmath.NewInt(25_000)) {
		t.Fatalf("collateral top-up not supplied, got %s", f.lending.supplied)
	}
	if len(f.recorder.harvests) != 1 {
		t.Fatalf("expected one persisted harvest, got %d", len(f.recorder.harvests))
	}
}

func TestReinvestSkimsProtocolFee(t *testing.T) {
	params := testParams()
	params.ProtocolFeeBps = 100
	f := newFixture(t, params)
	f.restorePosition()
	f.lending.debt = sdkmath.NewInt(1_000_000)

	receipt, err := f.mgr.Reinvest(context.Background(), f.bindToken, ownerAddr, sdkmath.NewInt(10_000), sdkmath.NewInt(5_000))
	if err != nil {
		t.Fatalf("Reinvest failed: %v", err)
	}

	if !receipt.StableSkimmed.Equal(sdkmath.NewInt(100)) || !receipt.CollateralSkimmed.Equal(sdkmath.NewInt(50)) {
		t.Fatalf("unexpected skims: %s / %s", receipt.StableSkimmed, receipt.CollateralSkimmed)
	}
	if got := f.custody.pushedTo(feeCollector, stableAsset); !got.Equal(sdkmath.NewInt(100)) {
		t.Fatalf("fee collector got %s stable, want 100", got)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(9_900)) {
		t.Fatalf("repay must use the net amount, got %s", receipt.DebtRepaid)
	}
	if !receipt.CollateralSupplied.Equal(sdkmath.NewInt(4_950)) {
		t.Fatalf("supply must use the net amount, got %s", receipt.CollateralSupplied)
	}
}

func TestUnwindRequiresPosition(t *testing.T) {
	f := newFixture(t, testParams())
	_, err := f.mgr.Unwind(context.Background(), ownerAddr, false)
	if !errors.Is(err, types.ErrNoPosition) {
		t.Fatalf("expected ErrNoPosition, got %v", err)
	}
}

func TestUnwindFullRepayment(t *testing.T) {
	f := newFixture(t, testParams())
	pos := f.restorePosition()

	f.lending.debt = sdkmath.NewInt(400_000)
	f.lending.supplied = sdkmath.NewInt(1_000_000)
	f.positions.dec0 = sdkmath.NewInt(450_000) // stable from liquidity
	f.positions.dec1 = sdkmath.NewInt(200_000) // collateral from liquidity
	f.positions.col0 = sdkmath.NewInt(50_000)  // residual stable fees
	f.positions.col1 = sdkmath.NewInt(10_000)  // residual collateral fees

	receipt, err := f.mgr.Unwind(context.Background(), ownerAddr, false)
	if err != nil {
		t.Fatalf("Unwind failed: %v", err)
	}

	if !receipt.StableCollected.Equal(sdkmath.NewInt(500_000)) {
		t.Fatalf("expected 500000 stable collected, got %s", receipt.StableCollected)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(400_000)) {
		t.Fatalf("expected full repay of 400000, got %s", receipt.DebtRepaid)
	}
	if !receipt.DebtOutstanding.IsZero() {
		t.Fatalf("expected no outstanding debt, got %s", receipt.DebtOutstanding)
	}
	if !receipt.StableReturned.Equal(sdkmath.NewInt(100_000)) {
		t.Fatalf("expected 100000 stable excess returned, got %s", receipt.StableReturned)
	}
	// Collected collateral plus the withdrawn lending balance.
	if !receipt.CollateralReturned.Equal(sdkmath.NewInt(1_210_000)) {
		t.Fatalf("expected 1210000 collateral returned, got %s", receipt.CollateralReturned)
	}

	if len(f.custody.pulledCerts) != 1 || f.custody.pulledCerts[0] != pos.Certificate {
		t.Fatal("certificate was not pulled for the unwind")
	}
	if len(f.custody.pushedCerts) != 1 || f.custody.pushedCerts[0] != pos.Certificate {
		t.Fatal("certificate was not returned to the owner")
	}
	if _, ok := f.mgr.Position(ownerAddr); ok {
		t.Fatal("position must be cleared after unwind")
	}
	if _, ok := f.mgr.OwnerOf(pos.Certificate); ok {
		t.Fatal("certificate index must be cleared after unwind")
	}
	if len(f.recorder.deleted) != 1 || len(f.recorder.unwinds) != 1 {
		t.Fatal("unwind must delete the position record and persist a receipt")
	}
}

func TestUnwindHandlesReversedTokenOrder(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()

	// Pool stores collateral as token0.
	f.positions.info.Token0 = collateralAsset
	f.positions.info.Token1 = stableAsset
	f.positions.dec0 = sdkmath.NewInt(200_000) // collateral
	f.positions.dec1 = sdkmath.NewInt(450_000) // stable
	f.lending.debt = sdkmath.NewInt(400_000)

	receipt, err := f.mgr.Unwind(context.Background(), ownerAddr, false)
	if err != nil {
		t.Fatalf("Unwind failed: %v", err)
	}
	if !receipt.StableCollected.Equal(sdkmath.NewInt(450_000)) {
		t.Fatalf("stable must be resolved by identity, got %s", receipt.StableCollected)
	}
	if !receipt.CollateralCollected.Equal(sdkmath.NewInt(200_000)) {
		t.Fatalf("collateral must be resolved by identity, got %s", receipt.CollateralCollected)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(400_000)) {
		t.Fatalf("expected full repay, got %s", receipt.DebtRepaid)
	}
}

func TestUnwindLeavesShortfallWhenSwapDisabled(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()

	f.lending.debt = sdkmath.NewInt(600_000)
	f.positions.dec0 = sdkmath.NewInt(400_000)
	f.positions.dec1 = sdkmath.NewInt(100_000)

	receipt, err := f.mgr.Unwind(context.Background(), ownerAddr, false)
	if err != nil {
		t.Fatalf("Unwind failed: %v", err)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(400_000)) {
		t.Fatalf("expected partial repay of 400000, got %s", receipt.DebtRepaid)
	}
	if !receipt.DebtOutstanding.Equal(sdkmath.NewInt(200_000)) {
		t.Fatalf("expected 200000 outstanding, got %s", receipt.DebtOutstanding)
	}
	if len(f.swap.calls) != 0 {
		t.Fatal("no swap may run when the caller declined it")
	}
}

func TestUnwindSwapsCollateralForShortfall(t *testing.T) {
	f := newFixture(t, testParams())
	f.restorePosition()

	f.lending.debt = sdkmath.NewInt(600_000)
	f.positions.dec0 = sdkmath.NewInt(400_000) // stable
	f.positions.dec1 = sdkmath.NewInt(300_000) // collateral

	receipt, err := f.mgr.Unwind(context.Background(), ownerAddr, true)
	if err != nil {
		t.Fatalf("Unwind failed: %v", err)
	}

	// Shortfall after the stable repay is 200000. The swap share is
	// 300000 * 200000 / (400000 + 200000) = 100000 collateral, which at
	// price 2 yields exactly the missing 200000 stable.
	if !receipt.CollateralSwapped.Equal(sdkmath.NewInt(100_000)) {
		t.Fatalf("expected 100000 collateral swapped, got %s", receipt.CollateralSwapped)
	}
	if !receipt.DebtRepaid.Equal(sdkmath.NewInt(600_000)) {
		t.Fatalf("expected full repay after swap, got %s", receipt.DebtRepaid)
	}
	if !receipt.DebtOutstanding.IsZero() {
		t.Fatalf("expected no outstanding debt, got %s", receipt.DebtOutstanding)
	}
	if !receipt.CollateralReturned.Equal(sdkmath.NewInt(200_000)) {
		t.Fatalf("expected remaining 200000 collateral returned, got %s", receipt.CollateralReturned)
	}

	if len(f.swap.calls) != 1 {
		t.Fatalf("expected one debt cover swap, got %d", len(f.swap.calls))
	}
	if !f.swap.calls[0].minOut.IsZero() {
		t.Fatal("debt cover swap runs without a minimum-output bound")
	}
}
