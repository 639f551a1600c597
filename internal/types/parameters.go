package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// StrategyParameters holds the tunable policy knobs of the strategy core.
// A validated copy is injected into the position manager and trade trigger
// at construction time; nothing reads these from globals.
type StrategyParameters struct {
	// TradeTriggerThreshold is the number of observed trades between fee
	// harvests. The counter is never reset, so harvesting fires on every
	// multiple of this value.
	TradeTriggerThreshold uint64 `json:"trade_trigger_threshold"`

	// MaxLTVBps caps the loan-to-value ratio a caller may request, in
	// basis points of collateral value.
	MaxLTVBps uint32 `json:"max_ltv_bps"`

	// MaxSlippageBps caps the slippage tolerance a caller may request.
	MaxSlippageBps uint32 `json:"max_slippage_bps"`

	// ProtocolFeeBps is skimmed off both collected fee amounts before
	// reinvestment. Zero disables the skim.
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`

	// DustAmount is the smallest balance worth transferring back to the
	// custody account. Anything at or below it stays in the working balance.
	DustAmount sdkmath.Int `json:"dust_amount"`

	// SwapDeadline bounds how long a submitted swap or mint may remain
	// executable before it goes stale.
	SwapDeadline time.Duration `json:"swap_deadline"`

	// MaxOracleStaleness rejects price observations older than this when
	// sizing a borrow.
	MaxOracleStaleness time.Duration `json:"max_oracle_staleness"`
}
