/*

This file contains the types for leveraged liquidity positions and the
receipts emitted when fees are reinvested or a position is unwound.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// CertificateID identifies one AMM liquidity-position certificate (the NFT
// token id of the concentrated liquidity position).
type CertificateID uint64

// Position is the record of one active leveraged liquidity strategy.
// There is at most one per custody account; a position is active exactly
// while it is present in the manager's position map.
type Position struct {
	Owner           common.Address `json:"owner"`
	Certificate     CertificateID  `json:"certificate_id"`
	Pool            common.Address `json:"pool"`
	CollateralAsset common.Address `json:"collateral_asset"`
	StableAsset     common.Address `json:"stable_asset"`
	OpenedAt        time.Time      `json:"opened_at"`
}

// HarvestReceipt records one fee-reinvestment pass. Amounts are the amounts
// that actually moved, not the raw collected inputs: the protocol-fee skim
// and the debt cap both shrink them.
type HarvestReceipt struct {
	ReceiptID          int64          `json:"receipt_id,omitempty"` // Auto-incremented by DB
	Owner              common.Address `json:"owner"`
	Certificate        CertificateID  `json:"certificate_id"`
	StableIn           sdkmath.Int    `json:"stable_in"`
	CollateralIn       sdkmath.Int    `json:"collateral_in"`
	StableSkimmed      sdkmath.Int    `json:"stable_skimmed"`
	CollateralSkimmed  sdkmath.Int    `json:"collateral_skimmed"`
	DebtRepaid         sdkmath.Int    `json:"debt_repaid"`
	StableReturned     sdkmath.Int    `json:"stable_returned"`
	CollateralSupplied sdkmath.Int    `json:"collateral_supplied"`
	Timestamp          time.Time      `json:"timestamp"`
}

// UnwindReceipt records a full strategy exit.
type UnwindReceipt struct {
	ReceiptID          int64          `json:"receipt_id,omitempty"`
	Owner              common.Address `json:"owner"`
	Certificate        CertificateID  `json:"certificate_id"`
	StableCollected    sdkmath.Int    `json:"stable_collected"`
	CollateralCollected sdkmath.Int   `json:"collateral_collected"`
	DebtRepaid         sdkmath.Int    `json:"debt_repaid"`
	DebtOutstanding    sdkmath.Int    `json:"debt_outstanding"`
	CollateralSwapped  sdkmath.Int    `json:"collateral_swapped"`
	StableReturned     sdkmath.Int    `json:"stable_returned"`
	CollateralReturned sdkmath.Int    `json:"collateral_returned"`
	Timestamp          time.Time      `json:"timestamp"`
}
