// ./internal/state/receipts_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/loopyield/lfm/internal/types"
)

// SaveHarvestReceipt saves a fee-reinvestment receipt to the database.
func SaveHarvestReceipt(r types.HarvestReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO harvest_receipts (
			owner, certificate_id,
			stable_in, collateral_in, stable_skimmed, collateral_skimmed,
			debt_repaid, stable_returned, collateral_supplied, harvest_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(
		query,
		r.Owner.Hex(), int64(r.Certificate),
		r.StableIn.String(), r.CollateralIn.String(),
		r.StableSkimmed.String(), r.CollateralSkimmed.String(),
		r.DebtRepaid.String(), r.StableReturned.String(),
		r.CollateralSupplied.String(), r.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save harvest receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("owner", r.Owner.Hex()).
		Str("debt_repaid", r.DebtRepaid.String()).
		Msg("Harvest receipt saved to database")

	return receiptID, nil
}

// SaveUnwindReceipt saves a strategy-exit receipt to the database.
func SaveUnwindReceipt(r types.UnwindReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO unwind_receipts (
			owner, certificate_id,
			stable_collected, collateral_collected,
			debt_repaid, debt_outstanding, collateral_swapped,
			stable_returned, collateral_returned, unwind_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(
		query,
		r.Owner.Hex(), int64(r.Certificate),
		r.StableCollected.String(), r.CollateralCollected.String(),
		r.DebtRepaid.String(), r.DebtOutstanding.String(), r.CollateralSwapped.String(),
		r.StableReturned.String(), r.CollateralReturned.String(), r.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save unwind receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("owner", r.Owner.Hex()).
		Str("debt_repaid", r.DebtRepaid.String()).
		Msg("Unwind receipt saved to database")

	return receiptID, nil
}

// GetRecentHarvests retrieves recent harvest receipts, newest first.
func GetRecentHarvests(limit int) ([]types.HarvestReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	rows, err := DB.Query(`
		SELECT receipt_id, owner, certificate_id,
		       stable_in, collateral_in, stable_skimmed, collateral_skimmed,
		       debt_repaid, stable_returned, collateral_supplied, harvest_timestamp
		FROM harvest_receipts
		ORDER BY harvest_timestamp DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent harvests: %w", err)
	}
	defer rows.Close()

	var receipts []types.HarvestReceipt
	for rows.Next() {
		var (
			r             types.HarvestReceipt
			owner         string
			certificateID int64
			amounts       [7]string
		)
		if err := rows.Scan(
			&r.ReceiptID, &owner, &certificateID,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3],
			&amounts[4], &amounts[5], &amounts[6], &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan harvest receipt row: %w", err)
		}
		r.Owner = common.HexToAddress(owner)
		r.Certificate = types.CertificateID(certificateID)

		parsed, err := parseAmounts(amounts[:])
		if err != nil {
			return nil, fmt.Errorf("harvest receipt %d: %w", r.ReceiptID, err)
		}
		r.StableIn, r.CollateralIn = parsed[0], parsed[1]
		r.StableSkimmed, r.CollateralSkimmed = parsed[2], parsed[3]
		r.DebtRepaid, r.StableReturned, r.CollateralSupplied = parsed[4], parsed[5], parsed[6]

		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate harvest receipt rows: %w", err)
	}

	return receipts, nil
}

// GetRecentUnwinds retrieves recent unwind receipts, newest first.
func GetRecentUnwinds(limit int) ([]types.UnwindReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := DB.Query(`
		SELECT receipt_id, owner, certificate_id,
		       stable_collected, collateral_collected,
		       debt_repaid, debt_outstanding, collateral_swapped,
		       stable_returned, collateral_returned, unwind_timestamp
		FROM unwind_receipts
		ORDER BY unwind_timestamp DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent unwinds: %w", err)
	}
	defer rows.Close()

	var receipts []types.UnwindReceipt
	for rows.Next() {
		var (
			r             types.UnwindReceipt
			owner         string
			certificateID int64
			amounts       [7]string
		)
		if err := rows.Scan(
			&r.ReceiptID, &owner, &certificateID,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3],
			&amounts[4], &amounts[5], &amounts[6], &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unwind receipt row: %w", err)
		}
		r.Owner = common.HexToAddress(owner)
		r.Certificate = types.CertificateID(certificateID)

		parsed, err := parseAmounts(amounts[:])
		if err != nil {
			return nil, fmt.Errorf("unwind receipt %d: %w", r.ReceiptID, err)
		}
		r.StableCollected, r.CollateralCollected = parsed[0], parsed[1]
		r.DebtRepaid, r.DebtOutstanding, r.CollateralSwapped = parsed[2], parsed[3], parsed[4]
		r.StableReturned, r.CollateralReturned = parsed[5], parsed[6]

		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate unwind receipt rows: %w", err)
	}

	return receipts, nil
}

// parseAmounts converts NUMERIC column strings into integer amounts.
func parseAmounts(raw []string) ([]sdkmath.Int, error) {
	out := make([]sdkmath.Int, len(raw))
	for i, s := range raw {
		v, ok := sdkmath.NewIntFromString(s)
		if !ok {
			return nil, fmt.Errorf("invalid amount column value: %q", s)
		}
		out[i] = v
	}
	return out, nil
}
