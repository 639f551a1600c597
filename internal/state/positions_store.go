// ./internal/state/positions_store.go
package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/loopyield/lfm/internal/types"
)

// SavePosition upserts the active position record for an owner.
func SavePosition(p types.Position) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO positions (owner, certificate_id, pool, collateral_asset, stable_asset, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner) DO UPDATE SET
			certificate_id = EXCLUDED.certificate_id,
			pool = EXCLUDED.pool,
			collateral_asset = EXCLUDED.collateral_asset,
			stable_asset = EXCLUDED.stable_asset,
			opened_at = EXCLUDED.opened_at;`

	_, err := DB.Exec(stmt,
		p.Owner.Hex(), int64(p.Certificate), p.Pool.Hex(),
		p.CollateralAsset.Hex(), p.StableAsset.Hex(), p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save position for %s: %w", p.Owner.Hex(), err)
	}

	log.Info().
		Str("owner", p.Owner.Hex()).
		Uint64("certificate", uint64(p.Certificate)).
		Msg("Saved position")
	return nil
}

// DeletePosition removes the persisted record for an owner.
func DeletePosition(owner common.Address) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	result, err := DB.Exec(`DELETE FROM positions WHERE owner = $1;`, owner.Hex())
	if err != nil {
		return fmt.Errorf("failed to delete position for %s: %w", owner.Hex(), err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		log.Warn().Str("owner", owner.Hex()).Msg("No persisted position to delete")
	}

	return nil
}

// LoadActivePositions returns all persisted positions for startup rehydration.
func LoadActivePositions() ([]types.Position, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`
		SELECT owner, certificate_id, pool, collateral_asset, stable_asset, opened_at
		FROM positions
		ORDER BY opened_at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var (
			owner, pool, collateralAsset, stableAsset string
			certificateID                             int64
			p                                         types.Position
		)
		if err := rows.Scan(&owner, &certificateID, &pool, &collateralAsset, &stableAsset, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		p.Owner = common.HexToAddress(owner)
		p.Certificate = types.CertificateID(certificateID)
		p.Pool = common.HexToAddress(pool)
		p.CollateralAsset = common.HexToAddress(collateralAsset)
		p.StableAsset = common.HexToAddress(stableAsset)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate position rows: %w", err)
	}

	return positions, nil
}
