// ./internal/state/pools_store.go
package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// SetPoolAuthorization persists an authorized-pool set mutation.
func SetPoolAuthorization(pool common.Address, authorized bool) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
		INSERT INTO authorized_pools (pool, authorized, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (pool) DO UPDATE
		SET authorized = EXCLUDED.authorized,
		    updated_at = CURRENT_TIMESTAMP;`

	if _, err := DB.Exec(stmt, pool.Hex(), authorized); err != nil {
		return fmt.Errorf("failed to set pool authorization for %s: %w", pool.Hex(), err)
	}

	log.Info().Str("pool", pool.Hex()).Bool("authorized", authorized).Msg("Persisted pool authorization")
	return nil
}

// LoadAuthorizedPools returns the pools currently allowed to notify trades.
func LoadAuthorizedPools() ([]common.Address, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := DB.Query(`SELECT pool FROM authorized_pools WHERE authorized = TRUE;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized pools: %w", err)
	}
	defer rows.Close()

	var pools []common.Address
	for rows.Next() {
		var pool string
		if err := rows.Scan(&pool); err != nil {
			return nil, fmt.Errorf("failed to scan authorized pool row: %w", err)
		}
		pools = append(pools, common.HexToAddress(pool))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate authorized pool rows: %w", err)
	}

	return pools, nil
}
