/*

This file manages the persistent per-certificate trade counters. The counters
are stored in the database to ensure continuity across restarts: a harvest
threshold reached at trade 10 must still fire at trade 20 after a restart.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/loopyield/lfm/internal/types"
)

// IncrementTradeCounter bumps the counter for a certificate and returns the
// new value. The row is created on first use.
func IncrementTradeCounter(id types.CertificateID) (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO trade_counters (certificate_id, trade_count, updated_at)
		VALUES ($1, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (certificate_id) DO UPDATE
		SET trade_count = trade_counters.trade_count + 1,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING trade_count;`

	var count int64
	if err := DB.QueryRow(query, int64(id)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment trade counter for %d: %w", id, err)
	}

	log.Debug().Uint64("certificate", uint64(id)).Int64("count", count).Msg("Incremented trade counter")
	return uint64(count), nil
}

// GetTradeCounter returns the current counter value for a certificate.
// A certificate that never traded reports zero.
func GetTradeCounter(id types.CertificateID) (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var count int64
	err := DB.QueryRow(`SELECT trade_count FROM trade_counters WHERE certificate_id = $1;`, int64(id)).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get trade counter for %d: %w", id, err)
	}

	return uint64(count), nil
}
