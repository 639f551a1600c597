// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS positions (
			owner VARCHAR(42) PRIMARY KEY,
			certificate_id BIGINT NOT NULL UNIQUE,
			pool VARCHAR(42) NOT NULL,
			collateral_asset VARCHAR(42) NOT NULL,
			stable_asset VARCHAR(42) NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_positions_pool ON positions(pool);
		CREATE INDEX IF NOT EXISTS idx_positions_certificate ON positions(certificate_id);

		CREATE TABLE IF NOT EXISTS trade_counters (
			certificate_id BIGINT PRIMARY KEY,
			trade_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS authorized_pools (
			pool VARCHAR(42) PRIMARY KEY,
			authorized BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS harvest_receipts (
			receipt_id SERIAL PRIMARY KEY,
			owner VARCHAR(42) NOT NULL,
			certificate_id BIGINT NOT NULL,
			stable_in NUMERIC(78, 0) NOT NULL,
			collateral_in NUMERIC(78, 0) NOT NULL,
			stable_skimmed NUMERIC(78, 0) NOT NULL,
			collateral_skimmed NUMERIC(78, 0) NOT NULL,
			debt_repaid NUMERIC(78, 0) NOT NULL,
			stable_returned NUMERIC(78, 0) NOT NULL,
			collateral_supplied NUMERIC(78, 0) NOT NULL,
			harvest_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_harvest_receipts_owner ON harvest_receipts(owner);
		CREATE INDEX IF NOT EXISTS idx_harvest_receipts_timestamp ON harvest_receipts(harvest_timestamp DESC);

		CREATE TABLE IF NOT EXISTS unwind_receipts (
			receipt_id SERIAL PRIMARY KEY,
			owner VARCHAR(42) NOT NULL,
			certificate_id BIGINT NOT NULL,
			stable_collected NUMERIC(78, 0) NOT NULL,
			collateral_collected NUMERIC(78, 0) NOT NULL,
			debt_repaid NUMERIC(78, 0) NOT NULL,
			debt_outstanding NUMERIC(78, 0) NOT NULL,
			collateral_swapped NUMERIC(78, 0) NOT NULL,
			stable_returned NUMERIC(78, 0) NOT NULL,
			collateral_returned NUMERIC(78, 0) NOT NULL,
			unwind_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_unwind_receipts_owner ON unwind_receipts(owner);
		CREATE INDEX IF NOT EXISTS idx_unwind_receipts_timestamp ON unwind_receipts(unwind_timestamp DESC);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
