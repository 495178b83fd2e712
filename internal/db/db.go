package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the relay's tables. Every statement is idempotent.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            id TEXT PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            display_name VARCHAR(100) NOT NULL,
            push_token TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS wallets (
            id TEXT PRIMARY KEY,
            account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
            platform VARCHAR(50) NOT NULL,
            account_name VARCHAR(100) NOT NULL,
            account_number VARCHAR(100) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS transactions (
            id TEXT PRIMARY KEY,
            merchant_id TEXT NOT NULL,
            client_id TEXT NOT NULL,
            status VARCHAR(10) NOT NULL CHECK (status IN ('ongoing', 'completed', 'cancelled')),
            total_amount NUMERIC(18, 2) NOT NULL DEFAULT 0,
            platforms JSONB,
            timeline JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            finished_at TIMESTAMPTZ
        )`,

		`CREATE TABLE IF NOT EXISTS payments (
            id TEXT PRIMARY KEY,
            room_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
            requester_id TEXT NOT NULL,
            payer_id TEXT NOT NULL,
            amount NUMERIC(18, 2) NOT NULL CHECK (amount > 0),
            currency VARCHAR(3) NOT NULL,
            platform VARCHAR(50) NOT NULL,
            account_name VARCHAR(100) NOT NULL DEFAULT '',
            account_number VARCHAR(100) NOT NULL DEFAULT '',
            status VARCHAR(10) NOT NULL CHECK (status IN ('requested', 'sent', 'confirmed', 'denied', 'cancelled')),
            reference TEXT,
            receipt_url TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		// A receipt reference may back only one payment.
		`CREATE UNIQUE INDEX IF NOT EXISTS payments_reference_key ON payments (reference) WHERE reference IS NOT NULL`,

		`CREATE INDEX IF NOT EXISTS payments_room_status_idx ON payments (room_id, status)`,

		// At most one payment per room may be waiting on the payer or the requester.
		`CREATE UNIQUE INDEX IF NOT EXISTS payments_room_outstanding_key ON payments (room_id) WHERE status IN ('requested', 'sent')`,

		`CREATE TABLE IF NOT EXISTS ratings (
            id TEXT PRIMARY KEY,
            transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
            rater_id TEXT NOT NULL,
            ratee_id TEXT NOT NULL,
            score SMALLINT NOT NULL CHECK (score BETWEEN 1 AND 5),
            comment TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (transaction_id, rater_id)
        )`,
	}

	for _, query := range queries {
		_, err := d.Conn.ExecContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
