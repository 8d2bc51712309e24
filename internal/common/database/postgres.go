package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"advertiser-onboarding/internal/common/config"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	DB *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db}, nil
}

// Schema is the onboarding storage layout. Consent records are append-only.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS advertiser_profiles (
		account_id          TEXT PRIMARY KEY,
		full_name           TEXT NOT NULL,
		display_name        TEXT NOT NULL,
		email               TEXT NOT NULL,
		phone               TEXT NOT NULL,
		location            TEXT NOT NULL,
		languages           TEXT[] NOT NULL DEFAULT '{}',
		services            TEXT[] NOT NULL DEFAULT '{}',
		agree_terms         BOOLEAN NOT NULL DEFAULT FALSE,
		plan                TEXT NOT NULL,
		plan_name           TEXT NOT NULL,
		price_monthly       INTEGER NOT NULL,
		status              TEXT NOT NULL DEFAULT 'pending',
		subscription_status TEXT,
		trial_ends_at       TIMESTAMPTZ,
		identity_verified   BOOLEAN NOT NULL DEFAULT FALSE,
		stripe_customer_id  TEXT,
		subscription_id     TEXT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS consent_records (
		id               UUID PRIMARY KEY,
		flow_id          TEXT NOT NULL,
		email            TEXT NOT NULL,
		account_id       TEXT,
		agreed_to_terms  BOOLEAN NOT NULL,
		marketing_opt_in BOOLEAN NOT NULL,
		policy_version   TEXT NOT NULL,
		consented_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS consent_records_flow_id_idx ON consent_records (flow_id)`,
	`CREATE INDEX IF NOT EXISTS consent_records_email_idx ON consent_records (email)`,
}

// Migrate applies Schema. Every statement is idempotent.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func (c *PostgresClient) GetDB() *sql.DB {
	return c.DB
}
