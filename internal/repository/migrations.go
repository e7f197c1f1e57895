package repository

import (
	"context"
	"fmt"

	"table-bidding/utils"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel carrying table and bid change notifications
const NotifyChannel = "bidding_changes"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tables (
		id                      TEXT PRIMARY KEY,
		name                    TEXT NOT NULL DEFAULT '',
		category                TEXT NOT NULL,
		pax                     TEXT NOT NULL DEFAULT '',
		base_price              BIGINT NOT NULL DEFAULT 0,
		current_bid             BIGINT NOT NULL DEFAULT 0,
		highest_bidder_username TEXT,
		bid_count               INTEGER NOT NULL DEFAULT 0,
		version                 BIGINT NOT NULL DEFAULT 0,
		is_active               BOOLEAN NOT NULL DEFAULT TRUE,
		bidding_starts_at       TIMESTAMPTZ,
		bidding_ends_at         TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT current_bid_at_least_base CHECK (current_bid >= base_price)
	)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id           TEXT PRIMARY KEY,
		table_id     TEXT NOT NULL REFERENCES tables (id),
		user_id      TEXT NOT NULL,
		username     TEXT NOT NULL,
		bid_amount   BIGINT NOT NULL,
		previous_bid BIGINT NOT NULL,
		bid_time     TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_winning   BOOLEAN NOT NULL DEFAULT FALSE,
		CONSTRAINT bid_above_previous CHECK (bid_amount > previous_bid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_bid_time ON bids (bid_time DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_winner ON bids (table_id) WHERE is_winning`,
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE OR REPLACE FUNCTION notify_bidding_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object('type', TG_ARGV[0], 'id', NEW.id)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS tables_notify_change ON tables`,
	`CREATE TRIGGER tables_notify_change AFTER INSERT OR UPDATE ON tables
		FOR EACH ROW EXECUTE FUNCTION notify_bidding_change('table_updated')`,
	`DROP TRIGGER IF EXISTS bids_notify_insert ON bids`,
	`CREATE TRIGGER bids_notify_insert AFTER INSERT ON bids
		FOR EACH ROW EXECUTE FUNCTION notify_bidding_change('bid_inserted')`,
}

// RunMigrations creates the schema and the change-notification triggers
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	utils.Info("database migrations applied", map[string]any{"statements": len(migrations)})
	return nil
}
