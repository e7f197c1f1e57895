package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"table-bidding/internal/biddingerrors"
	model "table-bidding/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tableColumns = `id, name, category, pax, base_price, current_bid, highest_bidder_username,
	bid_count, version, is_active, bidding_starts_at, bidding_ends_at, created_at, updated_at`

const bidColumns = `id, table_id, user_id, username, bid_amount, previous_bid, bid_time, is_winning`

// PostgresRepo implements AuctionDB, UserStore and EventAdmin on a pgx pool
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens and pings a connection pool
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresRepo wraps an open pool
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// Close releases the pool
func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func scanTable(row pgx.Row) (model.Table, error) {
	var t model.Table
	var category string
	err := row.Scan(&t.ID, &t.Name, &category, &t.Pax, &t.BasePrice, &t.CurrentBid, &t.HighestBidderUsername,
		&t.BidCount, &t.Version, &t.IsActive, &t.BiddingStartsAt, &t.BiddingEndsAt, &t.CreatedAt, &t.UpdatedAt)
	t.Category = model.Category(category)
	return t, err
}

func scanBid(row pgx.Row) (model.Bid, error) {
	var b model.Bid
	err := row.Scan(&b.BidID, &b.TableID, &b.UserID, &b.Username, &b.Amount, &b.PreviousBid, &b.BidTime, &b.IsWinning)
	return b, err
}

// ListTables returns all tables ordered by id
func (r *PostgresRepo) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tableColumns+` FROM tables ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []model.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// GetTable returns a single table
func (r *PostgresRepo) GetTable(ctx context.Context, tableID string) (model.Table, error) {
	t, err := scanTable(r.pool.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1`, tableID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Table{}, fmt.Errorf("get table %s: %w", tableID, biddingerrors.ErrTableNotFound)
	}
	if err != nil {
		return model.Table{}, fmt.Errorf("get table %s: %w", tableID, err)
	}
	return t, nil
}

// ApplyBid updates the table with a version compare-and-swap, clears the previous
// winner and inserts the new bid in one transaction.
func (r *PostgresRepo) ApplyBid(ctx context.Context, expectedVersion int64, bid model.Bid) (model.Table, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Table{}, fmt.Errorf("apply bid: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := scanTable(tx.QueryRow(ctx, `
		UPDATE tables
		SET current_bid = $3,
		    highest_bidder_username = $4,
		    bid_count = bid_count + 1,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING `+tableColumns,
		bid.TableID, expectedVersion, bid.Amount, bid.Username,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tables WHERE id = $1)`, bid.TableID).Scan(&exists); qerr != nil {
			return model.Table{}, fmt.Errorf("apply bid on table %s: %w", bid.TableID, qerr)
		}
		if !exists {
			return model.Table{}, fmt.Errorf("apply bid on table %s: %w", bid.TableID, biddingerrors.ErrTableNotFound)
		}
		return model.Table{}, fmt.Errorf("apply bid on table %s (want version %d): %w",
			bid.TableID, expectedVersion, biddingerrors.ErrVersionConflict)
	}
	if err != nil {
		return model.Table{}, fmt.Errorf("apply bid on table %s: %w", bid.TableID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE table_id = $1 AND is_winning`, bid.TableID); err != nil {
		return model.Table{}, fmt.Errorf("clear winning bid on table %s: %w", bid.TableID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`,
		bid.BidID, bid.TableID, bid.UserID, bid.Username, bid.Amount, bid.PreviousBid, bid.BidTime,
	); err != nil {
		return model.Table{}, fmt.Errorf("insert bid on table %s: %w", bid.TableID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Table{}, fmt.Errorf("apply bid on table %s: commit: %w", bid.TableID, err)
	}
	return updated, nil
}

// GetRecentBids returns up to limit bids, most recent first
func (r *PostgresRepo) GetRecentBids(ctx context.Context, limit int) ([]model.Bid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids ORDER BY bid_time DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent bids: %w", err)
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent bids: %w", err)
	}
	return bids, nil
}

// GetBid returns a single bid by id
func (r *PostgresRepo) GetBid(ctx context.Context, bidID string) (model.Bid, error) {
	b, err := scanBid(r.pool.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, err)
	}
	return b, nil
}

// GetWinningBid returns the bid currently marked as winning on a table
func (r *PostgresRepo) GetWinningBid(ctx context.Context, tableID string) (model.Bid, error) {
	b, err := scanBid(r.pool.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE table_id = $1 AND is_winning`, tableID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get winning bid for table %s: %w", tableID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get winning bid for table %s: %w", tableID, err)
	}
	return b, nil
}

// GetHighestBidTable returns the active table with the highest current bid
func (r *PostgresRepo) GetHighestBidTable(ctx context.Context) (model.Table, error) {
	t, err := scanTable(r.pool.QueryRow(ctx, `SELECT `+tableColumns+`
		FROM tables WHERE is_active ORDER BY current_bid DESC, id ASC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Table{}, fmt.Errorf("get highest bid table: %w", biddingerrors.ErrNoActiveTables)
	}
	if err != nil {
		return model.Table{}, fmt.Errorf("get highest bid table: %w", err)
	}
	return t, nil
}

// GetUserByUsername returns a user account
func (r *PostgresRepo) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("get user %s: %w", username, biddingerrors.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

// UpsertUser creates a user or replaces its password hash
func (r *PostgresRepo) UpsertUser(ctx context.Context, user model.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		user.UserID, user.Username, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.Username, err)
	}
	return nil
}

// UpsertTable seeds a table or refreshes its static attributes, keeping bidding state
func (r *PostgresRepo) UpsertTable(ctx context.Context, t model.Table) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tables (id, name, category, pax, base_price, current_bid, is_active, bidding_starts_at, bidding_ends_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			pax = EXCLUDED.pax,
			base_price = EXCLUDED.base_price,
			current_bid = GREATEST(tables.current_bid, EXCLUDED.base_price),
			is_active = EXCLUDED.is_active,
			bidding_starts_at = EXCLUDED.bidding_starts_at,
			bidding_ends_at = EXCLUDED.bidding_ends_at,
			version = tables.version + 1,
			updated_at = now()`,
		t.ID, t.Name, string(t.Category), t.Pax, t.BasePrice, t.IsActive, t.BiddingStartsAt, t.BiddingEndsAt)
	if err != nil {
		return fmt.Errorf("upsert table %s: %w", t.ID, err)
	}
	return nil
}

// SetWindow assigns the same window to every table
func (r *PostgresRepo) SetWindow(ctx context.Context, startsAt, endsAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tables SET bidding_starts_at = $1, bidding_ends_at = $2, version = version + 1, updated_at = now()`,
		startsAt.UTC(), endsAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("set window: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExtendWindow pushes every table's end time out by the given duration
func (r *PostgresRepo) ExtendWindow(ctx context.Context, by time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tables SET bidding_ends_at = bidding_ends_at + make_interval(secs => $1),
			version = version + 1, updated_at = now()
		WHERE bidding_ends_at IS NOT NULL`,
		by.Seconds())
	if err != nil {
		return 0, fmt.Errorf("extend window: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActivateAll marks every table active
func (r *PostgresRepo) ActivateAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tables SET is_active = TRUE, version = version + 1, updated_at = now() WHERE NOT is_active`)
	if err != nil {
		return 0, fmt.Errorf("activate tables: %w", err)
	}
	return tag.RowsAffected(), nil
}
