// Package store is the durable source of truth for transactions, disasters,
// donations and users. The cache is strictly derived from it and disposable.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-relief/relay-go/models"
)

var ErrNotFound = errors.New("record not found")

const (
	// DefaultLimit applies when a list query does not specify one.
	DefaultLimit = 50
	// MaxLimit caps list queries regardless of what the caller asks for.
	MaxLimit = 500
)

// DB wraps a pgxpool.Pool for relay persistence.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a DB with the given connection parameters.
func NewDB(ctx context.Context, dsn string, minConns, maxConns int) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if minConns > 0 {
		config.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.HealthCheckPeriod = 60 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks database reachability.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ClampLimit normalizes a caller-supplied limit into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// RecordTransaction inserts a transfer keyed by its transaction hash. The hash
// is the idempotency key: redelivery of the same on-chain event (e.g. a replay
// after reconnect) must not create a second row. Returns inserted=false on a
// duplicate; callers broadcast only when inserted is true.
func (db *DB) RecordTransaction(ctx context.Context, tx models.Transaction) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		insert into transactions (tx_hash, from_address, to_address, token_id, amount, timestamp)
		values ($1, $2, $3, $4, $5::numeric, $6)
		on conflict (tx_hash) do nothing`,
		tx.TxHash,
		models.NormalizeAddress(tx.FromAddress),
		models.NormalizeAddress(tx.ToAddress),
		tx.TokenID,
		tx.Amount,
		tx.Timestamp,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertDisaster appends an externally reported incident. When the oracle
// supplies an external event id the insert is idempotent on it and inserted
// reports whether this delivery was the first; without an id every delivery
// creates a row, matching the reference oracle which sends none.
func (db *DB) InsertDisaster(ctx context.Context, d models.Disaster) (int64, bool, error) {
	if d.ExternalID != nil && *d.ExternalID != "" {
		var id int64
		err := db.Pool.QueryRow(ctx, `
			insert into disasters (external_id, location, magnitude, type, timestamp)
			values ($1, $2, $3, $4, $5)
			on conflict (external_id) do nothing
			returning id`,
			*d.ExternalID, d.Location, d.Magnitude, d.Type, d.Timestamp,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate delivery; fetch the existing row id.
			err = db.Pool.QueryRow(ctx,
				`select id from disasters where external_id = $1`, *d.ExternalID).Scan(&id)
			return id, false, err
		}
		return id, true, err
	}

	var id int64
	err := db.Pool.QueryRow(ctx, `
		insert into disasters (location, magnitude, type, timestamp)
		values ($1, $2, $3, $4)
		returning id`,
		d.Location, d.Magnitude, d.Type, d.Timestamp,
	).Scan(&id)
	return id, err == nil, err
}

// GetUser returns the user registered under the normalized address.
func (db *DB) GetUser(ctx context.Context, address string) (models.User, error) {
	var u models.User
	err := db.Pool.QueryRow(ctx, `
		select address, name, role, region, registered_at
		from users where address = $1`,
		models.NormalizeAddress(address),
	).Scan(&u.Address, &u.Name, &u.Role, &u.Region, &u.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// GetTransactions returns transfers involving the address, newest first.
func (db *DB) GetTransactions(ctx context.Context, address string, limit, offset int) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx, `
		select tx_hash, from_address, to_address, token_id, amount::text, timestamp
		from transactions
		where from_address = $1 or to_address = $1
		order by timestamp desc
		limit $2 offset $3`,
		models.NormalizeAddress(address), ClampLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.TxHash, &t.FromAddress, &t.ToAddress, &t.TokenID, &t.Amount, &t.Timestamp); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// GetDonations returns donations, optionally filtered by campaign, newest first.
func (db *DB) GetDonations(ctx context.Context, campaign string) ([]models.Donation, error) {
	query := `
		select id, donor, campaign, amount::text, timestamp
		from donations order by timestamp desc limit $1`
	args := []any{MaxLimit}
	if campaign != "" {
		query = `
		select id, donor, campaign, amount::text, timestamp
		from donations where campaign = $2 order by timestamp desc limit $1`
		args = append(args, campaign)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donations := []models.Donation{}
	for rows.Next() {
		var d models.Donation
		if err := rows.Scan(&d.ID, &d.Donor, &d.Campaign, &d.Amount, &d.Timestamp); err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

// GetDisasters returns the most recent incidents, newest first.
func (db *DB) GetDisasters(ctx context.Context, limit int) ([]models.Disaster, error) {
	rows, err := db.Pool.Query(ctx, `
		select id, external_id, location, magnitude, type, timestamp
		from disasters order by timestamp desc limit $1`,
		ClampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	disasters := []models.Disaster{}
	for rows.Next() {
		var d models.Disaster
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Location, &d.Magnitude, &d.Type, &d.Timestamp); err != nil {
			return nil, err
		}
		disasters = append(disasters, d)
	}
	return disasters, rows.Err()
}

// GetStats returns the aggregate counters for the stats endpoint.
func (db *DB) GetStats(ctx context.Context) (models.Stats, error) {
	var s models.Stats
	err := db.Pool.QueryRow(ctx, `
		select
			(select count(*) from users),
			(select count(*) from transactions),
			(select coalesce(sum(amount), 0)::text from donations),
			(select count(*) from disasters)`,
	).Scan(&s.TotalUsers, &s.TotalTransactions, &s.TotalDonations, &s.TotalDisasters)
	return s, err
}
