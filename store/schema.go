package store

import "context"

// Schema DDL is idempotent so the relay can bootstrap an empty database when
// started with -init-schema. Production deployments manage the schema
// externally and skip this.
var schema = []string{
	`create table if not exists users (
		address text primary key,
		name text not null default '',
		role text not null default '',
		region text not null default '',
		registered_at timestamptz not null default now()
	)`,
	`create table if not exists transactions (
		tx_hash text primary key,
		from_address text not null,
		to_address text not null,
		token_id bigint not null,
		amount numeric not null,
		timestamp timestamptz not null default now()
	)`,
	`create index if not exists transactions_from_address_idx on transactions (from_address, timestamp desc)`,
	`create index if not exists transactions_to_address_idx on transactions (to_address, timestamp desc)`,
	`create table if not exists donations (
		id bigserial primary key,
		donor text not null,
		campaign text not null,
		amount numeric not null,
		timestamp timestamptz not null default now()
	)`,
	`create index if not exists donations_campaign_idx on donations (campaign, timestamp desc)`,
	`create table if not exists disasters (
		id bigserial primary key,
		external_id text unique,
		location text not null,
		magnitude double precision not null,
		type text not null,
		timestamp timestamptz not null default now()
	)`,
}

// EnsureSchema creates the relay tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
