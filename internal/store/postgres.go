package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/confirm"
)

// PoolConfig tunes the connection pool. Zero values keep pgx defaults.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS validated_addresses (
	id                 TEXT PRIMARY KEY,
	original_address   TEXT NOT NULL,
	normalized_address TEXT,
	confidence_score   INTEGER NOT NULL,
	confidence_level   TEXT NOT NULL,
	country            TEXT NOT NULL,
	contact_number     TEXT,
	payload            JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS address_confirmations (
	reference    TEXT PRIMARY KEY,
	result_id    TEXT NOT NULL,
	action_type  TEXT NOT NULL,
	state        TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ,
	payload      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS address_confirmations_result_idx ON address_confirmations (result_id);
CREATE INDEX IF NOT EXISTS address_confirmations_state_idx ON address_confirmations (state);
`

// Postgres stores results and confirmations as JSONB rows with the columns
// needed for lookups broken out.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps pool. The Postgres store owns the pool and closes it.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) SaveResult(ctx context.Context, res *address.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO validated_addresses
			(id, original_address, normalized_address, confidence_score, confidence_level, country, contact_number, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, res.ID, res.OriginalAddress, res.NormalizedAddress, res.ConfidenceScore,
		string(res.ConfidenceLevel), res.Country, res.Contact, payload, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("save result %s: %w", res.ID, err)
	}
	return nil
}

func (p *Postgres) Result(ctx context.Context, id string) (*address.Result, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM validated_addresses WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", id, err)
	}

	var res address.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", id, err)
	}
	return &res, nil
}

func (p *Postgres) Tally(ctx context.Context) (Tally, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT COALESCE(payload->>'model', ''),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE payload->>'completeness' = 'Complete')
		FROM validated_addresses
		GROUP BY 1
	`)
	if err != nil {
		return Tally{}, fmt.Errorf("tally results: %w", err)
	}
	defer rows.Close()

	t := Tally{ByModel: make(map[string]int)}
	for rows.Next() {
		var (
			model           string
			total, complete int
		)
		if err := rows.Scan(&model, &total, &complete); err != nil {
			return Tally{}, fmt.Errorf("scan tally: %w", err)
		}
		t.Total += total
		t.Complete += complete
		t.ByModel[modelKey(model)] += total
	}
	if err := rows.Err(); err != nil {
		return Tally{}, fmt.Errorf("tally results: %w", err)
	}
	return t, nil
}

// SaveConfirmation upserts rec. A confirmed row is never overwritten.
func (p *Postgres) SaveConfirmation(ctx context.Context, rec confirm.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO address_confirmations
			(reference, result_id, action_type, state, triggered_at, confirmed_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (reference) DO UPDATE
			SET state = EXCLUDED.state,
			    confirmed_at = EXCLUDED.confirmed_at,
			    payload = EXCLUDED.payload
			WHERE address_confirmations.state <> 'confirmed'
	`, rec.Reference, rec.ResultID, string(rec.Action), string(rec.State), rec.TriggeredAt, rec.ConfirmedAt, payload)
	if err != nil {
		return fmt.Errorf("save confirmation %s: %w", rec.Reference, err)
	}
	return nil
}

func (p *Postgres) Confirmation(ctx context.Context, reference string) (confirm.Record, error) {
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM address_confirmations WHERE reference = $1`, reference).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return confirm.Record{}, fmt.Errorf("%w: %s", confirm.ErrNotFound, reference)
	}
	if err != nil {
		return confirm.Record{}, fmt.Errorf("load confirmation %s: %w", reference, err)
	}
	return decodeRecord(payload)
}

func (p *Postgres) ConfirmationsByResult(ctx context.Context, resultID string) ([]confirm.Record, error) {
	return p.queryRecords(ctx, `
		SELECT payload FROM address_confirmations
		WHERE result_id = $1
		ORDER BY triggered_at, reference
	`, resultID)
}

func (p *Postgres) PendingConfirmations(ctx context.Context) ([]confirm.Record, error) {
	return p.queryRecords(ctx, `
		SELECT payload FROM address_confirmations
		WHERE state = $1
		ORDER BY triggered_at, reference
	`, string(confirm.StateTriggered))
}

func (p *Postgres) queryRecords(ctx context.Context, sql string, args ...any) ([]confirm.Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query confirmations: %w", err)
	}
	defer rows.Close()

	var out []confirm.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func decodeRecord(payload []byte) (confirm.Record, error) {
	var rec confirm.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return confirm.Record{}, fmt.Errorf("decode confirmation: %w", err)
	}
	return rec, nil
}
