/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It owns the SQL for the channel_states and balance_snapshots
 * tables.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelpay/echo-bot/internal/domain"
)

var ErrChannelStateNotFound = errors.New("channel state not found")

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the bot's tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channel_states (
			public_identifier TEXT PRIMARY KEY,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// NUMERIC(78,0) covers the full uint256 range of token amounts.
		`CREATE TABLE IF NOT EXISTS balance_snapshots (
			id UUID PRIMARY KEY,
			asset_id TEXT NOT NULL,
			holder TEXT NOT NULL,
			amount NUMERIC(78,0) NOT NULL,
			taken_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveChannelState upserts the latest node-reported state for a channel.
func (r *PostgresRepository) SaveChannelState(ctx context.Context, publicIdentifier string, state []byte) error {
	query := `
		INSERT INTO channel_states (public_identifier, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (public_identifier)
		DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	_, err := r.db.Exec(ctx, query, publicIdentifier, state)
	return err
}

// LatestChannelState returns the most recently stored state for a channel.
func (r *PostgresRepository) LatestChannelState(ctx context.Context, publicIdentifier string) ([]byte, error) {
	var state []byte
	query := `SELECT state FROM channel_states WHERE public_identifier = $1`
	err := r.db.QueryRow(ctx, query, publicIdentifier).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelStateNotFound
		}
		return nil, err
	}
	return state, nil
}

// SaveBalanceSnapshot inserts one observed free-balance entry.
func (r *PostgresRepository) SaveBalanceSnapshot(ctx context.Context, snapshot domain.BalanceSnapshot) error {
	query := `
		INSERT INTO balance_snapshots (id, asset_id, holder, amount, taken_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, query,
		snapshot.ID,
		snapshot.AssetID.Hex(),
		snapshot.Holder.Hex(),
		snapshot.Amount.String(),
		snapshot.TakenAt,
	)
	return err
}
