/**
 * @description
 * This file defines the `Repository` interface for the echo bot's data access.
 * The channel client uses it as its persistence handle (channel state records)
 * and the balance reporter uses it to record free-balance snapshots. Keeping
 * this behind an interface decouples the client and reporter from PostgreSQL
 * and lets tests substitute stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: The bot's domain models.
 */

package store

import (
	"context"

	"github.com/channelpay/echo-bot/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// EnsureSchema creates the bot's tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// Channel state records, keyed by the node-assigned public identifier.
	SaveChannelState(ctx context.Context, publicIdentifier string, state []byte) error
	LatestChannelState(ctx context.Context, publicIdentifier string) ([]byte, error)

	// Balance snapshot records.
	SaveBalanceSnapshot(ctx context.Context, snapshot domain.BalanceSnapshot) error
}
