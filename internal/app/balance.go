/**
 * @description
 * Periodic free-balance reporter. On each tick it queries the channel's
 * native-asset free balance, logs the bot's own entry, and records a snapshot
 * row per holder. A failed tick is logged and skipped; the next tick retries
 * from scratch.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Tick scheduling.
 * - github.com/google/uuid: Snapshot identifiers.
 * - internal/domain, internal/store: Snapshot model and persistence.
 */

package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/channelpay/echo-bot/internal/domain"
	"github.com/channelpay/echo-bot/pkg/channel"
)

// BalanceReader is the slice of the channel client the reporter needs.
type BalanceReader interface {
	GetFreeBalance(ctx context.Context, assetID common.Address) (map[common.Address]*big.Int, error)
	FreeBalanceAddress() common.Address
}

// SnapshotStore persists balance observations.
type SnapshotStore interface {
	SaveBalanceSnapshot(ctx context.Context, snapshot domain.BalanceSnapshot) error
}

// BalanceReporter periodically snapshots the channel's free balance.
type BalanceReporter struct {
	client   BalanceReader
	repo     SnapshotStore
	log      zerolog.Logger
	interval time.Duration
	cron     *cron.Cron
}

// NewBalanceReporter creates a reporter ticking at the given interval.
func NewBalanceReporter(client BalanceReader, repo SnapshotStore, log zerolog.Logger, interval time.Duration) *BalanceReporter {
	return &BalanceReporter{
		client:   client,
		repo:     repo,
		log:      log,
		interval: interval,
		cron:     cron.New(),
	}
}

// Start registers the cron entry and begins ticking.
func (b *BalanceReporter) Start() error {
	spec := fmt.Sprintf("@every %s", b.interval)
	_, err := b.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.interval)
		defer cancel()
		if err := b.runOnce(ctx); err != nil {
			b.log.Error().Err(err).Msg("balance snapshot failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule balance snapshot: %w", err)
	}
	b.cron.Start()
	b.log.Info().Dur("interval", b.interval).Msg("balance reporter started")
	return nil
}

// Stop halts ticking and returns once any running tick has finished.
func (b *BalanceReporter) Stop() {
	ctx := b.cron.Stop()
	<-ctx.Done()
}

func (b *BalanceReporter) runOnce(ctx context.Context) error {
	balances, err := b.client.GetFreeBalance(ctx, channel.NativeAsset)
	if err != nil {
		return fmt.Errorf("query free balance: %w", err)
	}

	takenAt := time.Now().UTC()
	own := b.client.FreeBalanceAddress()
	for holder, amount := range balances {
		snapshot := domain.BalanceSnapshot{
			ID:      uuid.New(),
			AssetID: channel.NativeAsset,
			Holder:  holder,
			Amount:  amount,
			TakenAt: takenAt,
		}
		if err := b.repo.SaveBalanceSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("persist snapshot for %s: %w", holder.Hex(), err)
		}
		if holder == own {
			b.log.Info().
				Str("holder", holder.Hex()).
				Str("amount", amount.String()).
				Msg("own free balance")
		}
	}
	return nil
}
