/**
 * @description
 * This is the main entry point for the payment echo bot. It is responsible
 * for initializing all components in strict order: configuration, the logger,
 * the PostgreSQL connection pool, the payment-channel client, the echo
 * responder with its event subscription, the balance reporter, and finally
 * the HTTP status server. A failure at any step before the server starts is
 * fatal to the process.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/rs/zerolog: Structured logging.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/channel: Client for the payment-channel node.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/channelpay/echo-bot/internal/api"
	"github.com/channelpay/echo-bot/internal/app"
	"github.com/channelpay/echo-bot/internal/config"
	"github.com/channelpay/echo-bot/internal/store"
	"github.com/channelpay/echo-bot/pkg/channel"
)

const unlockedQueuePrefix = "echo_bot.payment_unlocked."

func main() {
	// Malformed CLI input is rejected before any connection attempt.
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --log-level %q\n", cfg.LogLevel)
		os.Exit(2)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Int("port", cfg.Port).Msg("starting echo bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence handle. Pool tuning follows the simple-protocol setup we
	// run against pgbouncer elsewhere.
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("database url parse failed")
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer dbpool.Close()
	if err := dbpool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("database ping failed")
	}

	repository := store.NewPostgresRepository(dbpool)
	if err := repository.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("schema setup failed")
	}
	logger.Info().Msg("database connected")

	// Channel client. Constructed only after persistence is up; fails fast
	// on an unreachable chain or node endpoint.
	client, err := channel.NewClient(ctx, channel.Options{
		Store:        repository,
		Mnemonic:     cfg.Mnemonic,
		EthereumRPC:  cfg.EthereumRPC,
		MessagingURL: cfg.ConnextMessaging,
		NodeURL:      cfg.ConnextNode,
		Logger:       logger.With().Str("component", "channel").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("channel client construction failed")
	}
	defer client.Close()

	if balances, err := client.GetFreeBalance(ctx, channel.NativeAsset); err != nil {
		logger.Warn().Err(err).Msg("startup balance query failed")
	} else if own, ok := balances[client.FreeBalanceAddress()]; ok {
		logger.Info().Str("amount", own.String()).Msg("startup free balance")
	}

	// Echo responder.
	responder := app.NewEchoResponder(
		client,
		logger.With().Str("component", "echo").Logger(),
		cfg.EchoDelay,
		cfg.EchoConcurrency,
	)
	responder.Start(ctx)

	if cfg.ConnextMessaging != "" {
		queue := unlockedQueuePrefix + client.PublicIdentifier()
		if err := client.SubscribePaymentUnlocked(queue, responder.HandlePayment); err != nil {
			logger.Fatal().Err(err).Msg("event subscription failed")
		}
	} else {
		logger.Warn().Msg("no messaging endpoint configured; payment echo disabled")
	}

	// Balance reporter.
	var reporter *app.BalanceReporter
	if cfg.BalancePoll > 0 {
		reporter = app.NewBalanceReporter(
			client,
			repository,
			logger.With().Str("component", "balance").Logger(),
			cfg.BalancePoll,
		)
		if err := reporter.Start(); err != nil {
			logger.Fatal().Err(err).Msg("balance reporter start failed")
		}
	}

	// Status server.
	router := api.NewRouter(logger.With().Str("component", "http").Logger())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("status server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("status server stopped unexpectedly")
		}
	}()

	// Graceful shutdown.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutdown started")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("status server shutdown failed")
	}

	if reporter != nil {
		reporter.Stop()
	}
	cancel()
	responder.Stop()

	logger.Info().Msg("shutdown complete")
}
