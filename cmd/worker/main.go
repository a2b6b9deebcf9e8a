// worker runs the refresh token sweeper as its own process against the Postgres ledger.
// Run it with SWEEPER_ENABLED=false on the API servers; with REDIS_URL set, several workers share one lease.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/config"
	"authsessions/backend/internal/db"
	sessionrepo "authsessions/backend/internal/session/repository"
	"authsessions/backend/internal/session/sweeper"
	telemetry "authsessions/backend/internal/telemetry/otel"
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "Run a single purge pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if cfg.LedgerBackend != config.LedgerPostgres {
		log.Fatal().Str("ledger", cfg.LedgerBackend).Msg("worker: the sweeper worker needs the postgres ledger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry")
	}
	providers.SetGlobal()
	if err := telemetry.SetupLogging(cfg.LogLevel, cfg.ServiceName+"-worker", providers.LoggerProvider); err != nil {
		log.Fatal().Err(err).Msg("logging")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer conn.Close()

	opts := []sweeper.Option{
		sweeper.WithMeter(providers.MeterProvider.Meter("authsessions")),
		sweeper.WithRunOnStart(cfg.SweepOnStart),
	}
	if cfg.RedisURL != "" {
		client, err := sweeper.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis")
		}
		defer client.Close()
		opts = append(opts, sweeper.WithLocker(sweeper.NewRedisLocker(client)))
	}

	sw, err := sweeper.New(sessionrepo.NewPostgresRepository(conn), cfg.SweepEvery(), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("sweeper")
	}

	if *once {
		if _, err := sw.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("worker: purge failed")
			return 1
		}
		return 0
	}
	sw.Run(ctx)
	log.Info().Msg("worker: stopped")
	return 0
}
