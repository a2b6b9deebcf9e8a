// server runs the auth/session HTTP API, the gRPC health service and, unless SWEEPER_ENABLED=false,
// the refresh token sweeper.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"authsessions/backend/internal/audit"
	audithandler "authsessions/backend/internal/audit/handler"
	auditrepo "authsessions/backend/internal/audit/repository"
	authhandler "authsessions/backend/internal/auth/handler"
	"authsessions/backend/internal/auth/service"
	"authsessions/backend/internal/config"
	"authsessions/backend/internal/db"
	healthhandler "authsessions/backend/internal/health/handler"
	"authsessions/backend/internal/security"
	"authsessions/backend/internal/server"
	"authsessions/backend/internal/server/middleware"
	sessionrepo "authsessions/backend/internal/session/repository"
	"authsessions/backend/internal/session/sweeper"
	telemetry "authsessions/backend/internal/telemetry/otel"
	userrepo "authsessions/backend/internal/user/repository"
)

const (
	instrumentationName = "authsessions"
	shutdownTimeout     = 15 * time.Second
)

// ledger is the session store as both the auth service and the sweeper use it.
type ledger interface {
	service.SessionRepo
	sweeper.Purger
}

type stores struct {
	users    service.UserRepo
	sessions ledger
	audit    auditrepo.Repository
	pinger   healthhandler.Pinger
	close    func()
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.LedgerBackend == config.LedgerMemory {
		log.Warn().Msg("LEDGER_BACKEND=memory: users, sessions and audit logs are lost on restart")
		return &stores{
			users:    userrepo.NewMemoryRepository(),
			sessions: sessionrepo.NewMemoryRepository(),
			audit:    auditrepo.NewMemoryRepository(),
			close:    func() {},
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{
		users:    userrepo.NewPostgresRepository(conn),
		sessions: sessionrepo.NewPostgresRepository(conn),
		audit:    auditrepo.NewPostgresRepository(conn),
		pinger:   conn,
		close:    func() { _ = conn.Close() },
	}, nil
}

func callerID(ctx context.Context) string {
	id, _ := middleware.GetUserID(ctx)
	return id
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetry")
	}
	providers.SetGlobal()
	if err := telemetry.SetupLogging(cfg.LogLevel, cfg.ServiceName, providers.LoggerProvider); err != nil {
		log.Fatal().Err(err).Msg("logging")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	tokens, err := security.NewTokenProvider([]byte(cfg.SecretKey), cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("token provider")
	}

	st, err := openStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("db")
	}
	defer st.close()

	meter := providers.MeterProvider.Meter(instrumentationName)
	auditLogger := audit.NewLogger(st.audit,
		audit.WithIPExtractor(middleware.ClientIP),
		audit.WithCallerExtractor(callerID),
		audit.WithEmitter(providers.LoggerProvider.Logger(instrumentationName+"/audit")),
	)
	svc, err := service.NewAuthService(st.users, st.sessions, security.NewHasher(cfg.BcryptCost), tokens,
		service.WithMaxActiveSessions(cfg.MaxActiveSessions),
		service.WithAuditLogger(auditLogger),
		service.WithMeter(meter),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	health := healthhandler.NewServer(st.pinger)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewHTTPHandler(server.HTTPDeps{
			Auth:           authhandler.NewHandler(svc, authhandler.CookieConfig{Production: cfg.IsProduction(), MaxAge: cfg.RefreshTTL()}),
			Health:         health,
			Audit:          audithandler.NewHandler(st.audit),
			Tokens:         tokens,
			Users:          st.users,
			ServiceName:    cfg.ServiceName,
			TracerProvider: providers.TracerProvider,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.SweeperEnabled {
		locker := sweeper.Locker(sweeper.LocalLocker{})
		if cfg.RedisURL != "" {
			client, err := sweeper.NewRedisClient(ctx, cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("redis")
			}
			defer client.Close()
			locker = sweeper.NewRedisLocker(client)
		}
		sw, err := sweeper.New(st.sessions, cfg.SweepEvery(),
			sweeper.WithLocker(locker),
			sweeper.WithMeter(meter),
			sweeper.WithRunOnStart(cfg.SweepOnStart),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("sweeper")
		}
		go sw.Run(ctx)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcStop func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("listen")
		}
		grpcServer := server.NewGRPCServer(server.GRPCDeps{Health: health})
		grpcStop = grpcServer.GracefulStop
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("gRPC health server listening")
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("serve")
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	if grpcStop != nil {
		grpcStop()
	}
	log.Info().Msg("server stopped")
}
