package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"studydesk/internal/config"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/handler"
	"studydesk/internal/handler/sse"
	"studydesk/internal/metrics"
	"studydesk/internal/middleware"
	"studydesk/internal/repository/memory"
	"studydesk/internal/repository/postgres"
	pgTree "studydesk/internal/repository/postgres/tree"
	"studydesk/internal/repository/sqlite"
	"studydesk/internal/service/session"
	"studydesk/internal/service/tree"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, logFile, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"gateway_driver", cfg.GatewayDriver,
		"table_prefix", cfg.TablePrefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, closeGateway, err := openGateway(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open gateway: %v", err)
	}
	defer closeGateway()

	sessions := session.NewManager(
		metrics.InstrumentGateway(gateway),
		tree.Options{
			GatewayTimeout:   cfg.GatewayTimeout,
			RefreshOnConfirm: cfg.RefreshOnConfirm,
		},
		cfg.SessionIdleTimeout,
		logger,
	)

	sseConfig := sse.DefaultConfig()
	sseConfig.EventIDs = cfg.Debug
	treeHandler := handler.NewTreeHandler(sessions, sseConfig, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.HealthCheck(sessions))
	mux.Handle("GET /metrics", metrics.Handler())
	treeHandler.Register(mux, middleware.Owner)

	// Order: CORS → Recovery → Logging → Metrics → Routes
	var h http.Handler = mux
	h = metrics.Middleware(h)
	h = middleware.RequestLogger(logger)(h)
	h = middleware.Recovery(logger)(h)

	// CORS - outermost so OPTIONS pre-flight requests never reach the owner check
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID", "X-Owner-ID"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		// Lets queued gateway calls settle before the gateway closes
		return sessions.CloseAll(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// openGateway builds the configured persistence backend and its cleanup
func openGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (treeRepo.PersistenceGateway, func(), error) {
	switch cfg.GatewayDriver {
	case config.DriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		tables := postgres.NewTableNames(cfg.TablePrefix)
		if err := postgres.EnsureSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database connected", "max_conns", pool.Config().MaxConns)

		gw := pgTree.NewGateway(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: tables,
			Logger: logger,
		})
		return gw, pool.Close, nil

	case config.DriverSQLite:
		gw, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, func() { gw.Close() }, nil

	default:
		logger.Warn("using in-memory gateway: data is lost on restart")
		return memory.NewGateway(), func() {}, nil
	}
}
