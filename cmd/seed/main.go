package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"studydesk/internal/config"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/repository/postgres"
	pgTree "studydesk/internal/repository/postgres/tree"
	"studydesk/internal/repository/sqlite"
	"studydesk/internal/seed"
)

func main() {
	fixtures := flag.String("fixtures", "fixtures/demo.yaml", "Comma-separated fixture files to load")
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before seeding (fresh start, postgres only)")
	schemaOnly := flag.Bool("schema-only", false, "Only set up schema, don't load fixtures")
	clearData := flag.Bool("clear-data", false, "Clear each fixture owner's items before loading (postgres only)")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && (*dropTables || *clearData) {
		log.Fatalf("BLOCKED: cannot run destructive operations (--drop-tables or --clear-data) in production")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx := context.Background()

	// Validate every fixture before touching the database
	var loaded []*seed.Fixture
	if !*schemaOnly {
		var err error
		loaded, err = seed.LoadAll(ctx, strings.Split(*fixtures, ","))
		if err != nil {
			log.Fatalf("Failed to load fixtures: %v", err)
		}
	}

	var gw treeRepo.PersistenceGateway
	switch cfg.GatewayDriver {
	case config.DriverPostgres:
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		tables := postgres.NewTableNames(cfg.TablePrefix)

		if *dropTables {
			logger.Info("dropping tables", "prefix", cfg.TablePrefix)
			if err := postgres.DropSchema(ctx, pool, tables); err != nil {
				log.Fatalf("Failed to drop tables: %v", err)
			}
		}
		if err := postgres.EnsureSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
			log.Fatalf("Failed to run schema: %v", err)
		}
		logger.Info("schema ready", "prefix", cfg.TablePrefix)

		if *clearData {
			for _, f := range loaded {
				if err := postgres.ClearOwner(ctx, pool, tables, f.Owner); err != nil {
					log.Fatalf("Failed to clear data for %s: %v", f.Owner, err)
				}
			}
		}
		gw = pgTree.NewGateway(&postgres.RepositoryConfig{Pool: pool, Tables: tables, Logger: logger})

	case config.DriverSQLite:
		sq, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			log.Fatalf("Failed to open sqlite: %v", err)
		}
		defer sq.Close()
		gw = sq

	default:
		log.Fatalf("GATEWAY_DRIVER=%s has nothing to seed; use postgres or sqlite", cfg.GatewayDriver)
	}

	if *schemaOnly {
		logger.Info("schema setup complete (schema-only mode)")
		return
	}

	total := 0
	for _, f := range loaded {
		n, err := seed.Apply(ctx, gw, f, logger)
		total += n
		if err != nil {
			log.Fatalf("Failed to apply fixture for %s: %v", f.Owner, err)
		}
	}
	logger.Info("seeding complete", "fixtures", len(loaded), "items", total)
}
