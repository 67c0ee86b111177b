package tree

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"studydesk/internal/repository/gatewaytest"
	"studydesk/internal/repository/postgres"
)

// Runs against a real database when TEST_DATABASE_URL is set. Tables get a
// throwaway prefix and are dropped afterwards.
func TestGatewayContract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := postgres.CreateConnectionPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	prefix := "test_" + uuid.NewString()[:8] + "_"
	tables := postgres.NewTableNames(prefix)
	require.NoError(t, postgres.EnsureSchema(ctx, pool, tables, prefix))
	t.Cleanup(func() { _ = postgres.DropSchema(context.Background(), pool, tables) })

	gatewaytest.Run(t, NewGateway(&postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: slog.New(slog.DiscardHandler),
	}))
}
