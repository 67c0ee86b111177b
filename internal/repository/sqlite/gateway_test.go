package sqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/repository/gatewaytest"
)

func openTest(t *testing.T, path string) *Gateway {
	t.Helper()
	gw, err := Open(context.Background(), path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestGatewayContract(t *testing.T) {
	gatewaytest.Run(t, openTest(t, ":memory:"))
}

func TestGatewayPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	ctx := context.Background()

	gw, err := Open(ctx, path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	id, err := gw.CreateFolder(ctx, &treeRepo.CreateRequest{ID: "lectures", OwnerID: "owner-1", Name: "Lectures"})
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	reopened := openTest(t, path)
	forest, err := reopened.ListTree(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, id, forest[0].ID)
	assert.Equal(t, "Lectures", forest[0].Name)
}
