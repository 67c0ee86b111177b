package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/repository/memory"
	"studydesk/internal/service/tree"
)

// countingGateway counts tree loads and can be told to fail them
type countingGateway struct {
	*memory.Gateway
	loads atomic.Int32
	fail  atomic.Bool
}

func (g *countingGateway) ListTree(ctx context.Context, ownerID string) (models.Forest, error) {
	g.loads.Add(1)
	if g.fail.Load() {
		return nil, errors.New("backend unavailable")
	}
	// Long enough for concurrent first requests to pile up
	time.Sleep(10 * time.Millisecond)
	return g.Gateway.ListTree(ctx, ownerID)
}

func newTestManager(gw treeRepo.PersistenceGateway, idle time.Duration) *Manager {
	return NewManager(gw, tree.Options{}, idle, slog.New(slog.DiscardHandler))
}

func TestGetLoadsOnce(t *testing.T) {
	gw := &countingGateway{Gateway: memory.NewGateway()}
	_, err := gw.Gateway.CreateFolder(context.Background(), &treeRepo.CreateRequest{ID: "lectures", OwnerID: "owner-1", Name: "Lectures"})
	require.NoError(t, err)

	m := newTestManager(gw, 0)
	defer m.CloseAll(context.Background())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl, err := m.Get(context.Background(), "owner-1")
			assert.NoError(t, err)
			if ctrl != nil {
				_, ok := ctrl.FindItemByID("lectures")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), gw.loads.Load())
	assert.Equal(t, 1, m.Len())

	first, err := m.Get(context.Background(), "owner-1")
	require.NoError(t, err)
	second, err := m.Get(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGetFailedLoad(t *testing.T) {
	gw := &countingGateway{Gateway: memory.NewGateway()}
	gw.fail.Store(true)
	m := newTestManager(gw, 0)
	defer m.CloseAll(context.Background())

	_, err := m.Get(context.Background(), "owner-1")
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	assert.Equal(t, 0, m.Len())

	// The next request tries again
	gw.fail.Store(false)
	_, err = m.Get(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	m := newTestManager(memory.NewGateway(), time.Minute)
	defer m.CloseAll(context.Background())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale, err := m.Get(context.Background(), "stale")
	require.NoError(t, err)
	now = now.Add(45 * time.Second)
	_, err = m.Get(context.Background(), "fresh")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())

	_, _, err = stale.CreateFolder(context.Background(), "Late", nil)
	assert.ErrorIs(t, err, tree.ErrClosed)
}

func TestCloseAll(t *testing.T) {
	m := newTestManager(memory.NewGateway(), 0)

	ctrl, err := m.Get(context.Background(), "owner-1")
	require.NoError(t, err)
	_, p, err := ctrl.CreateFolder(context.Background(), "Lectures", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.CloseAll(ctx))

	require.NoError(t, p.Err(), "queued intents settle before close returns")
	assert.Equal(t, 0, m.Len())

	_, err = m.Get(context.Background(), "owner-1")
	assert.ErrorIs(t, err, tree.ErrClosed)
}
