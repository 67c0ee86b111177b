// Package session keeps one tree controller per owner. Each session is an
// explicitly constructed Store and Controller pair, loaded from the gateway
// when the owner first shows up and closed after it has been idle.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	treeRepo "studydesk/internal/domain/repositories/tree"
	treeSvc "studydesk/internal/domain/services/tree"
	"studydesk/internal/metrics"
	"studydesk/internal/service/tree"
)

// Manager opens, caches and expires owner sessions
type Manager struct {
	gateway treeRepo.PersistenceGateway
	opts    tree.Options
	idle    time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	ctrl     treeSvc.TreeController
	lastUsed time.Time
}

// NewManager creates a session manager. idle <= 0 disables expiry.
func NewManager(gateway treeRepo.PersistenceGateway, opts tree.Options, idle time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		gateway:  gateway,
		opts:     opts,
		idle:     idle,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Get returns the owner's controller, opening and loading it on first use.
// Concurrent first requests for one owner share a single load.
func (m *Manager) Get(ctx context.Context, ownerID string) (treeSvc.TreeController, error) {
	if ctrl, ok, err := m.lookup(ownerID); ok || err != nil {
		return ctrl, err
	}

	v, err, _ := m.group.Do(ownerID, func() (any, error) {
		if ctrl, ok, err := m.lookup(ownerID); ok || err != nil {
			return ctrl, err
		}
		return m.open(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(treeSvc.TreeController), nil
}

func (m *Manager) lookup(ownerID string) (treeSvc.TreeController, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, tree.ErrClosed
	}
	s, ok := m.sessions[ownerID]
	if !ok {
		return nil, false, nil
	}
	s.lastUsed = m.now()
	return s.ctrl, true, nil
}

func (m *Manager) open(ctx context.Context, ownerID string) (treeSvc.TreeController, error) {
	store := tree.NewStore(ownerID)
	ctrl := tree.NewController(store, m.gateway, m.opts, m.logger)

	// The load is shared, so one caller going away must not fail the others
	if err := ctrl.Refresh(ctx).Wait(context.WithoutCancel(ctx)); err != nil {
		ctrl.Close()
		return nil, fmt.Errorf("open session for %s: %w", ownerID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		ctrl.Close()
		return nil, tree.ErrClosed
	}
	m.sessions[ownerID] = &session{ctrl: ctrl, lastUsed: m.now()}
	metrics.SetSessionsActive(len(m.sessions))

	m.logger.Info("session opened", "owner_id", ownerID, "items", store.Len())
	return ctrl, nil
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the idle timeout
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var expired []treeSvc.TreeController
	for owner, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			expired = append(expired, s.ctrl)
			delete(m.sessions, owner)
			m.logger.Info("session expired", "owner_id", owner)
		}
	}
	metrics.SetSessionsActive(len(m.sessions))
	m.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close()
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done
func (m *Manager) Run(ctx context.Context) {
	if m.idle <= 0 {
		return
	}
	interval := m.idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll stops accepting new sessions and drains every open one in parallel
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	metrics.SetSessionsActive(0)
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for owner, s := range sessions {
		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- s.ctrl.Close() }()
			select {
			case err := <-done:
				if err != nil {
					return fmt.Errorf("close session %s: %w", owner, err)
				}
				return nil
			case <-ctx.Done():
				return fmt.Errorf("close session %s: %w", owner, ctx.Err())
			}
		})
	}
	return g.Wait()
}
