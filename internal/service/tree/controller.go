package tree

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"studydesk/internal/config"
	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
	treeSvc "studydesk/internal/domain/services/tree"
	"studydesk/internal/metrics"

	"github.com/google/uuid"
)

// ErrClosed is returned by intents issued after Close
var ErrClosed = errors.New("tree controller closed")

// Options tunes a controller
type Options struct {
	// GatewayTimeout bounds each persistence call
	GatewayTimeout time.Duration
	// RefreshOnConfirm re-reads the tree after a confirmed mutation when no
	// other intent is waiting
	RefreshOnConfirm bool
	// EventBuffer is the per-subscriber event buffer
	EventBuffer int
}

func (o Options) withDefaults() Options {
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = config.DefaultGatewayTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = config.DefaultEventBuffer
	}
	return o
}

// controller implements treeSvc.TreeController on top of a Store
type controller struct {
	store   *Store
	gateway treeRepo.PersistenceGateway
	opts    Options
	logger  *slog.Logger
	newID   func() string

	dispatcher *dispatcher

	// intents is held from the store mutation through the enqueue, and while
	// a gateway id is adopted, so jobs reach the dispatcher in the order
	// their changes hit the store
	intents sync.Mutex

	mu      sync.Mutex
	aliases map[string]string // proposed id -> gateway id
	lastErr error
	loading int
	resync  bool

	events *broadcaster
}

// NewController creates a controller for store and starts its dispatcher.
// The store should already hold the owner's forest, or be refreshed first.
func NewController(
	store *Store,
	gateway treeRepo.PersistenceGateway,
	opts Options,
	logger *slog.Logger,
) treeSvc.TreeController {
	opts = opts.withDefaults()
	c := &controller{
		store:   store,
		gateway: gateway,
		opts:    opts,
		logger:  logger.With("owner_id", store.OwnerID()),
		newID:   func() string { return uuid.NewString() },
		aliases: make(map[string]string),
		events:  newBroadcaster(opts.EventBuffer),
	}
	c.dispatcher = newDispatcher(c.execute)
	return c
}

// ============================================================================
// Intents
// ============================================================================

// CreateFolder creates a folder at the end of parentID's children (nil = root)
func (c *controller) CreateFolder(ctx context.Context, name string, parentID *string) (*models.Node, *treeSvc.Pending, error) {
	return c.create(ctx, models.TypeFolder, name, parentID, "")
}

// CreateDocument creates a document; an empty kind is inferred from the name
func (c *controller) CreateDocument(ctx context.Context, name string, parentID *string, kind models.FileKind) (*models.Node, *treeSvc.Pending, error) {
	return c.create(ctx, models.TypeDocument, name, parentID, kind)
}

func (c *controller) create(ctx context.Context, typ models.NodeType, name string, parentID *string, kind models.FileKind) (*models.Node, *treeSvc.Pending, error) {
	c.intents.Lock()
	defer c.intents.Unlock()
	if c.dispatcher.isClosed() {
		return nil, nil, ErrClosed
	}
	id := c.newID()
	parentID = c.resolvePtr(parentID)
	node, ch, err := c.store.Insert(models.Node{
		ID:      id,
		OwnerID: c.store.OwnerID(),
		Type:    typ,
		Name:    name,
		Kind:    kind,
	}, parentID, "")
	if err != nil {
		return nil, nil, c.reject("create_"+string(typ), err)
	}

	op := "create_" + string(typ)
	req := &treeRepo.CreateRequest{
		ID:       id,
		OwnerID:  node.OwnerID,
		Name:     node.Name,
		ParentID: models.CloneID(node.ParentID),
		Kind:     node.Kind,
	}
	p := treeSvc.NewPending(id)
	c.submit(ctx, op, ch, p, func(ctx context.Context) error {
		req.ParentID = c.resolvePtr(req.ParentID)
		var (
			gotID string
			err   error
		)
		if typ == models.TypeFolder {
			gotID, err = c.gateway.CreateFolder(ctx, req)
		} else {
			gotID, err = c.gateway.CreateDocument(ctx, req)
		}
		if err != nil {
			return err
		}
		if gotID != "" && gotID != id {
			c.adoptID(id, gotID)
			p.SetID(gotID)
		}
		return nil
	})
	return node, p, nil
}

// RenameItem renames a folder or document
func (c *controller) RenameItem(ctx context.Context, id, name string) (*models.Node, *treeSvc.Pending, error) {
	c.intents.Lock()
	defer c.intents.Unlock()
	if c.dispatcher.isClosed() {
		return nil, nil, ErrClosed
	}
	id = c.resolve(id)
	node, ch, err := c.store.Rename(id, name)
	if err != nil {
		return nil, nil, c.reject("rename", err)
	}
	if ch == nil {
		return node, treeSvc.Resolved(id), nil
	}

	op := "rename_" + string(node.Type)
	newName := node.Name
	p := treeSvc.NewPending(id)
	c.submit(ctx, op, ch, p, func(ctx context.Context) error {
		if node.IsFolder() {
			return c.gateway.RenameFolder(ctx, c.store.OwnerID(), c.resolve(id), newName)
		}
		return c.gateway.RenameDocument(ctx, c.store.OwnerID(), c.resolve(id), newName)
	})
	return node, p, nil
}

// DeleteItem removes an item; folders take their whole subtree with them
func (c *controller) DeleteItem(ctx context.Context, id string) ([]string, *treeSvc.Pending, error) {
	c.intents.Lock()
	defer c.intents.Unlock()
	if c.dispatcher.isClosed() {
		return nil, nil, ErrClosed
	}
	id = c.resolve(id)
	node, ok := c.store.Get(id)
	if !ok {
		return nil, nil, c.reject("delete", &domain.NotFoundError{ID: id})
	}
	removed, ch, err := c.store.Remove(id)
	if err != nil {
		return nil, nil, c.reject("delete", err)
	}

	op := "delete_" + string(node.Type)
	p := treeSvc.NewPending(id)
	c.submit(ctx, op, ch, p, func(ctx context.Context) error {
		if node.IsFolder() {
			return c.gateway.DeleteFolder(ctx, c.store.OwnerID(), c.resolve(id))
		}
		return c.gateway.DeleteDocument(ctx, c.store.OwnerID(), c.resolve(id))
	})
	return removed, p, nil
}

// MoveItem reparents an item to the end of newParentID (nil = root)
func (c *controller) MoveItem(ctx context.Context, id string, newParentID *string) (*models.Node, *treeSvc.Pending, error) {
	c.intents.Lock()
	defer c.intents.Unlock()
	if c.dispatcher.isClosed() {
		return nil, nil, ErrClosed
	}
	id = c.resolve(id)
	node, ch, err := c.store.Reparent(id, c.resolvePtr(newParentID))
	if err != nil {
		return nil, nil, c.reject("move", err)
	}
	if ch == nil {
		return node, treeSvc.Resolved(id), nil
	}

	target := models.CloneID(node.ParentID)
	p := treeSvc.NewPending(id)
	c.submit(ctx, "move", ch, p, func(ctx context.Context) error {
		return c.gateway.MoveItem(ctx, c.store.OwnerID(), c.resolve(id), c.resolvePtr(target))
	})
	return node, p, nil
}

// MoveItemBefore places an item immediately before beforeID
func (c *controller) MoveItemBefore(ctx context.Context, id, beforeID string) (*treeSvc.Pending, error) {
	c.intents.Lock()
	defer c.intents.Unlock()
	if c.dispatcher.isClosed() {
		return nil, ErrClosed
	}
	id, beforeID = c.resolve(id), c.resolve(beforeID)
	ch, err := c.store.ReorderBefore(id, beforeID)
	if err != nil {
		return nil, c.reject("move_before", err)
	}
	if ch == nil {
		return treeSvc.Resolved(id), nil
	}

	p := treeSvc.NewPending(id)
	c.submit(ctx, "move_before", ch, p, func(ctx context.Context) error {
		return c.gateway.MoveItemBefore(ctx, c.store.OwnerID(), c.resolve(id), c.resolve(beforeID))
	})
	return p, nil
}

// Refresh reloads the forest from the gateway after every earlier intent
func (c *controller) Refresh(ctx context.Context) *treeSvc.Pending {
	p := treeSvc.NewPending("")
	if c.dispatcher.isClosed() {
		p.Resolve(ErrClosed)
		return p
	}
	c.mu.Lock()
	c.loading++
	c.mu.Unlock()
	c.intents.Lock()
	err := c.dispatcher.enqueue(&job{ctx: context.WithoutCancel(ctx), op: "list_tree", refresh: true, pending: p})
	c.intents.Unlock()
	if err != nil {
		c.mu.Lock()
		c.loading--
		c.mu.Unlock()
		p.Resolve(err)
	}
	return p
}

// Sync waits for every intent issued so far to settle
func (c *controller) Sync(ctx context.Context) error {
	if c.dispatcher.isClosed() {
		return ErrClosed
	}
	p := treeSvc.NewPending("")
	c.intents.Lock()
	err := c.dispatcher.enqueue(&job{op: "sync", barrier: true, pending: p})
	c.intents.Unlock()
	if err != nil {
		return err
	}
	return p.Wait(ctx)
}

// Close stops accepting intents, waits for queued ones to settle, and ends
// every subscription
func (c *controller) Close() error {
	c.dispatcher.close()
	c.events.closeAll()
	return nil
}

// ============================================================================
// Reads
// ============================================================================

func (c *controller) FindItemByID(id string) (*models.Node, bool) {
	return c.store.FindByID(c.resolve(id))
}

func (c *controller) Tree() []*models.Node {
	return c.store.Tree()
}

func (c *controller) Listing(parentID *string) ([]*models.Node, error) {
	return c.store.Listing(c.resolvePtr(parentID))
}

func (c *controller) Path(id string) ([]*models.Node, error) {
	return c.store.Path(c.resolve(id))
}

func (c *controller) Status() treeSvc.Status {
	st := treeSvc.Status{OwnerID: c.store.OwnerID(), Items: c.store.Len()}
	c.mu.Lock()
	defer c.mu.Unlock()
	st.Loading = c.loading > 0
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	return st
}

func (c *controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading > 0
}

func (c *controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *controller) ClearErr() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *controller) Subscribe() (<-chan treeSvc.Event, func()) {
	return c.events.subscribe()
}

// ============================================================================
// Dispatch
// ============================================================================

// submit queues the gateway half of an applied change; p settles when it has run
func (c *controller) submit(ctx context.Context, op string, ch *Change, p *treeSvc.Pending, call func(context.Context) error) {
	id := p.ID()
	c.applied(op, id)
	err := c.dispatcher.enqueue(&job{
		ctx:     context.WithoutCancel(ctx),
		op:      op,
		id:      id,
		change:  ch,
		call:    call,
		pending: p,
	})
	if err != nil {
		// Closed between the check and the apply.
		c.store.Revert(ch)
		c.events.publish(treeSvc.Event{Type: treeSvc.EventRolledBack, Op: op, ID: id, Error: err.Error()})
		p.Resolve(err)
	}
}

// execute runs on the dispatcher goroutine, one job at a time
func (c *controller) execute(j *job, queued int) {
	if j.barrier {
		j.pending.Resolve(nil)
		return
	}

	ctx, cancel := context.WithTimeout(j.ctx, c.opts.GatewayTimeout)
	defer cancel()

	if j.refresh {
		err := c.reload(ctx, queued)
		c.mu.Lock()
		c.loading--
		c.mu.Unlock()
		if err != nil {
			c.setErr(err)
		}
		j.pending.Resolve(err)
		return
	}

	if err := j.call(ctx); err != nil {
		gwErr := domain.NewGatewayError(j.op, j.id, err)
		res := c.store.Revert(j.change)
		metrics.RecordRollback(j.op, res.Applied)
		c.logger.Warn("gateway call failed, change rolled back",
			"op", j.op,
			"id", j.id,
			"reverted", res.Applied,
			"collateral", len(res.Collateral),
			"error", err,
		)
		c.setErr(gwErr)
		c.events.publish(treeSvc.Event{Type: treeSvc.EventRolledBack, Op: j.op, ID: j.id, Error: gwErr.Error()})
		if !res.Applied || len(res.Collateral) > 0 {
			// A superseded change cannot be undone locally, and items issued
			// into a folder that never persisted are gone remotely. Either way
			// only the authoritative view is right.
			c.markResync()
		}
		j.pending.Resolve(gwErr)
		c.maybeResync(j.ctx, queued)
		return
	}

	c.logger.Debug("change confirmed", "op", j.op, "id", j.id)
	c.events.publish(treeSvc.Event{Type: treeSvc.EventConfirmed, Op: j.op, ID: j.pending.ID()})
	if c.opts.RefreshOnConfirm {
		c.markResync()
	}
	j.pending.Resolve(nil)
	c.maybeResync(j.ctx, queued)
}

// reload replaces the forest with the gateway's. Intents already queued
// behind the refresh lose their optimistic effect, so another reload is
// scheduled once they have been sent.
func (c *controller) reload(ctx context.Context, queued int) error {
	forest, err := c.gateway.ListTree(ctx, c.store.OwnerID())
	if err != nil {
		return domain.NewGatewayError("list_tree", "", err)
	}
	if err := c.store.Load(forest); err != nil {
		return domain.NewGatewayError("list_tree", "", err)
	}

	c.mu.Lock()
	c.resync = queued > 0
	c.mu.Unlock()

	c.logger.Info("tree refreshed", "items", len(forest), "queued", queued)
	c.events.publish(treeSvc.Event{Type: treeSvc.EventRefreshed, Op: "list_tree"})
	return nil
}

func (c *controller) markResync() {
	c.mu.Lock()
	c.resync = true
	c.mu.Unlock()
}

// maybeResync reloads once the queue has drained and a reload is owed
func (c *controller) maybeResync(base context.Context, queued int) {
	if queued > 0 {
		return
	}
	c.mu.Lock()
	owed := c.resync
	c.resync = false
	c.mu.Unlock()
	if !owed {
		return
	}
	ctx, cancel := context.WithTimeout(base, c.opts.GatewayTimeout)
	defer cancel()
	if err := c.reload(ctx, 0); err != nil {
		c.logger.Warn("resync failed", "error", err)
		c.setErr(err)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (c *controller) applied(op, id string) {
	c.logger.Debug("change applied", "op", op, "id", id)
	c.events.publish(treeSvc.Event{Type: treeSvc.EventApplied, Op: op, ID: id})
}

func (c *controller) reject(op string, err error) error {
	c.logger.Debug("intent rejected", "op", op, "error", err)
	c.setErr(err)
	return err
}

func (c *controller) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// adoptID switches a created item to the gateway's id. Store and alias map
// change together, so an intent sees either both or neither.
func (c *controller) adoptID(proposed, assigned string) {
	c.intents.Lock()
	defer c.intents.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[proposed] = assigned
	if err := c.store.Rekey(proposed, assigned); err != nil {
		// The optimistic node is gone (deleted or replaced by a refresh).
		c.logger.Debug("rekey skipped", "id", proposed, "assigned_id", assigned, "error", err)
	}
}

func (c *controller) resolve(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if assigned, ok := c.aliases[id]; ok {
		return assigned
	}
	return id
}

func (c *controller) resolvePtr(id *string) *string {
	if id == nil {
		return nil
	}
	v := c.resolve(*id)
	return &v
}
