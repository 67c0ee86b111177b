// Package memory is an in-process PersistenceGateway. It backs the server in
// dev mode and stands in for the remote store in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"

	"github.com/google/uuid"
)

// Gateway keeps every owner's records in memory
type Gateway struct {
	mu     sync.Mutex
	owners map[string]map[string]*models.Record
	now    func() time.Time
}

// NewGateway creates an empty in-memory gateway
func NewGateway() *Gateway {
	return &Gateway{
		owners: make(map[string]map[string]*models.Record),
		now:    time.Now,
	}
}

var _ treeRepo.PersistenceGateway = (*Gateway)(nil)

// CreateFolder persists a folder at the end of its parent's children
func (g *Gateway) CreateFolder(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	return g.create(ctx, models.TypeFolder, req)
}

// CreateDocument persists a document at the end of its parent's children
func (g *Gateway) CreateDocument(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	return g.create(ctx, models.TypeDocument, req)
}

func (g *Gateway) create(ctx context.Context, typ models.NodeType, req *treeRepo.CreateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recs := g.records(req.OwnerID)
	if err := checkParent(recs, req.ParentID); err != nil {
		return "", err
	}
	id := req.ID
	if _, taken := recs[id]; id == "" || taken {
		id = uuid.NewString()
	}

	now := g.now()
	rec := &models.Record{
		ID:        id,
		OwnerID:   req.OwnerID,
		Type:      typ,
		Name:      req.Name,
		ParentID:  models.CloneID(req.ParentID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if typ == models.TypeDocument {
		rec.Kind = req.Kind
		if rec.Kind == "" {
			rec.Kind = models.KindFromName(req.Name)
		}
	}
	recs[id] = rec
	place(recs, rec, req.ParentID, "")
	return id, nil
}

// RenameFolder renames a folder
func (g *Gateway) RenameFolder(ctx context.Context, ownerID, id, name string) error {
	return g.rename(ctx, models.TypeFolder, ownerID, id, name)
}

// RenameDocument renames a document
func (g *Gateway) RenameDocument(ctx context.Context, ownerID, id, name string) error {
	return g.rename(ctx, models.TypeDocument, ownerID, id, name)
}

func (g *Gateway) rename(ctx context.Context, typ models.NodeType, ownerID, id, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, err := lookup(g.records(ownerID), typ, id)
	if err != nil {
		return err
	}
	rec.Name = name
	rec.UpdatedAt = g.now()
	return nil
}

// DeleteFolder deletes a folder and everything below it
func (g *Gateway) DeleteFolder(ctx context.Context, ownerID, id string) error {
	return g.delete(ctx, models.TypeFolder, ownerID, id)
}

// DeleteDocument deletes a document
func (g *Gateway) DeleteDocument(ctx context.Context, ownerID, id string) error {
	return g.delete(ctx, models.TypeDocument, ownerID, id)
}

func (g *Gateway) delete(ctx context.Context, typ models.NodeType, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recs := g.records(ownerID)
	if _, err := lookup(recs, typ, id); err != nil {
		return err
	}
	doomed := []string{id}
	for i := 0; i < len(doomed); i++ {
		for _, rec := range recs {
			if rec.ParentID != nil && *rec.ParentID == doomed[i] {
				doomed = append(doomed, rec.ID)
			}
		}
	}
	for _, d := range doomed {
		delete(recs, d)
	}
	return nil
}

// MoveItem reparents an item to the end of newParentID
func (g *Gateway) MoveItem(ctx context.Context, ownerID, id string, newParentID *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recs := g.records(ownerID)
	rec, ok := recs[id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	if err := checkMove(recs, id, newParentID); err != nil {
		return err
	}
	place(recs, rec, newParentID, "")
	rec.UpdatedAt = g.now()
	return nil
}

// MoveItemBefore places an item immediately before beforeID
func (g *Gateway) MoveItemBefore(ctx context.Context, ownerID, id, beforeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recs := g.records(ownerID)
	rec, ok := recs[id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	before, ok := recs[beforeID]
	if !ok {
		return &domain.NotFoundError{ID: beforeID}
	}
	if id == beforeID {
		return nil
	}
	parentID := models.CloneID(before.ParentID)
	if err := checkMove(recs, id, parentID); err != nil {
		return err
	}
	place(recs, rec, parentID, beforeID)
	rec.UpdatedAt = g.now()
	return nil
}

// ListTree returns copies of every record the owner has
func (g *Gateway) ListTree(ctx context.Context, ownerID string) (models.Forest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	recs := g.owners[ownerID]
	forest := make(models.Forest, 0, len(recs))
	for _, rec := range recs {
		r := *rec
		r.ParentID = models.CloneID(rec.ParentID)
		forest = append(forest, r)
	}
	slices.SortFunc(forest, func(a, b models.Record) int {
		if a.Order != b.Order {
			if a.Order < b.Order {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return forest, nil
}

// records returns the owner's record map; callers hold g.mu
func (g *Gateway) records(ownerID string) map[string]*models.Record {
	recs, ok := g.owners[ownerID]
	if !ok {
		recs = make(map[string]*models.Record)
		g.owners[ownerID] = recs
	}
	return recs
}

func lookup(recs map[string]*models.Record, typ models.NodeType, id string) (*models.Record, error) {
	rec, ok := recs[id]
	if !ok || rec.Type != typ {
		return nil, &domain.NotFoundError{ID: id}
	}
	return rec, nil
}

func checkParent(recs map[string]*models.Record, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, ok := recs[*parentID]
	if !ok || parent.Type != models.TypeFolder {
		return fmt.Errorf("parent %s: %w", *parentID, domain.ErrInvalidParent)
	}
	return nil
}

func checkMove(recs map[string]*models.Record, id string, newParentID *string) error {
	if err := checkParent(recs, newParentID); err != nil {
		return err
	}
	for cur := newParentID; cur != nil; cur = recs[*cur].ParentID {
		if *cur == id {
			return fmt.Errorf("move %s: %w", id, domain.ErrCycleDetected)
		}
	}
	return nil
}

// place positions rec under parentID, before beforeID or at the end
func place(recs map[string]*models.Record, rec *models.Record, parentID *string, beforeID string) {
	var sibs []*models.Record
	for _, r := range recs {
		if r.ID != rec.ID && models.SameParent(r.ParentID, parentID) {
			sibs = append(sibs, r)
		}
	}
	slices.SortFunc(sibs, func(a, b *models.Record) int {
		switch {
		case a.Order < b.Order:
			return -1
		case a.Order > b.Order:
			return 1
		}
		return 0
	})

	idx := len(sibs)
	ranks := make([]int64, len(sibs))
	for i, s := range sibs {
		ranks[i] = s.Order
		if s.ID == beforeID {
			idx = i
		}
	}
	rank, renumbered := models.PlaceAt(ranks, idx)
	for i, r := range renumbered {
		sibs[i].Order = r
	}
	rec.ParentID = models.CloneID(parentID)
	rec.Order = rank
}
