package metrics

import (
	"context"
	"time"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
)

// InstrumentedGateway times every call to the wrapped gateway and wraps its
// failures in *domain.GatewayError
type InstrumentedGateway struct {
	next treeRepo.PersistenceGateway
}

// InstrumentGateway decorates next with call metrics
func InstrumentGateway(next treeRepo.PersistenceGateway) *InstrumentedGateway {
	return &InstrumentedGateway{next: next}
}

var _ treeRepo.PersistenceGateway = (*InstrumentedGateway)(nil)

func observe(op, id string, start time.Time, err error) error {
	RecordGatewayCall(op, time.Since(start), err)
	return domain.NewGatewayError(op, id, err)
}

func (g *InstrumentedGateway) CreateFolder(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	start := time.Now()
	id, err := g.next.CreateFolder(ctx, req)
	return id, observe("create_folder", req.ID, start, err)
}

func (g *InstrumentedGateway) CreateDocument(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	start := time.Now()
	id, err := g.next.CreateDocument(ctx, req)
	return id, observe("create_document", req.ID, start, err)
}

func (g *InstrumentedGateway) RenameFolder(ctx context.Context, ownerID, id, name string) error {
	start := time.Now()
	return observe("rename_folder", id, start, g.next.RenameFolder(ctx, ownerID, id, name))
}

func (g *InstrumentedGateway) RenameDocument(ctx context.Context, ownerID, id, name string) error {
	start := time.Now()
	return observe("rename_document", id, start, g.next.RenameDocument(ctx, ownerID, id, name))
}

func (g *InstrumentedGateway) DeleteFolder(ctx context.Context, ownerID, id string) error {
	start := time.Now()
	return observe("delete_folder", id, start, g.next.DeleteFolder(ctx, ownerID, id))
}

func (g *InstrumentedGateway) DeleteDocument(ctx context.Context, ownerID, id string) error {
	start := time.Now()
	return observe("delete_document", id, start, g.next.DeleteDocument(ctx, ownerID, id))
}

func (g *InstrumentedGateway) MoveItem(ctx context.Context, ownerID, id string, newParentID *string) error {
	start := time.Now()
	return observe("move", id, start, g.next.MoveItem(ctx, ownerID, id, newParentID))
}

func (g *InstrumentedGateway) MoveItemBefore(ctx context.Context, ownerID, id, beforeID string) error {
	start := time.Now()
	return observe("move_before", id, start, g.next.MoveItemBefore(ctx, ownerID, id, beforeID))
}

func (g *InstrumentedGateway) ListTree(ctx context.Context, ownerID string) (models.Forest, error) {
	start := time.Now()
	forest, err := g.next.ListTree(ctx, ownerID)
	if err != nil {
		return nil, observe("list_tree", "", start, err)
	}
	RecordTreeRefresh(time.Since(start))
	return forest, observe("list_tree", "", start, nil)
}
