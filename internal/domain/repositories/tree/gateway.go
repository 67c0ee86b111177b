package tree

import (
	"context"

	models "studydesk/internal/domain/models/tree"
)

// PersistenceGateway is the durable store behind an owner's tree.
// After a refresh it is the source of truth.
type PersistenceGateway interface {
	// CreateFolder persists a folder at the end of its parent's children.
	// req.ID is a proposed id; implementations may return a different one.
	CreateFolder(ctx context.Context, req *CreateRequest) (string, error)

	// CreateDocument persists a document at the end of its parent's children
	CreateDocument(ctx context.Context, req *CreateRequest) (string, error)

	// RenameFolder renames a folder
	RenameFolder(ctx context.Context, ownerID, id, name string) error

	// RenameDocument renames a document
	RenameDocument(ctx context.Context, ownerID, id, name string) error

	// DeleteFolder deletes a folder and its whole subtree in one transaction
	DeleteFolder(ctx context.Context, ownerID, id string) error

	// DeleteDocument deletes a document
	DeleteDocument(ctx context.Context, ownerID, id string) error

	// MoveItem reparents an item to the end of newParentID (nil = root)
	MoveItem(ctx context.Context, ownerID, id string, newParentID *string) error

	// MoveItemBefore places an item immediately before beforeID, adopting its parent
	MoveItemBefore(ctx context.Context, ownerID, id, beforeID string) error

	// ListTree returns every node the owner has
	ListTree(ctx context.Context, ownerID string) (models.Forest, error)
}

// CreateRequest describes a node to persist
type CreateRequest struct {
	ID       string          `json:"id"`
	OwnerID  string          `json:"owner_id"`
	Name     string          `json:"name"`
	ParentID *string         `json:"parent_id"`
	Kind     models.FileKind `json:"kind,omitempty"` // documents only
}
