package tree

import (
	"context"

	models "studydesk/internal/domain/models/tree"
)

// TreeController applies UI intents optimistically to the in-memory tree and
// confirms or compensates them against the persistence gateway.
//
// Mutations return synchronously: a structural error means nothing was
// applied and nothing was sent; otherwise the change is already visible and
// the returned Pending resolves once the gateway confirms (nil) or rejects it
// (a gateway failure, after rollback).
type TreeController interface {
	CreateFolder(ctx context.Context, name string, parentID *string) (*models.Node, *Pending, error)
	CreateDocument(ctx context.Context, name string, parentID *string, kind models.FileKind) (*models.Node, *Pending, error)
	RenameItem(ctx context.Context, id, name string) (*models.Node, *Pending, error)
	DeleteItem(ctx context.Context, id string) ([]string, *Pending, error)
	MoveItem(ctx context.Context, id string, newParentID *string) (*models.Node, *Pending, error)
	MoveItemBefore(ctx context.Context, id, beforeID string) (*Pending, error)

	// Refresh discards local state and reloads it from the gateway once
	// every earlier intent has been sent
	Refresh(ctx context.Context) *Pending

	// Sync resolves when every intent issued so far has been confirmed or compensated
	Sync(ctx context.Context) error

	FindItemByID(id string) (*models.Node, bool)
	Tree() []*models.Node
	Listing(parentID *string) ([]*models.Node, error)
	Path(id string) ([]*models.Node, error)

	// Status summarizes loading state, the error slot and tree size
	Status() Status
	// Loading is true while a refresh is queued or running
	Loading() bool
	// Err holds the most recent failed operation, if any
	Err() error
	ClearErr()

	// Subscribe streams change events until cancel is called
	Subscribe() (events <-chan Event, cancel func())

	Close() error
}

// Status is the read-only state the UI shows next to the tree
type Status struct {
	OwnerID string `json:"owner_id"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
	Items   int    `json:"items"`
}
