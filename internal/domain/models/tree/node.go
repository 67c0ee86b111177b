package tree

import (
	"path/filepath"
	"strings"
	"time"
)

// NodeType distinguishes folders from documents
type NodeType string

const (
	TypeFolder   NodeType = "folder"
	TypeDocument NodeType = "document"
)

// Valid reports whether t is a known node type
func (t NodeType) Valid() bool {
	return t == TypeFolder || t == TypeDocument
}

// FileKind is the kind of uploaded file a document holds
type FileKind string

const (
	KindPDF   FileKind = "pdf"
	KindAudio FileKind = "audio"
	KindOther FileKind = "other"
)

var audioExtensions = map[string]bool{
	".mp3": true,
	".wav": true,
	".m4a": true,
	".mp4": true,
}

// KindFromName infers a document kind from its file extension
func KindFromName(name string) FileKind {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == ".pdf":
		return KindPDF
	case audioExtensions[ext]:
		return KindAudio
	default:
		return KindOther
	}
}

// Node is a folder or document in an owner's forest.
// Children is only populated on snapshots of folders, ordered by Order.
type Node struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Type      NodeType  `json:"type"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"` // NULL = root level
	Order     int64     `json:"order"`
	Kind      FileKind  `json:"kind,omitempty"` // documents only
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Children  []*Node   `json:"children,omitempty"`
}

// IsFolder reports whether the node can hold children
func (n *Node) IsFolder() bool {
	return n.Type == TypeFolder
}

// Record returns the flat form of n, without children
func (n *Node) Record() Record {
	return Record{
		ID:        n.ID,
		OwnerID:   n.OwnerID,
		Type:      n.Type,
		Name:      n.Name,
		ParentID:  CloneID(n.ParentID),
		Order:     n.Order,
		Kind:      n.Kind,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// Record is a node as persisted: one row, parent by reference
type Record struct {
	ID        string    `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Type      NodeType  `json:"type" db:"type"`
	Name      string    `json:"name" db:"name"`
	ParentID  *string   `json:"parent_id" db:"parent_id"`
	Order     int64     `json:"order" db:"sort_order"`
	Kind      FileKind  `json:"kind,omitempty" db:"kind"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Forest is the flat listing of every node an owner has
type Forest []Record

// CloneID copies an optional id so callers never share the pointer
func CloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// SameParent compares two optional parent ids
func SameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ParentKey renders an optional parent id for logging and map keys
func ParentKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
