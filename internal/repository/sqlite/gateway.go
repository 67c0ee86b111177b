// Package sqlite is a single-file PersistenceGateway for local and
// single-node deployments. Folders and documents share one nodes table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	type       TEXT NOT NULL CHECK (type IN ('folder', 'document')),
	name       TEXT NOT NULL,
	parent_id  TEXT REFERENCES nodes(id),
	kind       TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_owner_parent ON nodes(owner_id, parent_id, sort_order);
`

// Gateway implements treeRepo.PersistenceGateway on SQLite
type Gateway struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ treeRepo.PersistenceGateway = (*Gateway)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: serializes writers and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA foreign_keys = ON", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}

	logger.Info("sqlite gateway opened", "path", path)
	return &Gateway{db: db, path: path, logger: logger}, nil
}

// Close closes the database
func (g *Gateway) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// CreateFolder persists a folder at the end of its parent's children
func (g *Gateway) CreateFolder(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	return g.create(ctx, models.TypeFolder, req)
}

// CreateDocument persists a document at the end of its parent's children
func (g *Gateway) CreateDocument(ctx context.Context, req *treeRepo.CreateRequest) (string, error) {
	return g.create(ctx, models.TypeDocument, req)
}

func (g *Gateway) create(ctx context.Context, typ models.NodeType, req *treeRepo.CreateRequest) (string, error) {
	id := req.ID
	err := g.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkParent(ctx, tx, req.OwnerID, req.ParentID); err != nil {
			return err
		}
		if id == "" || exists(ctx, tx, id) {
			id = uuid.NewString()
		}
		order, err := placeAt(ctx, tx, req.OwnerID, req.ParentID, "", "")
		if err != nil {
			return err
		}

		var kind models.FileKind
		if typ == models.TypeDocument {
			kind = req.Kind
			if kind == "" {
				kind = models.KindFromName(req.Name)
			}
		}
		now := time.Now().UnixMilli()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO nodes (id, owner_id, type, name, parent_id, kind, sort_order, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, req.OwnerID, string(typ), req.Name, nullID(req.ParentID), string(kind), order, now, now)
		if err != nil {
			return fmt.Errorf("create %s: %w", typ, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
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
	res, err := g.db.ExecContext(ctx, `
		UPDATE nodes SET name = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND type = ?
	`, name, time.Now().UnixMilli(), id, ownerID, string(typ))
	if err != nil {
		return fmt.Errorf("rename %s: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteFolder deletes a folder and everything below it in one transaction
func (g *Gateway) DeleteFolder(ctx context.Context, ownerID, id string) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		// Foreign keys are checked at statement end, so one DELETE covers the subtree
		res, err := tx.ExecContext(ctx, `
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM nodes WHERE id = ? AND owner_id = ? AND type = 'folder'
				UNION ALL
				SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
			)
			DELETE FROM nodes WHERE id IN (SELECT id FROM subtree)
		`, id, ownerID)
		if err != nil {
			return fmt.Errorf("delete folder %s: %w", id, err)
		}
		return requireRow(res, id)
	})
}

// DeleteDocument deletes a document
func (g *Gateway) DeleteDocument(ctx context.Context, ownerID, id string) error {
	res, err := g.db.ExecContext(ctx, `
		DELETE FROM nodes WHERE id = ? AND owner_id = ? AND type = 'document'
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return requireRow(res, id)
}

// MoveItem reparents an item to the end of newParentID
func (g *Gateway) MoveItem(ctx context.Context, ownerID, id string, newParentID *string) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lookupParent(ctx, tx, ownerID, id); err != nil {
			return err
		}
		if err := checkMove(ctx, tx, ownerID, id, newParentID); err != nil {
			return err
		}
		order, err := placeAt(ctx, tx, ownerID, newParentID, id, "")
		if err != nil {
			return err
		}
		return setPosition(ctx, tx, id, newParentID, order)
	})
}

// MoveItemBefore places an item immediately before beforeID, adopting its parent
func (g *Gateway) MoveItemBefore(ctx context.Context, ownerID, id, beforeID string) error {
	return g.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lookupParent(ctx, tx, ownerID, id); err != nil {
			return err
		}
		parentID, err := lookupParent(ctx, tx, ownerID, beforeID)
		if err != nil {
			return err
		}
		if id == beforeID {
			return nil
		}
		if err := checkMove(ctx, tx, ownerID, id, parentID); err != nil {
			return err
		}
		order, err := placeAt(ctx, tx, ownerID, parentID, id, beforeID)
		if err != nil {
			return err
		}
		return setPosition(ctx, tx, id, parentID, order)
	})
}

// ListTree returns every node the owner has, siblings in sort_order
func (g *Gateway) ListTree(ctx context.Context, ownerID string) (models.Forest, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, owner_id, type, name, parent_id, kind, sort_order, created_at, updated_at
		FROM nodes WHERE owner_id = ?
		ORDER BY sort_order, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	defer rows.Close()

	var forest models.Forest
	for rows.Next() {
		var (
			rec                  models.Record
			typ, kind            string
			parentID             sql.NullString
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &typ, &rec.Name, &parentID, &kind, &rec.Order, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		rec.Type = models.NodeType(typ)
		rec.Kind = models.FileKind(kind)
		if parentID.Valid {
			rec.ParentID = &parentID.String
		}
		rec.CreatedAt = time.UnixMilli(createdAt)
		rec.UpdatedAt = time.UnixMilli(updatedAt)
		forest = append(forest, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return forest, nil
}

func (g *Gateway) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			g.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func exists(ctx context.Context, tx *sql.Tx, id string) bool {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func lookupParent(ctx context.Context, tx *sql.Tx, ownerID, id string) (*string, error) {
	var parentID sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT parent_id FROM nodes WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	if !parentID.Valid {
		return nil, nil
	}
	return &parentID.String, nil
}

func checkParent(ctx context.Context, tx *sql.Tx, ownerID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	var typ string
	err := tx.QueryRowContext(ctx, `SELECT type FROM nodes WHERE id = ? AND owner_id = ?`, *parentID, ownerID).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && typ != string(models.TypeFolder)) {
		return fmt.Errorf("parent %s: %w", *parentID, domain.ErrInvalidParent)
	}
	if err != nil {
		return fmt.Errorf("check parent %s: %w", *parentID, err)
	}
	return nil
}

func checkMove(ctx context.Context, tx *sql.Tx, ownerID, id string, parentID *string) error {
	if err := checkParent(ctx, tx, ownerID, parentID); err != nil {
		return err
	}
	if parentID == nil {
		return nil
	}
	var cycle bool
	err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id, parent_id) AS (
			SELECT id, parent_id FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id FROM nodes n JOIN ancestors a ON n.id = a.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM ancestors WHERE id = ?)
	`, *parentID, id).Scan(&cycle)
	if err != nil {
		return fmt.Errorf("check ancestry of %s: %w", id, err)
	}
	if cycle {
		return fmt.Errorf("move %s: %w", id, domain.ErrCycleDetected)
	}
	return nil
}

// placeAt computes a sort_order for an item entering parentID before
// beforeID (or last), renumbering the siblings when there is no gap
func placeAt(ctx context.Context, tx *sql.Tx, ownerID string, parentID *string, exclude, beforeID string) (int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, sort_order FROM nodes
		WHERE owner_id = ? AND parent_id IS ? AND id <> ?
		ORDER BY sort_order, id
	`, ownerID, nullID(parentID), exclude)
	if err != nil {
		return 0, fmt.Errorf("list siblings: %w", err)
	}

	var (
		ids   []string
		ranks []int64
	)
	for rows.Next() {
		var (
			id   string
			rank int64
		)
		if err := rows.Scan(&id, &rank); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan sibling: %w", err)
		}
		ids = append(ids, id)
		ranks = append(ranks, rank)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate siblings: %w", err)
	}

	idx := len(ids)
	for i, id := range ids {
		if id == beforeID {
			idx = i
			break
		}
	}

	rank, renumbered := models.PlaceAt(ranks, idx)
	for i, r := range renumbered {
		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET sort_order = ? WHERE id = ?`, r, ids[i]); err != nil {
			return 0, fmt.Errorf("renumber %s: %w", ids[i], err)
		}
	}
	return rank, nil
}

func setPosition(ctx context.Context, tx *sql.Tx, id string, parentID *string, order int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE nodes SET parent_id = ?, sort_order = ?, updated_at = ?
		WHERE id = ?
	`, nullID(parentID), order, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("move %s: %w", id, err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

func nullID(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *id, Valid: true}
}
