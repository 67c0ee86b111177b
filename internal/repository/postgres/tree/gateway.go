// Package tree persists owner trees in postgres: folders and documents in
// their own tables, ordered among siblings by a shared sort_order.
package tree

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	"studydesk/internal/domain/repositories"
	treeRepo "studydesk/internal/domain/repositories/tree"
	"studydesk/internal/repository/postgres"
)

// Gateway implements treeRepo.PersistenceGateway on postgres
type Gateway struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	tx     repositories.TransactionManager
	logger *slog.Logger
}

// NewGateway creates a postgres tree gateway
func NewGateway(config *postgres.RepositoryConfig) *Gateway {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		pool:   config.Pool,
		tables: config.Tables,
		tx:     postgres.NewTransactionManager(config.Pool, logger),
		logger: logger,
	}
}

var _ treeRepo.PersistenceGateway = (*Gateway)(nil)

// sibling is one row of a folder's mixed children listing
type sibling struct {
	id    string
	typ   models.NodeType
	order int64
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
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	err := g.tx.ExecTx(ctx, func(ctx context.Context) error {
		if err := g.checkParent(ctx, req.OwnerID, req.ParentID); err != nil {
			return err
		}
		order, err := g.placeAt(ctx, req.OwnerID, req.ParentID, "", "")
		if err != nil {
			return err
		}

		inserted, err := g.insert(ctx, typ, id, req, order)
		if err != nil {
			return err
		}
		if !inserted {
			// Proposed id already taken; assign our own
			id = uuid.NewString()
			if _, err := g.insert(ctx, typ, id, req, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (g *Gateway) insert(ctx context.Context, typ models.NodeType, id string, req *treeRepo.CreateRequest, order int64) (bool, error) {
	now := time.Now()
	var (
		query string
		args  []any
	)
	if typ == models.TypeFolder {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, owner_id, parent_id, name, sort_order, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (id) DO NOTHING
		`, g.tables.Folders)
		args = []any{id, req.OwnerID, req.ParentID, req.Name, order, now}
	} else {
		kind := req.Kind
		if kind == "" {
			kind = models.KindFromName(req.Name)
		}
		query = fmt.Sprintf(`
			INSERT INTO %s (id, owner_id, folder_id, name, kind, sort_order, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO NOTHING
		`, g.tables.Documents)
		args = []any{id, req.OwnerID, req.ParentID, req.Name, string(kind), order, now}
	}

	tag, err := postgres.GetExecutor(ctx, g.pool).Exec(ctx, query, args...)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return false, fmt.Errorf("parent %s: %w", models.ParentKey(req.ParentID), domain.ErrInvalidParent)
		}
		return false, fmt.Errorf("create %s: %w", typ, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenameFolder renames a folder
func (g *Gateway) RenameFolder(ctx context.Context, ownerID, id, name string) error {
	return g.rename(ctx, g.tables.Folders, ownerID, id, name)
}

// RenameDocument renames a document
func (g *Gateway) RenameDocument(ctx context.Context, ownerID, id, name string) error {
	return g.rename(ctx, g.tables.Documents, ownerID, id, name)
}

func (g *Gateway) rename(ctx context.Context, table, ownerID, id, name string) error {
	if !validID(id) {
		return &domain.NotFoundError{ID: id}
	}
	query := fmt.Sprintf(`
		UPDATE %s SET name = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4
	`, table)

	tag, err := postgres.GetExecutor(ctx, g.pool).Exec(ctx, query, name, time.Now(), id, ownerID)
	if err != nil {
		return fmt.Errorf("rename %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

// DeleteFolder deletes a folder and its whole subtree in one transaction
func (g *Gateway) DeleteFolder(ctx context.Context, ownerID, id string) error {
	if !validID(id) {
		return &domain.NotFoundError{ID: id}
	}

	subtree := fmt.Sprintf(`
		WITH RECURSIVE subtree AS (
			SELECT id FROM %[1]s WHERE id = $1 AND owner_id = $2
			UNION ALL
			SELECT f.id FROM %[1]s f JOIN subtree s ON f.parent_id = s.id
		)
	`, g.tables.Folders)

	return g.tx.ExecTx(ctx, func(ctx context.Context) error {
		exec := postgres.GetExecutor(ctx, g.pool)

		docs := subtree + fmt.Sprintf(`DELETE FROM %s WHERE folder_id IN (SELECT id FROM subtree)`, g.tables.Documents)
		if _, err := exec.Exec(ctx, docs, id, ownerID); err != nil {
			return fmt.Errorf("delete documents under %s: %w", id, err)
		}

		folders := subtree + fmt.Sprintf(`DELETE FROM %s WHERE id IN (SELECT id FROM subtree)`, g.tables.Folders)
		tag, err := exec.Exec(ctx, folders, id, ownerID)
		if err != nil {
			return fmt.Errorf("delete folder %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return &domain.NotFoundError{ID: id}
		}

		g.logger.Debug("folder subtree deleted", "id", id, "folders", tag.RowsAffected())
		return nil
	})
}

// DeleteDocument deletes a document
func (g *Gateway) DeleteDocument(ctx context.Context, ownerID, id string) error {
	if !validID(id) {
		return &domain.NotFoundError{ID: id}
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND owner_id = $2`, g.tables.Documents)

	tag, err := postgres.GetExecutor(ctx, g.pool).Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{ID: id}
	}
	return nil
}

// MoveItem reparents an item to the end of newParentID
func (g *Gateway) MoveItem(ctx context.Context, ownerID, id string, newParentID *string) error {
	return g.tx.ExecTx(ctx, func(ctx context.Context) error {
		typ, _, err := g.lookup(ctx, ownerID, id)
		if err != nil {
			return err
		}
		if err := g.checkMove(ctx, ownerID, id, typ, newParentID); err != nil {
			return err
		}
		order, err := g.placeAt(ctx, ownerID, newParentID, id, "")
		if err != nil {
			return err
		}
		return g.setPosition(ctx, typ, id, newParentID, order)
	})
}

// MoveItemBefore places an item immediately before beforeID, adopting its parent
func (g *Gateway) MoveItemBefore(ctx context.Context, ownerID, id, beforeID string) error {
	return g.tx.ExecTx(ctx, func(ctx context.Context) error {
		typ, _, err := g.lookup(ctx, ownerID, id)
		if err != nil {
			return err
		}
		_, parentID, err := g.lookup(ctx, ownerID, beforeID)
		if err != nil {
			return err
		}
		if id == beforeID {
			return nil
		}
		if err := g.checkMove(ctx, ownerID, id, typ, parentID); err != nil {
			return err
		}
		order, err := g.placeAt(ctx, ownerID, parentID, id, beforeID)
		if err != nil {
			return err
		}
		return g.setPosition(ctx, typ, id, parentID, order)
	})
}

// ListTree returns every node the owner has, siblings in sort_order
func (g *Gateway) ListTree(ctx context.Context, ownerID string) (models.Forest, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, 'folder' AS type, name, parent_id, sort_order, '' AS kind, created_at, updated_at
		FROM %s WHERE owner_id = $1
		UNION ALL
		SELECT id, owner_id, 'document' AS type, name, folder_id, sort_order, kind, created_at, updated_at
		FROM %s WHERE owner_id = $1
		ORDER BY sort_order, id
	`, g.tables.Folders, g.tables.Documents)

	rows, err := postgres.GetExecutor(ctx, g.pool).Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tree: %w", err)
	}
	defer rows.Close()

	var forest models.Forest
	for rows.Next() {
		var (
			rec       models.Record
			typ, kind string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.OwnerID,
			&typ,
			&rec.Name,
			&rec.ParentID,
			&rec.Order,
			&kind,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tree row: %w", err)
		}
		rec.Type = models.NodeType(typ)
		rec.Kind = models.FileKind(kind)
		forest = append(forest, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tree rows: %w", err)
	}

	g.logger.Debug("tree listed", "owner_id", ownerID, "items", len(forest))
	return forest, nil
}

// lookup resolves an id to its type and parent
func (g *Gateway) lookup(ctx context.Context, ownerID, id string) (models.NodeType, *string, error) {
	if !validID(id) {
		return "", nil, &domain.NotFoundError{ID: id}
	}
	query := fmt.Sprintf(`
		SELECT 'folder', parent_id FROM %s WHERE id = $1 AND owner_id = $2
		UNION ALL
		SELECT 'document', folder_id FROM %s WHERE id = $1 AND owner_id = $2
	`, g.tables.Folders, g.tables.Documents)

	var (
		typ      string
		parentID *string
	)
	err := postgres.GetExecutor(ctx, g.pool).QueryRow(ctx, query, id, ownerID).Scan(&typ, &parentID)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return "", nil, &domain.NotFoundError{ID: id}
		}
		return "", nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	return models.NodeType(typ), parentID, nil
}

func (g *Gateway) checkParent(ctx context.Context, ownerID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if !validID(*parentID) {
		return fmt.Errorf("parent %s: %w", *parentID, domain.ErrInvalidParent)
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND owner_id = $2)`, g.tables.Folders)

	var exists bool
	if err := postgres.GetExecutor(ctx, g.pool).QueryRow(ctx, query, *parentID, ownerID).Scan(&exists); err != nil {
		return fmt.Errorf("check parent %s: %w", *parentID, err)
	}
	if !exists {
		return fmt.Errorf("parent %s: %w", *parentID, domain.ErrInvalidParent)
	}
	return nil
}

// checkMove rejects a missing target and a folder moved under itself
func (g *Gateway) checkMove(ctx context.Context, ownerID, id string, typ models.NodeType, parentID *string) error {
	if err := g.checkParent(ctx, ownerID, parentID); err != nil {
		return err
	}
	if parentID == nil || typ != models.TypeFolder {
		return nil
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE ancestors AS (
			SELECT id, parent_id FROM %[1]s WHERE id = $1
			UNION ALL
			SELECT f.id, f.parent_id FROM %[1]s f JOIN ancestors a ON f.id = a.parent_id
		)
		SELECT EXISTS (SELECT 1 FROM ancestors WHERE id = $2)
	`, g.tables.Folders)

	var cycle bool
	if err := postgres.GetExecutor(ctx, g.pool).QueryRow(ctx, query, *parentID, id).Scan(&cycle); err != nil {
		return fmt.Errorf("check ancestry of %s: %w", id, err)
	}
	if cycle {
		return fmt.Errorf("move %s: %w", id, domain.ErrCycleDetected)
	}
	return nil
}

// placeAt computes a sort_order for an item entering parentID before
// beforeID (or last), renumbering the siblings when there is no gap.
// exclude is the moving item itself.
func (g *Gateway) placeAt(ctx context.Context, ownerID string, parentID *string, exclude, beforeID string) (int64, error) {
	sibs, err := g.siblings(ctx, ownerID, parentID, exclude)
	if err != nil {
		return 0, err
	}

	idx := len(sibs)
	ranks := make([]int64, len(sibs))
	for i, s := range sibs {
		ranks[i] = s.order
		if s.id == beforeID {
			idx = i
		}
	}

	rank, renumbered := models.PlaceAt(ranks, idx)
	for i, r := range renumbered {
		if err := g.setOrder(ctx, sibs[i], r); err != nil {
			return 0, err
		}
	}
	if renumbered != nil {
		g.logger.Debug("siblings renumbered", "parent_id", models.ParentKey(parentID), "count", len(renumbered))
	}
	return rank, nil
}

func (g *Gateway) siblings(ctx context.Context, ownerID string, parentID *string, exclude string) ([]sibling, error) {
	query := fmt.Sprintf(`
		SELECT id, 'folder', sort_order FROM %s
		WHERE owner_id = $1 AND parent_id IS NOT DISTINCT FROM $2::uuid AND id::text <> $3
		UNION ALL
		SELECT id, 'document', sort_order FROM %s
		WHERE owner_id = $1 AND folder_id IS NOT DISTINCT FROM $2::uuid AND id::text <> $3
		ORDER BY sort_order, id
	`, g.tables.Folders, g.tables.Documents)

	rows, err := postgres.GetExecutor(ctx, g.pool).Query(ctx, query, ownerID, parentID, exclude)
	if err != nil {
		return nil, fmt.Errorf("list siblings: %w", err)
	}
	defer rows.Close()

	var sibs []sibling
	for rows.Next() {
		var (
			s   sibling
			typ string
		)
		if err := rows.Scan(&s.id, &typ, &s.order); err != nil {
			return nil, fmt.Errorf("scan sibling: %w", err)
		}
		s.typ = models.NodeType(typ)
		sibs = append(sibs, s)
	}
	return sibs, rows.Err()
}

func (g *Gateway) setOrder(ctx context.Context, s sibling, order int64) error {
	query := fmt.Sprintf(`UPDATE %s SET sort_order = $1 WHERE id = $2`, g.table(s.typ))
	if _, err := postgres.GetExecutor(ctx, g.pool).Exec(ctx, query, order, s.id); err != nil {
		return fmt.Errorf("renumber %s: %w", s.id, err)
	}
	return nil
}

func (g *Gateway) setPosition(ctx context.Context, typ models.NodeType, id string, parentID *string, order int64) error {
	parentCol := "parent_id"
	if typ == models.TypeDocument {
		parentCol = "folder_id"
	}
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $1, sort_order = $2, updated_at = $3
		WHERE id = $4
	`, g.table(typ), parentCol)

	if _, err := postgres.GetExecutor(ctx, g.pool).Exec(ctx, query, parentID, order, time.Now(), id); err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("parent %s: %w", models.ParentKey(parentID), domain.ErrInvalidParent)
		}
		return fmt.Errorf("move %s: %w", id, err)
	}
	return nil
}

func (g *Gateway) table(typ models.NodeType) string {
	if typ == models.TypeFolder {
		return g.tables.Folders
	}
	return g.tables.Documents
}

// validID filters out ids postgres would reject as malformed uuids
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
