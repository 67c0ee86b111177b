package tree

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
)

// entry is a node as held by the store. node.Children is always nil; the
// ordered child ids live in children.
type entry struct {
	node     models.Node
	children []string
	nameRev  uint64 // revision of the last applied rename
	posRev   uint64 // revision of the last applied parent/position change
}

// Store owns an owner's forest as an arena of nodes indexed by id.
// Every mutation validates first and either applies completely or not at all.
type Store struct {
	mu      sync.RWMutex
	ownerID string
	nodes   map[string]*entry
	roots   []string
	rev     uint64
	epoch   uint64
	now     func() time.Time
}

// NewStore creates an empty store for ownerID
func NewStore(ownerID string) *Store {
	return &Store{
		ownerID: ownerID,
		nodes:   make(map[string]*entry),
		now:     time.Now,
	}
}

// OwnerID returns the owner whose forest this is
func (s *Store) OwnerID() string {
	return s.ownerID
}

// Len returns the number of nodes in the forest
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Epoch changes every time the forest is replaced wholesale
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// ============================================================================
// Queries
// ============================================================================

// FindByID returns a deep snapshot of the node, children included
func (s *Store) FindByID(id string) (*models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, false
	}
	return s.snapshot(id, true), true
}

// Get returns a shallow snapshot of the node, without children
func (s *Store) Get(id string) (*models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, false
	}
	return s.snapshot(id, false), true
}

// Children returns shallow snapshots of a parent's children in rank order.
// A nil parentID lists the root level.
func (s *Store) Children(parentID *string) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parentID = normalizeParent(parentID)
	if err := s.checkParent(parentID); err != nil {
		return nil, err
	}
	ids := s.siblings(parentID)
	out := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.snapshot(id, false))
	}
	return out, nil
}

// Listing returns a parent's children in display order
func (s *Store) Listing(parentID *string) ([]*models.Node, error) {
	nodes, err := s.Children(parentID)
	if err != nil {
		return nil, err
	}
	models.SortForDisplay(nodes)
	return nodes, nil
}

// Tree returns deep snapshots of every root-level node in rank order
func (s *Store) Tree() []*models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Node, 0, len(s.roots))
	for _, id := range s.roots {
		out = append(out, s.snapshot(id, true))
	}
	return out
}

// Path returns the chain of nodes from the root down to id, id included
func (s *Store) Path(id string) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	var path []*models.Node
	for cur := &id; cur != nil; {
		e := s.nodes[*cur]
		path = append(path, s.snapshot(*cur, false))
		cur = e.node.ParentID
	}
	slices.Reverse(path)
	return path, nil
}

// Records returns the flat form of the forest, parents before children
func (s *Store) Records() models.Forest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(models.Forest, 0, len(s.nodes))
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			e := s.nodes[id]
			out = append(out, e.node.Record())
			walk(e.children)
		}
	}
	walk(s.roots)
	return out
}

// ============================================================================
// Mutations
// ============================================================================

// Insert adds node under parentID. With an empty beforeID the node goes to the
// end of its siblings; otherwise it is placed immediately before beforeID,
// which must already be a child of parentID.
func (s *Store) Insert(node models.Node, parentID *string, beforeID string) (*models.Node, *Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID = normalizeParent(parentID)
	if node.ID == "" {
		return nil, nil, fmt.Errorf("%w: item id is required", domain.ErrValidation)
	}
	if _, exists := s.nodes[node.ID]; exists {
		return nil, nil, fmt.Errorf("%w: item %s already exists", domain.ErrValidation, node.ID)
	}
	if !node.Type.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown item type %q", domain.ErrValidation, node.Type)
	}
	name, err := normalizeName(node.Name)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkParent(parentID); err != nil {
		return nil, nil, err
	}
	if beforeID != "" {
		before, ok := s.nodes[beforeID]
		if !ok {
			return nil, nil, &domain.NotFoundError{ID: beforeID}
		}
		if !models.SameParent(before.node.ParentID, parentID) {
			return nil, nil, fmt.Errorf("%w: item %s is not a child of %q", domain.ErrInvalidParent, beforeID, models.ParentKey(parentID))
		}
	}

	now := s.now()
	node.Name = name
	node.Children = nil
	if node.OwnerID == "" {
		node.OwnerID = s.ownerID
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now
	if node.Type == models.TypeDocument {
		if node.Kind == "" {
			node.Kind = models.KindFromName(name)
		}
	} else {
		node.Kind = ""
	}

	s.rev++
	e := &entry{node: node, nameRev: s.rev, posRev: s.rev}
	s.nodes[node.ID] = e
	s.attach(node.ID, parentID, beforeID)

	return s.snapshot(node.ID, false), &Change{Op: ChangeInsert, ID: node.ID, epoch: s.epoch, rev: s.rev}, nil
}

// Rename changes a node's display name. Renaming to the current name is a
// no-op and returns a nil change.
func (s *Store) Rename(id, name string) (*models.Node, *Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes[id]
	if !ok {
		return nil, nil, &domain.NotFoundError{ID: id}
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, nil, err
	}
	if e.node.Name == name {
		return s.snapshot(id, false), nil, nil
	}

	s.rev++
	ch := &Change{
		Op:          ChangeRename,
		ID:          id,
		epoch:       s.epoch,
		rev:         s.rev,
		prevName:    e.node.Name,
		prevNameRev: e.nameRev,
	}
	e.node.Name = name
	e.node.UpdatedAt = s.now()
	e.nameRev = s.rev
	return s.snapshot(id, false), ch, nil
}

// Remove deletes a node and, for folders, its entire subtree. It returns the
// removed ids in pre-order (the node itself first).
func (s *Store) Remove(id string) ([]string, *Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, nil, &domain.NotFoundError{ID: id}
	}

	s.rev++
	removed := s.removeSubtree(id)
	ids := make([]string, len(removed))
	for i, r := range removed {
		ids[i] = r.node.ID
	}
	return ids, &Change{Op: ChangeRemove, ID: id, epoch: s.epoch, rev: s.rev, removed: removed}, nil
}

// Reparent moves a node to the end of newParentID's children (nil = root)
func (s *Store) Reparent(id string, newParentID *string) (*models.Node, *Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes[id]
	if !ok {
		return nil, nil, &domain.NotFoundError{ID: id}
	}
	newParentID = normalizeParent(newParentID)
	if err := s.checkMoveTarget(id, newParentID); err != nil {
		return nil, nil, err
	}

	if models.SameParent(e.node.ParentID, newParentID) {
		sibs := s.siblings(newParentID)
		if sibs[len(sibs)-1] == id {
			return s.snapshot(id, false), nil, nil
		}
	}

	ch := s.move(id, newParentID, "")
	return s.snapshot(id, false), ch, nil
}

// ReorderBefore moves id so that it immediately precedes beforeID, adopting
// beforeID's parent. Moving an item before itself, or before the sibling it
// already precedes, is a no-op and returns a nil change.
func (s *Store) ReorderBefore(id, beforeID string) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.nodes[id]
	if !ok {
		return nil, &domain.NotFoundError{ID: id}
	}
	before, ok := s.nodes[beforeID]
	if !ok {
		return nil, &domain.NotFoundError{ID: beforeID}
	}
	if id == beforeID {
		return nil, nil
	}
	newParentID := models.CloneID(before.node.ParentID)
	if err := s.checkMoveTarget(id, newParentID); err != nil {
		return nil, err
	}

	if models.SameParent(e.node.ParentID, newParentID) {
		sibs := s.siblings(newParentID)
		if i := slices.Index(sibs, id); i+1 < len(sibs) && sibs[i+1] == beforeID {
			return nil, nil
		}
	}

	return s.move(id, newParentID, beforeID), nil
}

// Rekey gives a node a new id, keeping its position and children
func (s *Store) Rekey(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID == newID {
		return nil
	}
	e, ok := s.nodes[oldID]
	if !ok {
		return &domain.NotFoundError{ID: oldID}
	}
	if _, exists := s.nodes[newID]; exists {
		return fmt.Errorf("%w: item %s already exists", domain.ErrValidation, newID)
	}

	sibs := s.siblings(e.node.ParentID)
	sibs[slices.Index(sibs, oldID)] = newID
	for _, childID := range e.children {
		s.nodes[childID].node.ParentID = &newID
	}
	delete(s.nodes, oldID)
	e.node.ID = newID
	s.nodes[newID] = e
	return nil
}

// Load replaces the forest with records from the persistence layer.
// A forest that breaks any invariant is rejected and the store is unchanged.
func (s *Store) Load(forest models.Forest) error {
	nodes := make(map[string]*entry, len(forest))
	for _, rec := range forest {
		if rec.ID == "" {
			return fmt.Errorf("load forest: %w: record without id", domain.ErrValidation)
		}
		if _, dup := nodes[rec.ID]; dup {
			return fmt.Errorf("load forest: %w: duplicate item %s", domain.ErrValidation, rec.ID)
		}
		if !rec.Type.Valid() {
			return fmt.Errorf("load forest: %w: item %s has unknown type %q", domain.ErrValidation, rec.ID, rec.Type)
		}
		nodes[rec.ID] = &entry{node: models.Node{
			ID:        rec.ID,
			OwnerID:   rec.OwnerID,
			Type:      rec.Type,
			Name:      rec.Name,
			ParentID:  normalizeParent(rec.ParentID),
			Order:     rec.Order,
			Kind:      rec.Kind,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}}
	}

	byParent := make(map[string][]*models.Node)
	var rootNodes []*models.Node
	for _, e := range nodes {
		if e.node.ParentID == nil {
			rootNodes = append(rootNodes, &e.node)
			continue
		}
		parent, ok := nodes[*e.node.ParentID]
		if !ok || !parent.node.IsFolder() {
			return fmt.Errorf("load forest: item %s: %w", e.node.ID, domain.ErrInvalidParent)
		}
		byParent[*e.node.ParentID] = append(byParent[*e.node.ParentID], &e.node)
	}

	ordered := func(list []*models.Node) []string {
		models.SortByOrder(list)
		ids := make([]string, len(list))
		ranks := make([]int64, len(list))
		for i, n := range list {
			ids[i] = n.ID
			ranks[i] = n.Order
		}
		if !models.StrictlyIncreasing(ranks) || (len(ranks) > 0 && ranks[0] <= 0) {
			for i, r := range models.Spaced(len(list)) {
				list[i].Order = r
			}
		}
		return ids
	}

	roots := ordered(rootNodes)
	for parentID, list := range byParent {
		nodes[parentID].children = ordered(list)
	}

	// Nodes on a parent cycle are unreachable from the roots.
	reached := 0
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, id := range ids {
			reached++
			walk(nodes[id].children)
		}
	}
	walk(roots)
	if reached != len(nodes) {
		return fmt.Errorf("load forest: %w: %d items unreachable from root", domain.ErrCycleDetected, len(nodes)-reached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.roots = roots
	s.epoch++
	return nil
}

// Check verifies every structural invariant of the forest
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.nodes))
	var walk func(parentID *string, ids []string) error
	walk = func(parentID *string, ids []string) error {
		var prev int64
		for i, id := range ids {
			e, ok := s.nodes[id]
			if !ok {
				return fmt.Errorf("child %s of %q is missing", id, models.ParentKey(parentID))
			}
			if seen[id] {
				return fmt.Errorf("item %s reachable twice: %w", id, domain.ErrCycleDetected)
			}
			seen[id] = true
			if !models.SameParent(e.node.ParentID, parentID) {
				return fmt.Errorf("item %s listed under %q but points at %q", id, models.ParentKey(parentID), models.ParentKey(e.node.ParentID))
			}
			if i > 0 && e.node.Order <= prev {
				return fmt.Errorf("item %s breaks sibling order under %q", id, models.ParentKey(parentID))
			}
			prev = e.node.Order
			if !e.node.IsFolder() && len(e.children) > 0 {
				return fmt.Errorf("document %s has children", id)
			}
			if err := walk(&e.node.ID, e.children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(nil, s.roots); err != nil {
		return err
	}
	if len(seen) != len(s.nodes) {
		return fmt.Errorf("%d items unreachable from root: %w", len(s.nodes)-len(seen), domain.ErrCycleDetected)
	}
	return nil
}

// ============================================================================
// Internals - callers hold s.mu
// ============================================================================

func (s *Store) siblings(parentID *string) []string {
	if parentID == nil {
		return s.roots
	}
	return s.nodes[*parentID].children
}

func (s *Store) setSiblings(parentID *string, ids []string) {
	if parentID == nil {
		s.roots = ids
		return
	}
	s.nodes[*parentID].children = ids
}

func (s *Store) checkParent(parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, ok := s.nodes[*parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s does not exist", domain.ErrInvalidParent, *parentID)
	}
	if !parent.node.IsFolder() {
		return fmt.Errorf("%w: %q is not a folder", domain.ErrInvalidParent, parent.node.Name)
	}
	return nil
}

// checkMoveTarget validates moving id under newParentID
func (s *Store) checkMoveTarget(id string, newParentID *string) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == id {
		return fmt.Errorf("%w: cannot move item into itself", domain.ErrCycleDetected)
	}
	if err := s.checkParent(newParentID); err != nil {
		return err
	}
	if s.isWithin(*newParentID, id) {
		return fmt.Errorf("%w: cannot move folder into its own descendant", domain.ErrCycleDetected)
	}
	return nil
}

// isWithin reports whether id is ancestor or a descendant of ancestor. The
// walk runs to the root: the arena is acyclic, so it always terminates.
func (s *Store) isWithin(id, ancestor string) bool {
	for cur := &id; cur != nil; {
		if *cur == ancestor {
			return true
		}
		e, ok := s.nodes[*cur]
		if !ok {
			return false
		}
		cur = e.node.ParentID
	}
	return false
}

// attach links an already-registered node under parentID, before beforeID or
// at the end, assigning its rank and renumbering siblings when needed
func (s *Store) attach(id string, parentID *string, beforeID string) {
	sibs := s.siblings(parentID)
	idx := len(sibs)
	if beforeID != "" {
		if i := slices.Index(sibs, beforeID); i >= 0 {
			idx = i
		}
	}
	s.attachAt(id, parentID, idx)
}

func (s *Store) attachAt(id string, parentID *string, idx int) {
	sibs := s.siblings(parentID)
	ranks := make([]int64, len(sibs))
	for i, sid := range sibs {
		ranks[i] = s.nodes[sid].node.Order
	}
	rank, renumbered := models.PlaceAt(ranks, idx)
	for i, r := range renumbered {
		s.nodes[sibs[i]].node.Order = r
	}

	e := s.nodes[id]
	e.node.ParentID = models.CloneID(parentID)
	e.node.Order = rank
	s.setSiblings(parentID, slices.Insert(slices.Clone(sibs), idx, id))
}

// attachAtRank re-links a node as close as possible to a previous rank
func (s *Store) attachAtRank(id string, parentID *string, rank int64) {
	sibs := s.siblings(parentID)
	idx := len(sibs)
	for i, sid := range sibs {
		if s.nodes[sid].node.Order >= rank {
			idx = i
			break
		}
	}
	var lo int64
	if idx > 0 {
		lo = s.nodes[sibs[idx-1]].node.Order
	}
	free := rank > lo && (idx == len(sibs) || rank < s.nodes[sibs[idx]].node.Order)
	if !free {
		s.attachAt(id, parentID, idx)
		return
	}
	e := s.nodes[id]
	e.node.ParentID = models.CloneID(parentID)
	e.node.Order = rank
	s.setSiblings(parentID, slices.Insert(slices.Clone(sibs), idx, id))
}

func (s *Store) detach(id string) {
	e := s.nodes[id]
	sibs := s.siblings(e.node.ParentID)
	if i := slices.Index(sibs, id); i >= 0 {
		s.setSiblings(e.node.ParentID, slices.Delete(slices.Clone(sibs), i, i+1))
	}
}

func (s *Store) move(id string, newParentID *string, beforeID string) *Change {
	e := s.nodes[id]
	s.rev++
	ch := &Change{
		Op:         ChangeMove,
		ID:         id,
		epoch:      s.epoch,
		rev:        s.rev,
		prevParent: models.CloneID(e.node.ParentID),
		prevOrder:  e.node.Order,
		prevPosRev: e.posRev,
	}
	s.detach(id)
	s.attach(id, newParentID, beforeID)
	e.posRev = s.rev
	e.node.UpdatedAt = s.now()
	return ch
}

// removeSubtree unlinks id and deletes it with all descendants, returning
// their entries in pre-order
func (s *Store) removeSubtree(id string) []removedEntry {
	s.detach(id)
	var removed []removedEntry
	var collect func(id string)
	collect = func(id string) {
		e := s.nodes[id]
		removed = append(removed, removedEntry{node: e.node, nameRev: e.nameRev, posRev: e.posRev})
		for _, childID := range e.children {
			collect(childID)
		}
		delete(s.nodes, id)
	}
	collect(id)
	return removed
}

func (s *Store) snapshot(id string, deep bool) *models.Node {
	e := s.nodes[id]
	n := e.node
	n.ParentID = models.CloneID(e.node.ParentID)
	if deep && n.IsFolder() {
		n.Children = make([]*models.Node, 0, len(e.children))
		for _, childID := range e.children {
			n.Children = append(n.Children, s.snapshot(childID, true))
		}
	}
	return &n
}
