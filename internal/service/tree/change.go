package tree

import (
	models "studydesk/internal/domain/models/tree"
)

// ChangeOp identifies the kind of mutation a Change records
type ChangeOp int

const (
	ChangeInsert ChangeOp = iota + 1
	ChangeRename
	ChangeRemove
	ChangeMove
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeInsert:
		return "insert"
	case ChangeRename:
		return "rename"
	case ChangeRemove:
		return "remove"
	case ChangeMove:
		return "move"
	default:
		return "unknown"
	}
}

// Change records exactly what one mutation altered, so that it can be
// compensated without touching anything a later mutation changed.
type Change struct {
	Op ChangeOp
	ID string

	epoch uint64
	rev   uint64

	prevName    string
	prevNameRev uint64

	prevParent *string
	prevOrder  int64
	prevPosRev uint64

	removed []removedEntry
}

type removedEntry struct {
	node    models.Node
	nameRev uint64
	posRev  uint64
}

// RevertResult reports what a compensation did
type RevertResult struct {
	// Applied is false when the change was superseded and nothing was restored
	Applied bool
	// Collateral lists nodes removed along with a reverted insert because
	// later mutations placed them inside it
	Collateral []string
}

// Revert undoes ch if, and only as far as, the fields it changed still hold
// the values it set. A change made before the forest was last loaded is
// never reverted.
func (s *Store) Revert(ch *Change) RevertResult {
	if ch == nil {
		return RevertResult{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.epoch != s.epoch {
		return RevertResult{}
	}

	switch ch.Op {
	case ChangeInsert:
		return s.revertInsert(ch)
	case ChangeRename:
		return s.revertRename(ch)
	case ChangeMove:
		return s.revertMove(ch)
	case ChangeRemove:
		return s.revertRemove(ch)
	}
	return RevertResult{}
}

func (s *Store) revertInsert(ch *Change) RevertResult {
	if _, ok := s.nodes[ch.ID]; !ok {
		return RevertResult{}
	}
	removed := s.removeSubtree(ch.ID)
	res := RevertResult{Applied: true}
	for _, r := range removed[1:] {
		res.Collateral = append(res.Collateral, r.node.ID)
	}
	return res
}

func (s *Store) revertRename(ch *Change) RevertResult {
	e, ok := s.nodes[ch.ID]
	if !ok || e.nameRev != ch.rev {
		return RevertResult{}
	}
	e.node.Name = ch.prevName
	e.node.UpdatedAt = s.now()
	e.nameRev = ch.prevNameRev
	return RevertResult{Applied: true}
}

func (s *Store) revertMove(ch *Change) RevertResult {
	e, ok := s.nodes[ch.ID]
	if !ok || e.posRev != ch.rev {
		return RevertResult{}
	}
	// The old parent may have been deleted, or moved inside this node, since.
	if ch.prevParent != nil {
		if s.checkParent(ch.prevParent) != nil || s.isWithin(*ch.prevParent, ch.ID) {
			return RevertResult{}
		}
	}
	s.detach(ch.ID)
	s.attachAtRank(ch.ID, ch.prevParent, ch.prevOrder)
	e.posRev = ch.prevPosRev
	e.node.UpdatedAt = s.now()
	return RevertResult{Applied: true}
}

func (s *Store) revertRemove(ch *Change) RevertResult {
	if len(ch.removed) == 0 {
		return RevertResult{}
	}
	root := ch.removed[0]
	if _, exists := s.nodes[root.node.ID]; exists {
		return RevertResult{}
	}
	if s.checkParent(root.node.ParentID) != nil {
		return RevertResult{}
	}

	// Pre-order guarantees each parent is restored before its children.
	for _, r := range ch.removed {
		if _, exists := s.nodes[r.node.ID]; exists {
			continue
		}
		s.nodes[r.node.ID] = &entry{node: r.node, nameRev: r.nameRev, posRev: r.posRev}
		s.attachAtRank(r.node.ID, r.node.ParentID, r.node.Order)
	}
	return RevertResult{Applied: true}
}
