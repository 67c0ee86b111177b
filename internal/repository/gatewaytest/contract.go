// Package gatewaytest holds the behaviour every PersistenceGateway must share.
// Driver packages run it from their own tests.
package gatewaytest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studydesk/internal/domain"
	models "studydesk/internal/domain/models/tree"
	treeRepo "studydesk/internal/domain/repositories/tree"
)

// Run exercises gw against the gateway contract. Each subtest uses its own
// owner, so gw may be shared.
func Run(t *testing.T, gw treeRepo.PersistenceGateway) {
	t.Run("create and list", func(t *testing.T) { testCreateAndList(t, gw) })
	t.Run("proposed id is kept", func(t *testing.T) { testProposedID(t, gw) })
	t.Run("taken id is replaced", func(t *testing.T) { testTakenID(t, gw) })
	t.Run("invalid parent", func(t *testing.T) { testInvalidParent(t, gw) })
	t.Run("rename", func(t *testing.T) { testRename(t, gw) })
	t.Run("delete folder cascades", func(t *testing.T) { testDeleteFolder(t, gw) })
	t.Run("delete document", func(t *testing.T) { testDeleteDocument(t, gw) })
	t.Run("move", func(t *testing.T) { testMove(t, gw) })
	t.Run("move rejects cycles", func(t *testing.T) { testMoveCycle(t, gw) })
	t.Run("move before", func(t *testing.T) { testMoveBefore(t, gw) })
	t.Run("owners are isolated", func(t *testing.T) { testOwnerIsolation(t, gw) })
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	gw    treeRepo.PersistenceGateway
	owner string
}

func newFixture(t *testing.T, gw treeRepo.PersistenceGateway) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return &fixture{t: t, ctx: ctx, gw: gw, owner: "owner-" + uuid.NewString()[:8]}
}

func (f *fixture) folder(name string, parentID *string) string {
	f.t.Helper()
	id, err := f.gw.CreateFolder(f.ctx, &treeRepo.CreateRequest{
		ID: uuid.NewString(), OwnerID: f.owner, Name: name, ParentID: parentID,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) document(name string, parentID *string) string {
	f.t.Helper()
	id, err := f.gw.CreateDocument(f.ctx, &treeRepo.CreateRequest{
		ID: uuid.NewString(), OwnerID: f.owner, Name: name, ParentID: parentID,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) records() map[string]models.Record {
	f.t.Helper()
	forest, err := f.gw.ListTree(f.ctx, f.owner)
	require.NoError(f.t, err)
	out := make(map[string]models.Record, len(forest))
	for _, rec := range forest {
		out[rec.ID] = rec
	}
	return out
}

// children returns parentID's child ids in rank order
func (f *fixture) children(parentID *string) []string {
	f.t.Helper()
	forest, err := f.gw.ListTree(f.ctx, f.owner)
	require.NoError(f.t, err)
	var sibs []models.Record
	for _, rec := range forest {
		if models.SameParent(rec.ParentID, parentID) {
			sibs = append(sibs, rec)
		}
	}
	nodes := make([]*models.Node, len(sibs))
	for i := range sibs {
		nodes[i] = &models.Node{ID: sibs[i].ID, Order: sibs[i].Order}
	}
	models.SortByOrder(nodes)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func testCreateAndList(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	lectures := f.folder("Lectures", nil)
	week1 := f.document("Week1.pdf", &lectures)
	audio := f.document("Week1 recording.mp3", &lectures)

	recs := f.records()
	require.Len(t, recs, 3)
	assert.Equal(t, models.TypeFolder, recs[lectures].Type)
	assert.Nil(t, recs[lectures].ParentID)
	assert.Equal(t, f.owner, recs[lectures].OwnerID)
	assert.Equal(t, models.KindPDF, recs[week1].Kind)
	assert.Equal(t, models.KindAudio, recs[audio].Kind)
	assert.Equal(t, lectures, *recs[week1].ParentID)
	assert.False(t, recs[week1].CreatedAt.IsZero())
	assert.Equal(t, []string{week1, audio}, f.children(&lectures))
}

func testProposedID(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	proposed := uuid.NewString()
	id, err := gw.CreateFolder(f.ctx, &treeRepo.CreateRequest{ID: proposed, OwnerID: f.owner, Name: "Lectures"})
	require.NoError(t, err)
	assert.Equal(t, proposed, id)
}

func testTakenID(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	first := f.folder("First", nil)
	id, err := gw.CreateFolder(f.ctx, &treeRepo.CreateRequest{ID: first, OwnerID: f.owner, Name: "Second"})
	require.NoError(t, err)
	assert.NotEqual(t, first, id)
	assert.Len(t, f.records(), 2)
}

func testInvalidParent(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	doc := f.document("Week1.pdf", nil)
	missing := uuid.NewString()

	_, err := gw.CreateFolder(f.ctx, &treeRepo.CreateRequest{ID: uuid.NewString(), OwnerID: f.owner, Name: "X", ParentID: &missing})
	require.ErrorIs(t, err, domain.ErrInvalidParent)

	_, err = gw.CreateDocument(f.ctx, &treeRepo.CreateRequest{ID: uuid.NewString(), OwnerID: f.owner, Name: "y.pdf", ParentID: &doc})
	require.ErrorIs(t, err, domain.ErrInvalidParent)

	assert.Len(t, f.records(), 1)
}

func testRename(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	folder := f.folder("Lectures", nil)
	doc := f.document("Week1.pdf", nil)

	require.NoError(t, gw.RenameFolder(f.ctx, f.owner, folder, "Lecture Notes"))
	require.NoError(t, gw.RenameDocument(f.ctx, f.owner, doc, "Week 1.pdf"))
	recs := f.records()
	assert.Equal(t, "Lecture Notes", recs[folder].Name)
	assert.Equal(t, "Week 1.pdf", recs[doc].Name)

	// Type must match the call
	require.ErrorIs(t, gw.RenameFolder(f.ctx, f.owner, doc, "x"), domain.ErrNotFound)
	require.ErrorIs(t, gw.RenameDocument(f.ctx, f.owner, uuid.NewString(), "x"), domain.ErrNotFound)
}

func testDeleteFolder(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	lectures := f.folder("Lectures", nil)
	week1 := f.folder("Week 1", &lectures)
	f.document("slides.pdf", &week1)
	f.document("notes.pdf", &lectures)
	syllabus := f.document("syllabus.pdf", nil)

	require.NoError(t, gw.DeleteFolder(f.ctx, f.owner, lectures))
	recs := f.records()
	assert.Len(t, recs, 1)
	assert.Contains(t, recs, syllabus)

	require.ErrorIs(t, gw.DeleteFolder(f.ctx, f.owner, lectures), domain.ErrNotFound)
}

func testDeleteDocument(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	doc := f.document("Week1.pdf", nil)
	folder := f.folder("Lectures", nil)

	require.ErrorIs(t, gw.DeleteDocument(f.ctx, f.owner, folder), domain.ErrNotFound)
	require.NoError(t, gw.DeleteDocument(f.ctx, f.owner, doc))
	assert.Len(t, f.records(), 1)
}

func testMove(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	lectures := f.folder("Lectures", nil)
	archive := f.folder("Archive", nil)
	old := f.document("old.pdf", &archive)
	doc := f.document("Week1.pdf", &lectures)

	require.NoError(t, gw.MoveItem(f.ctx, f.owner, doc, &archive))
	assert.Equal(t, []string{old, doc}, f.children(&archive))
	assert.Empty(t, f.children(&lectures))

	require.NoError(t, gw.MoveItem(f.ctx, f.owner, lectures, &archive))
	require.NoError(t, gw.MoveItem(f.ctx, f.owner, doc, nil))
	assert.Equal(t, []string{archive, doc}, f.children(nil))

	require.ErrorIs(t, gw.MoveItem(f.ctx, f.owner, doc, &doc), domain.ErrInvalidParent)
	require.ErrorIs(t, gw.MoveItem(f.ctx, f.owner, uuid.NewString(), nil), domain.ErrNotFound)
}

func testMoveCycle(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	lectures := f.folder("Lectures", nil)
	week1 := f.folder("Week 1", &lectures)
	before := f.records()

	require.ErrorIs(t, gw.MoveItem(f.ctx, f.owner, lectures, &lectures), domain.ErrCycleDetected)
	require.ErrorIs(t, gw.MoveItem(f.ctx, f.owner, lectures, &week1), domain.ErrCycleDetected)
	assert.Equal(t, before, f.records())
}

func testMoveBefore(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	a := f.document("a.pdf", nil)
	b := f.document("b.pdf", nil)
	folder := f.folder("Lectures", nil)
	inside := f.document("inside.pdf", &folder)

	require.NoError(t, gw.MoveItemBefore(f.ctx, f.owner, folder, a))
	assert.Equal(t, []string{folder, a, b}, f.children(nil))

	// Adopts the anchor's parent
	require.NoError(t, gw.MoveItemBefore(f.ctx, f.owner, b, inside))
	assert.Equal(t, []string{b, inside}, f.children(&folder))

	// Repeating is stable
	require.NoError(t, gw.MoveItemBefore(f.ctx, f.owner, b, inside))
	assert.Equal(t, []string{b, inside}, f.children(&folder))

	require.ErrorIs(t, gw.MoveItemBefore(f.ctx, f.owner, folder, inside), domain.ErrCycleDetected)
	require.ErrorIs(t, gw.MoveItemBefore(f.ctx, f.owner, a, uuid.NewString()), domain.ErrNotFound)
}

func testOwnerIsolation(t *testing.T, gw treeRepo.PersistenceGateway) {
	f := newFixture(t, gw)
	other := newFixture(t, gw)
	folder := f.folder("Mine", nil)
	other.folder("Theirs", nil)

	assert.Len(t, f.records(), 1)
	require.ErrorIs(t, gw.RenameFolder(f.ctx, other.owner, folder, "Stolen"), domain.ErrNotFound)
	assert.Equal(t, "Mine", f.records()[folder].Name)
}
