package seed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "studydesk/internal/domain/models/tree"
	"studydesk/internal/repository/memory"
)

const course = `
owner: student-1
items:
  - folder: Lectures
    children:
      - folder: Week 1
        children:
          - document: Week1.pdf
          - document: Week1 recording.mp3
      - folder: Week 2
  - document: Syllabus.pdf
    kind: pdf
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(course))
	require.NoError(t, err)
	assert.Equal(t, "student-1", f.Owner)
	require.Len(t, f.Items, 2)
	assert.Equal(t, "Lectures", f.Items[0].Name())
	assert.Len(t, f.Items[0].Children, 2)
	assert.Equal(t, models.KindPDF, f.Items[1].Kind)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing owner",
			yaml: "items:\n  - folder: A\n",
		},
		{
			name: "folder and document",
			yaml: "owner: o\nitems:\n  - folder: A\n    document: a.pdf\n",
		},
		{
			name: "neither folder nor document",
			yaml: "owner: o\nitems:\n  - kind: pdf\n",
		},
		{
			name: "document with children",
			yaml: "owner: o\nitems:\n  - document: a.pdf\n    children:\n      - folder: B\n",
		},
		{
			name: "unknown kind deep in the tree",
			yaml: "owner: o\nitems:\n  - folder: A\n    children:\n      - document: v.mov\n        kind: video\n",
		},
		{
			name: "not yaml",
			yaml: "owner: [unterminated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	f, err := Parse([]byte(course))
	require.NoError(t, err)
	gw := memory.NewGateway()
	ctx := context.Background()

	n, err := Apply(ctx, gw, f, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	forest, err := gw.ListTree(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, forest, 6)

	byName := make(map[string]models.Record)
	for _, rec := range forest {
		byName[rec.Name] = rec
	}
	week1 := byName["Week 1"]
	assert.Equal(t, byName["Lectures"].ID, *week1.ParentID)
	assert.Equal(t, week1.ID, *byName["Week1.pdf"].ParentID)
	assert.Equal(t, models.KindAudio, byName["Week1 recording.mp3"].Kind)
	assert.Nil(t, byName["Syllabus.pdf"].ParentID)
	assert.Less(t, byName["Week1.pdf"].Order, byName["Week1 recording.mp3"].Order)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "course.yaml")
	require.NoError(t, os.WriteFile(good, []byte(course), 0o644))

	t.Run("loads every file", func(t *testing.T) {
		fixtures, err := LoadAll(context.Background(), []string{good, filepath.Join("..", "..", "fixtures", "demo.yaml")})
		require.NoError(t, err)
		require.Len(t, fixtures, 2)
		assert.Equal(t, "student-1", fixtures[0].Owner)
		assert.Equal(t, "demo-student", fixtures[1].Owner)
	})

	t.Run("one bad file fails the batch", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("items: []\n"), 0o644))
		_, err := LoadAll(context.Background(), []string{good, bad})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.yaml")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadAll(context.Background(), []string{filepath.Join(dir, "nope.yaml")})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
