package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceAt(t *testing.T) {
	tests := []struct {
		name           string
		ranks          []int64
		idx            int
		wantRank       int64
		wantRenumbered []int64
	}{
		{
			name:     "append to empty list",
			ranks:    nil,
			idx:      0,
			wantRank: RankSpacing,
		},
		{
			name:     "append after last",
			ranks:    []int64{RankSpacing, 2 * RankSpacing},
			idx:      2,
			wantRank: 3 * RankSpacing,
		},
		{
			name:     "insert at front uses zero as lower bound",
			ranks:    []int64{RankSpacing},
			idx:      0,
			wantRank: RankSpacing / 2,
		},
		{
			name:     "insert between neighbours takes midpoint",
			ranks:    []int64{100, 200},
			idx:      1,
			wantRank: 150,
		},
		{
			name:           "adjacent neighbours force renumbering",
			ranks:          []int64{10, 11, 12},
			idx:            1,
			wantRank:       RankSpacing + RankSpacing/2,
			wantRenumbered: []int64{RankSpacing, 2 * RankSpacing, 3 * RankSpacing},
		},
		{
			name:           "no room before first",
			ranks:          []int64{1, 5},
			idx:            0,
			wantRank:       RankSpacing / 2,
			wantRenumbered: []int64{RankSpacing, 2 * RankSpacing},
		},
		{
			name:     "out of range index appends",
			ranks:    []int64{7},
			idx:      9,
			wantRank: 7 + RankSpacing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rank, renumbered := PlaceAt(tt.ranks, tt.idx)
			assert.Equal(t, tt.wantRank, rank)
			assert.Equal(t, tt.wantRenumbered, renumbered)
		})
	}
}

func TestPlaceAt_RepeatedFrontInsertsStayStrict(t *testing.T) {
	ranks := []int64{RankSpacing}
	for i := 0; i < 100; i++ {
		rank, renumbered := PlaceAt(ranks, 0)
		if renumbered != nil {
			ranks = renumbered
		}
		ranks = append([]int64{rank}, ranks...)
		require.True(t, StrictlyIncreasing(ranks), "iteration %d: %v", i, ranks)
	}
	assert.Len(t, ranks, 101)
}

func TestSortForDisplay(t *testing.T) {
	nodes := []*Node{
		{ID: "3", Type: TypeDocument, Name: "doc1"},
		{ID: "1", Type: TypeFolder, Name: "B"},
		{ID: "2", Type: TypeFolder, Name: "A"},
	}

	SortForDisplay(nodes)

	require.Len(t, nodes, 3)
	assert.Equal(t, "A", nodes[0].Name)
	assert.Equal(t, "B", nodes[1].Name)
	assert.Equal(t, "doc1", nodes[2].Name)
}

func TestKindFromName(t *testing.T) {
	tests := []struct {
		name string
		want FileKind
	}{
		{"Week1.pdf", KindPDF},
		{"lecture.M4A", KindAudio},
		{"notes.mp3", KindAudio},
		{"readme", KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindFromName(tt.name))
		})
	}
}
