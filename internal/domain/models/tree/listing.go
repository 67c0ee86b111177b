package tree

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortForDisplay orders a listing the way the sidebar shows it when no
// explicit order is requested: folders before documents, then by name using
// a Unicode collator, then by id.
func SortForDisplay(nodes []*Node) {
	// Collators are not safe for concurrent use; one per call.
	col := collate.New(language.Und)
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if a.Type != b.Type {
			if a.Type == TypeFolder {
				return -1
			}
			return 1
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		return compareStrings(a.ID, b.ID)
	})
}
