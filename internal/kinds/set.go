package kinds

import (
	"iter"

	"github.com/google/btree"
)

// ResourceSet is an ordered set of resource identifiers.
type ResourceSet struct {
	tree *btree.BTreeG[string]
}

// NewResourceSet returns a set holding ids.
func NewResourceSet(ids ...string) *ResourceSet {
	s := &ResourceSet{tree: btree.NewOrderedG[string](16)}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Empty identifiers are ignored.
func (s *ResourceSet) Add(id string) {
	if id == "" {
		return
	}
	s.tree.ReplaceOrInsert(id)
}

// Has reports whether id is in the set.
func (s *ResourceSet) Has(id string) bool {
	return s.tree.Has(id)
}

// Len returns the number of identifiers.
func (s *ResourceSet) Len() int {
	return s.tree.Len()
}

// All yields the identifiers in ascending order.
func (s *ResourceSet) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.tree.Ascend(func(id string) bool {
			return yield(id)
		})
	}
}

// IDs returns the identifiers in ascending order.
func (s *ResourceSet) IDs() []string {
	ids := make([]string, 0, s.Len())
	for id := range s.All() {
		ids = append(ids, id)
	}
	return ids
}
