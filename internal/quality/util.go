package quality

import "strings"

func countWords(s string) int {
	return len(strings.Fields(s))
}

// orderedSet keeps the first occurrence of each string.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool), items: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if !s.seen[v] {
			s.seen[v] = true
			s.items = append(s.items, v)
		}
	}
}

// Unique returns vals without duplicates, keeping first-seen order.
func Unique(vals []string) []string {
	s := newOrderedSet()
	s.add(vals...)
	return s.items
}

// better reports whether v is a strictly better grade than other.
func (v Verdict) better(other Verdict) bool {
	return v.rank() > other.rank()
}
