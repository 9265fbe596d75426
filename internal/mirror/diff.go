package mirror

import (
	"sort"
)

// SyncPlan lists the gems to fetch and to delete in one run. Both lists
// are sorted and disjoint.
type SyncPlan struct {
	ToFetch  []string
	ToDelete []string
}

// Empty returns true if the mirror is already up to date.
func (p *SyncPlan) Empty() bool {
	return len(p.ToFetch) == 0 && len(p.ToDelete) == 0
}

// Diff compares the wanted remote names with the local inventory.
func Diff(remote, local NameSet) *SyncPlan {
	return &SyncPlan{
		ToFetch:  difference(remote, local),
		ToDelete: difference(local, remote),
	}
}

// difference returns a - b, sorted.
func difference(a, b NameSet) []string {
	out := make([]string, 0)
	for name := range a {
		if !b.Has(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
