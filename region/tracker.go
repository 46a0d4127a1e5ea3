package region

import "sync/atomic"

// node is an element of the tracker's singly linked list.
type node struct {
	region Region
	next   *node
}

// Tracker is an append-only set of dirty regions for one image source.
//
// Add never blocks: new regions are pushed at the head of a linked list with
// a compare-and-swap retry loop. Poll detaches the whole list in one atomic
// swap, so concurrent pollers each receive a disjoint segment and no region
// is ever lost or counted twice.
//
// The zero value is an empty tracker ready for use.
type Tracker struct {
	head atomic.Pointer[node]
}

// Add appends regions to the tracker. Invalid regions, such as the zero
// Region, are dropped. Safe for concurrent use.
func (t *Tracker) Add(regions ...Region) {
	// Build the batch as a private chain, then splice it in with one CAS.
	var first, last *node
	for _, r := range regions {
		if !r.Valid() {
			continue
		}
		n := &node{region: r}
		if first == nil {
			first = n
		} else {
			last.next = n
		}
		last = n
	}
	if first == nil {
		return
	}

	for {
		old := t.head.Load()
		last.next = old
		if t.head.CompareAndSwap(old, first) {
			return
		}
	}
}

// Poll detaches every pending region and returns them coalesced.
// Returns nil when nothing is pending.
func (t *Tracker) Poll() []Region {
	n := t.head.Swap(nil)
	if n == nil {
		return nil
	}
	var regions []Region
	for ; n != nil; n = n.next {
		regions = append(regions, n.region)
	}
	return Coalesce(regions)
}

// Empty reports whether no regions are pending.
func (t *Tracker) Empty() bool {
	return t.head.Load() == nil
}
