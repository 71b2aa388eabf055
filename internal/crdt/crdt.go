// Package crdt holds the merge contract records are required to satisfy
// (spec §3, §4.4) and a couple of reference states built on top of it. The
// shape mirrors storage-node's VectorClockService: a small set of pure
// functions over an opaque state, with no notion of a specific wire format.
package crdt

// Func is the merge contract a caller supplies for its state type S. Merge
// must be commutative, associative and idempotent; Extract implements the
// read-time GC described in spec §4.4 (drop anything fully subsumed by
// cutoff, such as an expired tombstone).
type Func[S any] struct {
	// Merge combines two states for the same key into one. Must be
	// commutative, associative and idempotent.
	Merge func(a, b S) S

	// Extract returns a possibly-smaller representation of state once
	// timestamps before cutoff no longer matter, and whether the key is
	// kept: false means it can be dropped entirely (e.g. a tombstone older
	// than cutoff with nothing left to merge against).
	Extract func(state S, cutoff int64) (S, bool)
}

// Identity returns a Func whose Extract is a no-op and never drops a key.
// Useful for state types with no tombstone concept.
func Identity[S any](merge func(a, b S) S) Func[S] {
	return Func[S]{
		Merge: merge,
		Extract: func(state S, _ int64) (S, bool) {
			return state, true
		},
	}
}
