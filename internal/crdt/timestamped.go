package crdt

import "fmt"

// Timestamped is a last-write-wins state: a value (or a tombstone) stamped
// with the producer's wall-clock time. Merge keeps the later write; a
// tombstone wins ties against a live value, matching the "safe direction on
// clock regression" rule decided for the open question on WAL timestamps. A
// tie between two live values breaks deterministically on the values'
// formatted representation, so Merge(a, b) == Merge(b, a) regardless of
// argument order.
type Timestamped[V any] struct {
	Value     V
	At        int64
	Tombstone bool
}

// TimestampedFunc returns the merge contract for Timestamped[V]. A record
// can be dropped by Extract once it is a tombstone older than cutoff.
func TimestampedFunc[V any]() Func[Timestamped[V]] {
	return Func[Timestamped[V]]{
		Merge: func(a, b Timestamped[V]) Timestamped[V] {
			if a.At == b.At {
				if a.Tombstone || b.Tombstone {
					if a.Tombstone {
						return a
					}
					return b
				}
				if fmt.Sprint(a.Value) >= fmt.Sprint(b.Value) {
					return a
				}
				return b
			}
			if a.At > b.At {
				return a
			}
			return b
		},
		Extract: func(state Timestamped[V], cutoff int64) (Timestamped[V], bool) {
			if state.Tombstone && state.At < cutoff {
				return state, false
			}
			return state, true
		},
	}
}

// Tombstone builds a deletion marker stamped at at.
func Tombstone[V any](at int64) Timestamped[V] {
	return Timestamped[V]{At: at, Tombstone: true}
}
