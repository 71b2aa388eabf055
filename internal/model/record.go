// Package model holds the data types shared by the WAL, local storage and
// cluster layers: the (K, S, τ) record tuple and the partition scheme.
package model

// Record is the (K, S, τ) tuple from spec §3: a key, an opaque CRDT state and
// the producer-assigned timestamp. Records for the same key are always
// mergeable via the caller-supplied crdt.Func.
type Record[K any, S any] struct {
	Key       K
	State     S
	Timestamp int64
}

// Endpoint identifies a remote storage-endpoint a partition scheme resolves
// to. Addr is transport-specific (host:port for the TCP transport).
type Endpoint struct {
	ID   string
	Addr string
}

// Scheme is the partition scheme from spec §3: (current, target). Target is
// nil when the cluster is not rebalancing.
type Scheme[P comparable] struct {
	Current map[P]Endpoint
	Target  map[P]Endpoint
}

// Equal compares current and target maps for equality, as required by the
// discovery contract (resolve only when either map actually changed).
func (s Scheme[P]) Equal(other Scheme[P]) bool {
	return endpointMapEqual(s.Current, other.Current) && endpointMapEqual(s.Target, other.Target)
}

func endpointMapEqual[P comparable](a, b map[P]Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Rebalancing reports whether the scheme has a non-nil target, i.e. the
// cluster is mid-rebalance (spec §3).
func (s Scheme[P]) Rebalancing() bool {
	return s.Target != nil
}
