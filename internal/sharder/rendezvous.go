// Package sharder implements the rendezvous (highest-random-weight)
// sharder from spec §4.5: for a key K and partition set P, rank every
// partition by a hash of (K, p) and take the top R. This construction, not
// consistent hashing with virtual nodes, is what gives the "remove one
// partition, at most 1/|P| of keys move" minimal-disruption guarantee the
// tests check.
package sharder

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// ToBytes converts a key or partition id into the bytes hashed by the
// rendezvous function. Supplied by the caller since K and P are opaque to
// this package.
type ToBytes[T any] func(T) []byte

// Sharder assigns each key its top-R partitions by rendezvous rank.
type Sharder[K any, P comparable] struct {
	replicas int
	keyBytes ToBytes[K]
	partBytes ToBytes[P]
}

// New builds a Sharder with replication factor r.
func New[K any, P comparable](r int, keyBytes ToBytes[K], partBytes ToBytes[P]) *Sharder[K, P] {
	return &Sharder[K, P]{replicas: r, keyBytes: keyBytes, partBytes: partBytes}
}

type ranked[P comparable] struct {
	partition P
	rank      uint64
}

// Top returns the top-R partitions for key, ordered by descending rank
// (ties broken by the partitions' own natural order via less).
func (s *Sharder[K, P]) Top(key K, partitions []P, less func(a, b P) bool) []P {
	keyBytes := s.keyBytes(key)

	ranks := make([]ranked[P], len(partitions))
	for i, p := range partitions {
		ranks[i] = ranked[P]{partition: p, rank: s.rank(keyBytes, p)}
	}

	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].rank != ranks[j].rank {
			return ranks[i].rank > ranks[j].rank
		}
		return less(ranks[i].partition, ranks[j].partition)
	})

	n := s.replicas
	if n > len(ranks) {
		n = len(ranks)
	}

	out := make([]P, n)
	for i := 0; i < n; i++ {
		out[i] = ranks[i].partition
	}
	return out
}

func (s *Sharder[K, P]) rank(keyBytes []byte, p P) uint64 {
	h := xxhash.New()
	h.Write(keyBytes)
	h.Write([]byte{0}) // separator: keys and partition ids may not be self-delimiting
	h.Write(s.partBytes(p))
	return h.Sum64()
}
