package local

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// idGenerator hands out dense integer chunk ids: a monotonic counter
// seeded from whichever is higher, the highest id already present on
// disk or a UUID-derived start offset. The UUID seed means a storage
// directory that lost its chunk files (wiped, or restored from a stale
// backup) still can't collide with ids a prior process hand out, since
// the new seed is vanishingly unlikely to fall within the old range.
type idGenerator struct {
	next int64
}

func newIDGenerator(dir string) (*idGenerator, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var max int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, err := strconv.ParseInt(e.Name(), 10, 64); err == nil && id > max {
			max = id
		}
	}

	if seed := uuidSeed(); seed > max {
		max = seed
	}

	return &idGenerator{next: max}, nil
}

// uuidSeed derives a positive int64 start offset from a fresh random
// UUID, so a process never starts handing out chunk ids from zero.
func uuidSeed() int64 {
	id := uuid.New()
	seed := int64(binary.BigEndian.Uint64(id[:8]) >> 1)
	return seed
}

func (g *idGenerator) Next() int64 {
	return atomic.AddInt64(&g.next, 1)
}
