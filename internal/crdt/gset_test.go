package crdt_test

import (
	"testing"

	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/stretchr/testify/assert"
)

func TestGSetMergeIsUnion(t *testing.T) {
	a := crdt.NewGSet(1, 2, 3)
	b := crdt.NewGSet(3, 4)

	merged := crdt.GSetFunc[int]().Merge(a, b)

	assert.ElementsMatch(t, []int{1, 2, 3, 4}, merged.Elements())
}

func TestGSetMergeIsCommutative(t *testing.T) {
	a := crdt.NewGSet("x", "y")
	b := crdt.NewGSet("y", "z")
	f := crdt.GSetFunc[string]()

	ab := f.Merge(a, b)
	ba := f.Merge(b, a)

	assert.ElementsMatch(t, ab.Elements(), ba.Elements())
}

func TestGSetMergeIsIdempotent(t *testing.T) {
	a := crdt.NewGSet(1, 2, 3)
	f := crdt.GSetFunc[int]()

	assert.ElementsMatch(t, a.Elements(), f.Merge(a, a).Elements())
}

func TestGSetAddDoesNotMutateReceiver(t *testing.T) {
	a := crdt.NewGSet(1, 2)
	b := a.Add(3)

	assert.False(t, a.Contains(3))
	assert.True(t, b.Contains(3))
}
