package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/hkarim/crdtstore/internal/discovery"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantResolvesOnce(t *testing.T) {
	scheme := model.Scheme[string]{Current: map[string]model.Endpoint{
		"A": {ID: "A", Addr: "10.0.0.1:9000"},
	}}
	c := discovery.NewConstant(scheme)

	got, revision, err := c.Watch(context.Background(), model.Scheme[string]{})
	require.NoError(t, err)
	assert.Equal(t, scheme, got)
	assert.Equal(t, int64(1), revision)
}

func TestConstantBlocksOnceAlreadyObserved(t *testing.T) {
	scheme := model.Scheme[string]{Current: map[string]model.Endpoint{
		"A": {ID: "A", Addr: "10.0.0.1:9000"},
	}}
	c := discovery.NewConstant(scheme)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := c.Watch(ctx, scheme)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnionReturnsFirstChange(t *testing.T) {
	target := model.Scheme[string]{Current: map[string]model.Endpoint{
		"B": {ID: "B", Addr: "10.0.0.2:9000"},
	}}
	never := discovery.NewConstant(model.Scheme[string]{})
	resolves := discovery.NewConstant(target)

	u := discovery.NewUnion[string](never, resolves)
	got, _, err := u.Watch(context.Background(), model.Scheme[string]{Current: map[string]model.Endpoint{}})
	require.NoError(t, err)
	assert.Equal(t, target, got)
}
