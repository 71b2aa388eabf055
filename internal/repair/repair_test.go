package repair_test

import (
	"context"
	"testing"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/repair"
	"github.com/hkarim/crdtstore/internal/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func lessInt(a, b int) bool { return a < b }

func newNodeStore(t *testing.T) *local.Store[int, crdt.GSet[int]] {
	t.Helper()
	dir := t.TempDir()
	store, err := local.Open[int, crdt.GSet[int]](dir, config.StorageConfig{}, codec.JSONCodec{}, crdt.GSetFunc[int](), local.Options[int, crdt.GSet[int]]{Less: lessInt}, zap.NewNop())
	require.NoError(t, err)
	return store
}

// TestRepairConvergesTwoNodes implements the literal repair-convergence
// scenario: node A holds {(k, S1)}, node B holds {(k, S2)}. After one
// repair cycle pulling in each direction, both nodes hold merge(S1, S2),
// and a further cycle changes nothing.
func TestRepairConvergesTwoNodes(t *testing.T) {
	ctx := context.Background()
	const k = 42

	nodeA := newNodeStore(t)
	nodeB := newNodeStore(t)

	require.NoError(t, nodeA.Upload(ctx, []model.Record[int, crdt.GSet[int]]{{Key: k, State: crdt.NewGSet(1, 2)}}))
	require.NoError(t, nodeB.Upload(ctx, []model.Record[int, crdt.GSet[int]]{{Key: k, State: crdt.NewGSet(3)}}))

	peerA := repair.NewLocalPeer[int, crdt.GSet[int]](nodeA)
	peerB := repair.NewLocalPeer[int, crdt.GSet[int]](nodeB)

	loopA := repair.New[int, crdt.GSet[int], string](
		peerA,
		func() map[string]repair.Peer[int, crdt.GSet[int]] { return map[string]repair.Peer[int, crdt.GSet[int]]{"B": peerB} },
		nil,
		config.RepairConfig{Enabled: true},
		zap.NewNop(),
	)
	loopB := repair.New[int, crdt.GSet[int], string](
		peerB,
		func() map[string]repair.Peer[int, crdt.GSet[int]] { return map[string]repair.Peer[int, crdt.GSet[int]]{"A": peerA} },
		nil,
		config.RepairConfig{Enabled: true},
		zap.NewNop(),
	)

	require.NoError(t, loopA.RunOnce(ctx))
	require.NoError(t, loopB.RunOnce(ctx))

	want := crdt.NewGSet(1, 2, 3)

	stateA, ok := firstState(t, nodeA)
	require.True(t, ok)
	assert.Equal(t, want, stateA)

	stateB, ok := firstState(t, nodeB)
	require.True(t, ok)
	assert.Equal(t, want, stateB)

	// A further cycle in each direction is a no-op: merge is idempotent.
	require.NoError(t, loopA.RunOnce(ctx))
	require.NoError(t, loopB.RunOnce(ctx))

	stateA, _ = firstState(t, nodeA)
	stateB, _ = firstState(t, nodeB)
	assert.Equal(t, want, stateA)
	assert.Equal(t, want, stateB)
}

func firstState(t *testing.T, store *local.Store[int, crdt.GSet[int]]) (crdt.GSet[int], bool) {
	t.Helper()
	cursor := store.Download(0)
	rec, ok := cursor.Next()
	if !ok {
		return nil, false
	}
	return rec.State, true
}
