package rpc_test

import (
	"context"
	"testing"

	"github.com/hkarim/crdtstore/internal/cluster"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/rpc"
	"github.com/hkarim/crdtstore/internal/sharder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPartition struct {
	records map[int]crdt.GSet[int]
	merge   crdt.Func[crdt.GSet[int]]
}

func newMemPartition() *memPartition {
	return &memPartition{records: make(map[int]crdt.GSet[int]), merge: crdt.GSetFunc[int]()}
}

func (p *memPartition) Upload(ctx context.Context, records []model.Record[int, crdt.GSet[int]]) error {
	for _, r := range records {
		if cur, ok := p.records[r.Key]; ok {
			p.records[r.Key] = p.merge.Merge(cur, r.State)
		} else {
			p.records[r.Key] = r.State
		}
	}
	return nil
}

func (p *memPartition) Download(ctx context.Context, cutoff int64) ([]model.Record[int, crdt.GSet[int]], error) {
	out := make([]model.Record[int, crdt.GSet[int]], 0, len(p.records))
	for k, s := range p.records {
		out = append(out, model.Record[int, crdt.GSet[int]]{Key: k, State: s})
	}
	return out, nil
}

func (p *memPartition) Remove(ctx context.Context, keys []int) error {
	for _, k := range keys {
		delete(p.records, k)
	}
	return nil
}

func (p *memPartition) Probe(ctx context.Context) error { return nil }

func newTestStorageSender(t *testing.T) *rpc.StorageSender[int, crdt.GSet[int], string] {
	t.Helper()
	sh := sharder.New[int, string](1, func(k int) []byte { return []byte{byte(k)} }, func(p string) []byte { return []byte(p) })
	lessPart := func(a, b string) bool { return a < b }
	lessKey := func(a, b int) bool { return a < b }

	storage := cluster.New[int, crdt.GSet[int], string](
		config.ClusterConfig{Replicas: 1, WriteQuorum: 1, ReadQuorum: 1},
		crdt.GSetFunc[int](), sh, lessPart, lessKey, zap.NewNop(),
	)
	storage.SetPartitions(map[string]cluster.Partition[int, crdt.GSet[int]]{"A": newMemPartition()})
	return rpc.NewStorageSender[int, crdt.GSet[int], string](storage)
}

func TestStorageSenderDispatchesUploadAndDownload(t *testing.T) {
	sender := newTestStorageSender(t)
	ctx := context.Background()

	_, err := sender.Send(ctx, rpc.UploadRequest[int, crdt.GSet[int]]{
		Records: []model.Record[int, crdt.GSet[int]]{{Key: 1, State: crdt.NewGSet(1, 2)}},
	})
	require.NoError(t, err)

	resp, err := sender.Send(ctx, rpc.DownloadRequest{Cutoff: 0})
	require.NoError(t, err)
	records, ok := resp.([]model.Record[int, crdt.GSet[int]])
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, crdt.NewGSet(1, 2), records[0].State)
}

func TestStorageSenderDispatchesRemove(t *testing.T) {
	sender := newTestStorageSender(t)
	ctx := context.Background()

	_, err := sender.Send(ctx, rpc.UploadRequest[int, crdt.GSet[int]]{
		Records: []model.Record[int, crdt.GSet[int]]{{Key: 1, State: crdt.NewGSet(1)}},
	})
	require.NoError(t, err)

	_, err = sender.Send(ctx, rpc.RemoveRequest[int]{Keys: []int{1}})
	require.NoError(t, err)

	resp, err := sender.Send(ctx, rpc.DownloadRequest{Cutoff: 0})
	require.NoError(t, err)
	records := resp.([]model.Record[int, crdt.GSet[int]])
	assert.Empty(t, records)
}

func TestStorageSenderRejectsUnknownRequestType(t *testing.T) {
	sender := newTestStorageSender(t)
	_, err := sender.Send(context.Background(), "not a request")
	assert.Error(t, err)
}
