package transport_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memHandler struct {
	mu      sync.Mutex
	records map[int]crdt.GSet[int]
	merge   crdt.Func[crdt.GSet[int]]
	failAll bool
}

func newMemHandler() *memHandler {
	return &memHandler{records: make(map[int]crdt.GSet[int]), merge: crdt.GSetFunc[int]()}
}

func (h *memHandler) Upload(ctx context.Context, records []model.Record[int, crdt.GSet[int]]) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failAll {
		return fmt.Errorf("induced failure")
	}
	for _, r := range records {
		if cur, ok := h.records[r.Key]; ok {
			h.records[r.Key] = h.merge.Merge(cur, r.State)
		} else {
			h.records[r.Key] = r.State
		}
	}
	return nil
}

func (h *memHandler) Download(ctx context.Context, cutoff int64) ([]model.Record[int, crdt.GSet[int]], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Record[int, crdt.GSet[int]], 0, len(h.records))
	for k, s := range h.records {
		out = append(out, model.Record[int, crdt.GSet[int]]{Key: k, State: s})
	}
	return out, nil
}

func (h *memHandler) Remove(ctx context.Context, keys []int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		delete(h.records, k)
	}
	return nil
}

func startServer(t *testing.T, handler *memHandler) string {
	t.Helper()
	srv := transport.NewServer[int, crdt.GSet[int]](handler, codec.JSONCodec{}, zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, "") }()
	t.Cleanup(cancel)

	return srv.Addr().String()
}

func TestClientUploadDownloadRoundTrip(t *testing.T) {
	handler := newMemHandler()
	addr := startServer(t, handler)

	client := transport.NewClient[int, crdt.GSet[int]](addr, codec.JSONCodec{}, 2*time.Second)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, []model.Record[int, crdt.GSet[int]]{
		{Key: 1, State: crdt.NewGSet(1, 2)},
	}))

	records, err := client.Download(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, crdt.NewGSet(1, 2), records[0].State)
}

func TestClientRemove(t *testing.T) {
	handler := newMemHandler()
	addr := startServer(t, handler)

	client := transport.NewClient[int, crdt.GSet[int]](addr, codec.JSONCodec{}, 2*time.Second)
	ctx := context.Background()

	require.NoError(t, client.Upload(ctx, []model.Record[int, crdt.GSet[int]]{
		{Key: 1, State: crdt.NewGSet(1)},
	}))
	require.NoError(t, client.Remove(ctx, []int{1}))

	records, err := client.Download(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClientProbe(t *testing.T) {
	handler := newMemHandler()
	addr := startServer(t, handler)

	client := transport.NewClient[int, crdt.GSet[int]](addr, codec.JSONCodec{}, 2*time.Second)
	require.NoError(t, client.Probe(context.Background()))
}

func TestClientUploadSurfacesHandlerError(t *testing.T) {
	handler := newMemHandler()
	handler.failAll = true
	addr := startServer(t, handler)

	client := transport.NewClient[int, crdt.GSet[int]](addr, codec.JSONCodec{}, 2*time.Second)
	err := client.Upload(context.Background(), []model.Record[int, crdt.GSet[int]]{{Key: 1, State: crdt.NewGSet(1)}})
	assert.Error(t, err)
}

func TestClientDialFailureIsTransient(t *testing.T) {
	client := transport.NewClient[int, crdt.GSet[int]]("127.0.0.1:1", codec.JSONCodec{}, 200*time.Millisecond)
	_, err := client.Download(context.Background(), 0)
	assert.Error(t, err)
}
