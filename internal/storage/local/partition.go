package local

import (
	"context"

	"github.com/hkarim/crdtstore/internal/model"
)

// Partition adapts Store's streaming upload/download/remove sessions into
// the batched shape cluster.Storage and the transport server expect of a
// partition: a node's own local replica and its network-facing transport
// handler are both just this wrapper around the same Store.
type Partition[K any, S any] struct {
	store *Store[K, S]
}

// NewPartition wraps store for use as a batched partition.
func NewPartition[K any, S any](store *Store[K, S]) *Partition[K, S] {
	return &Partition[K, S]{store: store}
}

func (p *Partition[K, S]) Upload(ctx context.Context, records []model.Record[K, S]) error {
	sink := p.store.NewUploadSink()
	for _, r := range records {
		sink.Send(r.Key, r.State)
	}
	return sink.EndOfStream(ctx)
}

func (p *Partition[K, S]) Download(ctx context.Context, cutoff int64) ([]model.Record[K, S], error) {
	cursor := p.store.Download(cutoff)
	var out []model.Record[K, S]
	for {
		rec, ok := cursor.Next()
		if !ok {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *Partition[K, S]) Remove(ctx context.Context, keys []K) error {
	sink, err := p.store.NewRemoveSink()
	if err != nil {
		return err
	}
	for _, k := range keys {
		sink.Send(k)
	}
	return sink.EndOfStream(ctx)
}

// Probe reports local storage as always reachable; a real network
// Partition's Probe is the one that actually round-trips a health check.
func (p *Partition[K, S]) Probe(ctx context.Context) error {
	return nil
}
