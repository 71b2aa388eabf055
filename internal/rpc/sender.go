package rpc

import (
	"context"
	"fmt"

	"github.com/hkarim/crdtstore/internal/cluster"
	"github.com/hkarim/crdtstore/internal/model"
)

// UploadRequest asks a StorageSender to replicate records through its
// bound cluster.Storage.
type UploadRequest[K any, S any] struct {
	Records []model.Record[K, S]
}

// DownloadRequest asks for every live record as of cutoff.
type DownloadRequest struct {
	Cutoff int64
}

// RemoveRequest asks for keys to be tombstoned.
type RemoveRequest[K any] struct {
	Keys []K
}

// StorageSender adapts a cluster.Storage into a Sender, dispatching on the
// request's concrete type exactly as storage-node's StorageHandler
// dispatches gRPC methods onto its StorageService - reinterpreted here for
// the in-process request types TypeDispatch routes on, instead of a gRPC
// method set.
type StorageSender[K any, S any, P comparable] struct {
	storage *cluster.Storage[K, S, P]
}

// NewStorageSender wraps storage as a Sender.
func NewStorageSender[K any, S any, P comparable](storage *cluster.Storage[K, S, P]) *StorageSender[K, S, P] {
	return &StorageSender[K, S, P]{storage: storage}
}

func (s *StorageSender[K, S, P]) Send(ctx context.Context, req any) (any, error) {
	switch r := req.(type) {
	case UploadRequest[K, S]:
		return nil, s.storage.Upload(ctx, r.Records)
	case DownloadRequest:
		return s.storage.Download(ctx, r.Cutoff)
	case RemoveRequest[K]:
		return nil, s.storage.Remove(ctx, r.Keys)
	default:
		return nil, fmt.Errorf("rpc: storage sender: unsupported request type %T", req)
	}
}
