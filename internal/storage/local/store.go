package local

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/metrics"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/wal"
	"go.uber.org/zap"
)

// Store is the local keyed store from spec §4.3: a merge-on-write live
// state indexed by K, backed by chunk files on disk and fed either
// directly or via a WAL uploader session.
type Store[K any, S any] struct {
	dir       string
	cfg       config.StorageConfig
	codec     codec.Codec
	merge     crdt.Func[S]
	tombstone func(at int64) S // nil if this state type has no tombstone
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu     sync.RWMutex
	live   *skipList[K, S]
	ids    *idGenerator
	less   func(a, b K) bool
	chunks int64
}

// WithMetrics attaches m so every chunk write and extraction pass is
// recorded against it, and returns the store for chaining at construction
// time.
func (s *Store[K, S]) WithMetrics(m *metrics.Metrics) *Store[K, S] {
	s.metrics = m
	return s
}

// Options configures a Store beyond what Config carries: the key
// ordering and, for state types that support deletion, the tombstone
// constructor Remove uses.
type Options[K any, S any] struct {
	Less      func(a, b K) bool
	Tombstone func(at int64) S
}

// Open loads every chunk file under dir into the in-memory live index and
// returns a ready Store. It implements local storage's own half of C3;
// WAL recovery drives it through Upload, not through this load step.
func Open[K any, S any](dir string, cfg config.StorageConfig, cdc codec.Codec, merge crdt.Func[S], opts Options[K, S], logger *zap.Logger) (*Store[K, S], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Less == nil {
		return nil, fmt.Errorf("storage: Options.Less is required")
	}

	ids, err := newIDGenerator(dir)
	if err != nil {
		return nil, err
	}

	s := &Store[K, S]{
		dir:       dir,
		cfg:       cfg,
		codec:     cdc,
		merge:     merge,
		tombstone: opts.Tombstone,
		logger:    logger,
		live:      newSkipList[K, S](opts.Less),
		ids:       ids,
		less:      opts.Less,
	}

	if err := s.loadChunks(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[K, S]) loadChunks() error {
	paths, err := listChunkFiles(s.dir)
	if err != nil {
		return err
	}
	for _, path := range paths {
		records, err := readChunk[K, S](path, s.codec)
		if err != nil {
			s.logger.Warn("failed to load chunk, skipping", zap.String("path", path), zap.Error(err))
			continue
		}
		s.mergeRecordsLocked(records)
	}
	atomic.StoreInt64(&s.chunks, int64(len(paths)))
	return nil
}

func (s *Store[K, S]) mergeRecordsLocked(records []model.Record[K, S]) {
	for _, r := range records {
		if existing, ok := s.live.Search(r.Key); ok {
			s.live.Upsert(r.Key, s.merge.Merge(existing, r.State))
		} else {
			s.live.Upsert(r.Key, r.State)
		}
	}
}

// Upload implements wal.Uploader: persist a batch of records as one chunk,
// then merge them into the live index atomically with respect to
// concurrent downloads.
func (s *Store[K, S]) Upload(ctx context.Context, records []model.Record[K, S]) error {
	if len(records) == 0 {
		return nil
	}

	id := s.ids.Next()
	if err := writeChunk(s.dir, id, s.codec, s.cfg.Compress, records); err != nil {
		return fmt.Errorf("persist chunk: %w", err)
	}
	chunks := atomic.AddInt64(&s.chunks, 1)

	s.mu.Lock()
	s.mergeRecordsLocked(records)
	entries := s.live.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UpdateLocalStoreStats(entries, int(chunks))
	}

	return nil
}

var _ wal.Uploader[int, int] = (*Store[int, int])(nil)

// UploadSink is the streaming half of Upload: spec's upload() returns a
// sink that buffers records invisibly until EndOfStream, then installs
// them atomically.
type UploadSink[K any, S any] struct {
	store   *Store[K, S]
	pending []model.Record[K, S]
}

func (s *Store[K, S]) NewUploadSink() *UploadSink[K, S] {
	return &UploadSink[K, S]{store: s}
}

func (u *UploadSink[K, S]) Send(key K, state S) {
	u.pending = append(u.pending, model.Record[K, S]{Key: key, State: state, Timestamp: time.Now().UnixNano()})
}

// EndOfStream installs every buffered record atomically and persists them.
func (u *UploadSink[K, S]) EndOfStream(ctx context.Context) error {
	return u.store.Upload(ctx, u.pending)
}

// DownloadSource streams live records in ascending key order, applying
// Extract against cutoff.
type DownloadSource[K any, S any] struct {
	records []model.Record[K, S]
	pos     int
}

func (d *DownloadSource[K, S]) Next() (model.Record[K, S], bool) {
	if d.pos >= len(d.records) {
		var zero model.Record[K, S]
		return zero, false
	}
	r := d.records[d.pos]
	d.pos++
	return r, true
}

// Download returns live state as of the call, in key order. cutoff==0
// means "all live state" per spec §4.3's τ=⊥ default.
func (s *Store[K, S]) Download(cutoff int64) *DownloadSource[K, S] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Record[K, S]
	s.live.Range(func(key K, state S) bool {
		extracted, keep := s.merge.Extract(state, cutoff)
		if keep {
			out = append(out, model.Record[K, S]{Key: key, State: extracted})
		}
		return true
	})
	return &DownloadSource[K, S]{records: out}
}

// RemoveSink accepts keys to tombstone; EndOfStream installs the
// tombstones the same way an upload session does.
type RemoveSink[K any, S any] struct {
	store *Store[K, S]
	keys  []K
}

func (s *Store[K, S]) NewRemoveSink() (*RemoveSink[K, S], error) {
	if s.tombstone == nil {
		return nil, fmt.Errorf("storage: state type has no tombstone constructor, remove unsupported")
	}
	return &RemoveSink[K, S]{store: s}, nil
}

func (r *RemoveSink[K, S]) Send(key K) {
	r.keys = append(r.keys, key)
}

func (r *RemoveSink[K, S]) EndOfStream(ctx context.Context) error {
	at := time.Now().UnixNano()
	records := make([]model.Record[K, S], 0, len(r.keys))
	for _, k := range r.keys {
		records = append(records, model.Record[K, S]{Key: k, State: r.store.tombstone(at), Timestamp: at})
	}
	return r.store.Upload(ctx, records)
}

// Size reports the approximate number of live keys.
func (s *Store[K, S]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live.Len()
}

// RunExtraction periodically applies Extract against the current wall
// clock and drops keys it reports as fully removed, e.g. tombstones older
// than the cutoff. It blocks until ctx is canceled.
func (s *Store[K, S]) RunExtraction(ctx context.Context) {
	if s.cfg.ExtractInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.ExtractInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.extractOnce()
		}
	}
}

func (s *Store[K, S]) extractOnce() {
	cutoff := time.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	var drop []K
	s.live.Range(func(key K, state S) bool {
		extracted, keep := s.merge.Extract(state, cutoff)
		if !keep {
			drop = append(drop, key)
		} else {
			s.live.Upsert(key, extracted)
		}
		return true
	})
	for _, key := range drop {
		s.live.Delete(key)
	}

	if s.metrics != nil {
		s.metrics.RecordExtraction(len(drop))
	}
}
