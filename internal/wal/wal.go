// Package wal implements the write-ahead log described by spec §4.2: a
// framed, durable append log with segment rotation, crash recovery and
// at-least-once handoff to local storage. The rotation and recovery shape
// follows storage-node's commit log service; the on-disk record format is
// the uvarint-framed stream from internal/codec.
package wal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/errors"
	"github.com/hkarim/crdtstore/internal/metrics"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/util/workerpool"
	"go.uber.org/zap"
)

// handoffStopTimeout bounds how long Stop waits for the handoff pool to
// drain in-flight segment uploads after rotateWg has already confirmed
// every submitted task finished or was rejected.
const handoffStopTimeout = 30 * time.Second

// Uploader is local storage's handoff contract (C3): merge a batch of
// records read from a sealed segment, end-to-end, or fail the whole batch.
type Uploader[K any, S any] interface {
	Upload(ctx context.Context, records []model.Record[K, S]) error
}

// WAL is the write-ahead log for one (K, S) record type.
type WAL[K any, S any] struct {
	dir      string
	nodeID   string
	cfg      config.WALConfig
	codec    codec.Codec
	uploader Uploader[K, S]
	logger   *zap.Logger
	metrics  *metrics.Metrics
	handoff  *workerpool.Pool

	mu           sync.Mutex
	file         *os.File
	writer       *bufio.Writer
	sequence     int64
	segmentBytes int64
	stopped      bool

	seq      int64
	stopCh   chan struct{}
	wg       sync.WaitGroup
	rotateWg sync.WaitGroup
}

// WithMetrics attaches m so appends, rotations, recovered-record counts
// and handoff failures are recorded against it, and returns the WAL for
// chaining at construction time.
func (w *WAL[K, S]) WithMetrics(m *metrics.Metrics) *WAL[K, S] {
	w.metrics = m
	return w
}

// Open creates the WAL directory if needed and opens a fresh segment.
// Callers must still call Start to drain any segments left over from a
// prior run before trusting the store's contents.
func Open[K any, S any](dir, nodeID string, cfg config.WALConfig, cdc codec.Codec, uploader Uploader[K, S], logger *zap.Logger) (*WAL[K, S], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WAL[K, S]{
		dir:      dir,
		nodeID:   nodeID,
		cfg:      cfg,
		codec:    cdc,
		uploader: uploader,
		logger:   logger,
		seq:      time.Now().UnixNano(),
		stopCh:   make(chan struct{}),
	}

	w.handoff = workerpool.New(workerpool.Config{
		Name:       fmt.Sprintf("wal-handoff-%s", nodeID),
		MaxWorkers: cfg.HandoffWorkers,
		Logger:     logger,
	})

	if err := w.openNewSegmentLocked(); err != nil {
		return nil, err
	}

	w.wg.Add(1)
	go w.rotationTicker()

	return w, nil
}

func (w *WAL[K, S]) nextSequence() int64 {
	return atomic.AddInt64(&w.seq, 1)
}

func (w *WAL[K, S]) openNewSegmentLocked() error {
	seq := w.nextSequence()
	path := segmentPath(w.dir, w.nodeID, seq, false)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open wal segment: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	w.sequence = seq
	w.segmentBytes = 0
	return nil
}

// Start drains every sealed segment (and any open segment abandoned by a
// prior process) into storage. Must be called once before the WAL is
// considered durable.
func (w *WAL[K, S]) Start(ctx context.Context) error {
	return w.recover(ctx)
}

// Put appends one record frame to the current open segment. It returns
// once the frame has reached the OS write buffer and, if SyncWrites is
// configured, once fsync has returned.
func (w *WAL[K, S]) Put(ctx context.Context, key K, state S) error {
	start := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return errors.Shutdown("wal is stopped")
	}

	record := model.Record[K, S]{Key: key, State: state, Timestamp: time.Now().UnixNano()}
	data, err := w.codec.Marshal(record)
	if err != nil {
		return errors.Malformed("marshal wal record", err)
	}

	if err := codec.WriteFrame(w.writer, data); err != nil {
		w.sealOnErrorLocked()
		return errors.Transient("append wal record", err)
	}
	if err := w.writer.Flush(); err != nil {
		w.sealOnErrorLocked()
		return errors.Transient("flush wal buffer", err)
	}
	if w.cfg.SyncWrites {
		if err := w.file.Sync(); err != nil {
			w.sealOnErrorLocked()
			return errors.Transient("fsync wal segment", err)
		}
	}

	w.segmentBytes += int64(len(data))
	if w.segmentBytes >= w.cfg.SegmentSize {
		sealed, err := w.rotateLocked()
		if err == nil {
			w.submitDrain(sealed)
		}
	}

	if w.metrics != nil {
		w.metrics.RecordWALAppend(time.Since(start).Seconds())
	}
	return nil
}

// sealOnErrorLocked seals the current segment after a write failure, per
// spec: "I/O error while appending -> the segment is sealed; subsequent
// puts open a new segment." Caller holds w.mu.
func (w *WAL[K, S]) sealOnErrorLocked() {
	if sealed, err := w.rotateLocked(); err == nil {
		w.submitDrain(sealed)
	}
}

// rotateLocked closes the current segment, renames it to sealed, and opens
// a fresh one. Caller holds w.mu.
func (w *WAL[K, S]) rotateLocked() (string, error) {
	if err := w.writer.Flush(); err != nil {
		w.logger.Warn("flush before rotation failed", zap.Error(err))
	}
	if err := w.file.Close(); err != nil {
		w.logger.Warn("close segment before rotation failed", zap.Error(err))
	}

	openPath := segmentPath(w.dir, w.nodeID, w.sequence, false)
	sealedPath := segmentPath(w.dir, w.nodeID, w.sequence, true)
	if err := os.Rename(openPath, sealedPath); err != nil {
		return "", fmt.Errorf("seal wal segment: %w", err)
	}

	if err := w.openNewSegmentLocked(); err != nil {
		return "", err
	}
	if w.metrics != nil {
		w.metrics.RecordWALRotation()
	}
	return sealedPath, nil
}

// submitDrain hands a sealed segment's handoff off to the dedicated
// worker pool instead of the caller's goroutine, per spec §5's "blocking
// file I/O is delegated to a dedicated executor pool." rotateWg is
// released either when the submitted task finishes or, if the pool
// rejects the task outright (stopped or queue full), immediately - the
// segment stays on disk either way and is drained again by the recovery
// pass of the next Start. Later rotations and Flush drain only the
// segment they seal themselves.
func (w *WAL[K, S]) submitDrain(path string) {
	w.rotateWg.Add(1)
	task := workerpool.Task{
		ID: path,
		Fn: func(ctx context.Context) error {
			defer w.rotateWg.Done()
			if _, err := w.drainSegment(ctx, path); err != nil {
				w.logger.Warn("sealed segment retained, will retry", zap.String("path", path), zap.Error(err))
				if w.metrics != nil {
					w.metrics.RecordWALHandoffFailure()
				}
			}
			return nil
		},
	}
	if err := w.handoff.Submit(task); err != nil {
		w.rotateWg.Done()
		w.logger.Warn("handoff pool rejected sealed segment, will retry", zap.String("path", path), zap.Error(err))
		if w.metrics != nil {
			w.metrics.RecordWALHandoffFailure()
		}
	}
}

// Flush seals the current segment and blocks until storage has
// acknowledged the merge of every record it held.
func (w *WAL[K, S]) Flush(ctx context.Context) error {
	w.mu.Lock()
	sealed, err := w.rotateLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = w.drainSegment(ctx, sealed)
	return err
}

// Stop performs a final flush and refuses further writes.
func (w *WAL[K, S]) Stop(ctx context.Context) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.rotateWg.Wait()
	return w.handoff.Stop(handoffStopTimeout)
}

func (w *WAL[K, S]) rotationTicker() {
	defer w.wg.Done()
	if w.cfg.FlushInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			hasData := w.segmentBytes > 0
			var sealed string
			var err error
			if hasData {
				sealed, err = w.rotateLocked()
			}
			w.mu.Unlock()

			if hasData && err == nil {
				w.submitDrain(sealed)
			}
		}
	}
}
