package wal

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/util/workerpool"
	"go.uber.org/zap"
)

// recover implements the crash-recovery algorithm from spec §4.2: list the
// directory, partition files into open/sealed by suffix, rename open to
// sealed, then drain every sealed segment into storage. A framing error on
// a segment truncates the read at the last valid frame boundary; the
// surviving records are still drained.
func (w *WAL[K, S]) recover(ctx context.Context) error {
	open, sealed, err := listSegments(w.dir, w.nodeID)
	if err != nil {
		return err
	}

	// Don't touch the segment we just opened for fresh writes.
	open = excludeSeq(open, w.sequence)

	for _, seq := range open {
		openPath := segmentPath(w.dir, w.nodeID, seq, false)
		sealedPath := segmentPath(w.dir, w.nodeID, seq, true)
		if err := os.Rename(openPath, sealedPath); err != nil {
			w.logger.Warn("failed to seal abandoned open segment", zap.Int64("sequence", seq), zap.Error(err))
			continue
		}
		sealed = append(sealed, seq)
	}

	// Every sealed segment's handoff goes through the same dedicated pool
	// normal rotation uses, fanned out concurrently rather than one at a
	// time, since draining is independent per segment.
	var wg sync.WaitGroup
	var recovered int64
	for _, seq := range sealed {
		path := segmentPath(w.dir, w.nodeID, seq, true)
		wg.Add(1)
		task := workerpool.Task{
			ID:      path,
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				n, err := w.drainSegment(taskCtx, path)
				atomic.AddInt64(&recovered, int64(n))
				if err != nil {
					w.logger.Warn("sealed segment retained after recovery, will retry", zap.String("path", path), zap.Error(err))
				}
				return nil
			},
		}
		if err := w.handoff.SubmitWithContext(ctx, task); err != nil {
			wg.Done()
			w.logger.Warn("handoff pool rejected segment during recovery", zap.String("path", path), zap.Error(err))
		}
	}
	wg.Wait()

	if w.metrics != nil && recovered > 0 {
		w.metrics.RecordWALRecovery(int(recovered))
	}
	return nil
}

func excludeSeq(seqs []int64, exclude int64) []int64 {
	out := seqs[:0:0]
	for _, seq := range seqs {
		if seq != exclude {
			out = append(out, seq)
		}
	}
	return out
}

// drainSegment reads every record it can from path, hands the surviving
// prefix to storage in one upload session, and unlinks the file only
// after the session succeeds. Empty or fully-malformed files are deleted
// without an upload call.
func (w *WAL[K, S]) drainSegment(ctx context.Context, path string) (int, error) {
	records, err := w.readSegment(path)
	if err != nil {
		return 0, err
	}

	if len(records) == 0 {
		return 0, os.Remove(path)
	}

	if err := w.uploader.Upload(ctx, records); err != nil {
		return 0, err
	}

	return len(records), os.Remove(path)
}

func (w *WAL[K, S]) readSegment(path string) ([]model.Record[K, S], error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var records []model.Record[K, S]

	for {
		payload, end, ferr := codec.ReadFrame(reader)
		if ferr != nil {
			if ferr == io.EOF {
				break
			}
			w.logger.Warn("malformed wal tail discarded", zap.String("path", path), zap.Error(ferr))
			break
		}
		if end {
			break
		}

		var record model.Record[K, S]
		if uerr := w.codec.Unmarshal(payload, &record); uerr != nil {
			w.logger.Warn("malformed wal record discarded", zap.String("path", path), zap.Error(uerr))
			break
		}
		records = append(records, record)
	}

	return records, nil
}
