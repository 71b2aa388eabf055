package wal_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/config"
	"github.com/hkarim/crdtstore/internal/crdt"
	"github.com/hkarim/crdtstore/internal/model"
	"github.com/hkarim/crdtstore/internal/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mergingUploader is a test double for local storage: it merges incoming
// records into a key->state map using a crdt.Func, exactly like storage
// would, without any of C3's chunk-file machinery.
type mergingUploader struct {
	mu     sync.Mutex
	merge  crdt.Func[crdt.GSet[int]]
	states map[int]crdt.GSet[int]
}

func newMergingUploader() *mergingUploader {
	return &mergingUploader{merge: crdt.GSetFunc[int](), states: map[int]crdt.GSet[int]{}}
}

func (u *mergingUploader) Upload(_ context.Context, records []model.Record[int, crdt.GSet[int]]) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range records {
		if existing, ok := u.states[r.Key]; ok {
			u.states[r.Key] = u.merge.Merge(existing, r.State)
		} else {
			u.states[r.Key] = r.State
		}
	}
	return nil
}

func (u *mergingUploader) snapshot() map[int]crdt.GSet[int] {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[int]crdt.GSet[int], len(u.states))
	for k, v := range u.states {
		out[k] = v
	}
	return out
}

func testWALConfig() config.WALConfig {
	return config.WALConfig{SegmentSize: 1 << 30}
}

func TestSingleFlushSequentialPuts(t *testing.T) {
	dir := t.TempDir()
	uploader := newMergingUploader()

	w, err := wal.Open[int, crdt.GSet[int]](dir, "node-1", testWALConfig(), codec.JSONCodec{}, uploader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	puts := []model.Record[int, crdt.GSet[int]]{
		{Key: 1, State: crdt.NewGSet(1, 2, 3)},
		{Key: 2, State: crdt.NewGSet(-12, 0, 200)},
		{Key: 1, State: crdt.NewGSet(1, 6)},
		{Key: 2, State: crdt.NewGSet(2, 3, 100)},
		{Key: 1, State: crdt.NewGSet(9, 10, 11)},
	}
	for _, p := range puts {
		require.NoError(t, w.Put(context.Background(), p.Key, p.State))
	}
	require.NoError(t, w.Flush(context.Background()))

	snap := uploader.snapshot()
	assert.ElementsMatch(t, []int{1, 2, 3, 6, 9, 10, 11}, snap[1].Elements())
	assert.ElementsMatch(t, []int{-12, 0, 2, 3, 100, 200}, snap[2].Elements())
}

func TestRecoveryFromSealedSegments(t *testing.T) {
	dir := t.TempDir()
	uploader := newMergingUploader()

	writeSealedSegment(t, dir, 1, []model.Record[int, crdt.GSet[int]]{
		{Key: 1, State: crdt.NewGSet(1, 2, 3)},
		{Key: 2, State: crdt.NewGSet(-12, 0, 200)},
		{Key: 1, State: crdt.NewGSet(1, 6)},
	})
	writeSealedSegment(t, dir, 2, []model.Record[int, crdt.GSet[int]]{
		{Key: 2, State: crdt.NewGSet(2, 3, 100)},
		{Key: 1, State: crdt.NewGSet(9, 10, 11)},
	})

	w, err := wal.Open[int, crdt.GSet[int]](dir, "node-1", testWALConfig(), codec.JSONCodec{}, uploader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	snap := uploader.snapshot()
	assert.ElementsMatch(t, []int{1, 2, 3, 6, 9, 10, 11}, snap[1].Elements())
	assert.ElementsMatch(t, []int{-12, 0, 2, 3, 100, 200}, snap[2].Elements())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	sealedCount, openCount := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".wal.final"):
			sealedCount++
		case strings.HasSuffix(e.Name(), ".wal"):
			openCount++
		}
	}
	assert.Equal(t, 0, sealedCount)
	assert.Equal(t, 1, openCount)
}

func TestMalformedTailSurvivesAsPrefix(t *testing.T) {
	dir := t.TempDir()
	uploader := newMergingUploader()

	path := writeSealedSegment(t, dir, 1, []model.Record[int, crdt.GSet[int]]{
		{Key: 1, State: crdt.NewGSet(1)},
		{Key: 1, State: crdt.NewGSet(2)},
		{Key: 1, State: crdt.NewGSet(3)},
		{Key: 1, State: crdt.NewGSet(4)},
	})

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, full[:len(full)*3/4], 0o644))

	w, err := wal.Open[int, crdt.GSet[int]](dir, "node-1", testWALConfig(), codec.JSONCodec{}, uploader, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	snap := uploader.snapshot()
	assert.Subset(t, []int{1, 2, 3, 4}, snap[1].Elements())
	assert.NotEmpty(t, snap[1].Elements())
}

// writeSealedSegment crafts a sealed WAL segment file directly, bypassing
// the WAL type, for recovery tests that need to control file layout.
func writeSealedSegment(t *testing.T, dir string, id int64, records []model.Record[int, crdt.GSet[int]]) string {
	t.Helper()
	path := filepath.Join(dir, filepathSegmentName(id))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	cdc := codec.JSONCodec{}
	for _, r := range records {
		data, err := cdc.Marshal(r)
		require.NoError(t, err)
		require.NoError(t, codec.WriteFrame(f, data))
	}
	require.NoError(t, codec.WriteEndOfStream(f))
	return path
}

func filepathSegmentName(id int64) string {
	return fmt.Sprintf("node-1_%020d.wal.final", id)
}
