package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Segment file naming per spec §6: "<node-id>_<sequence>.wal" while open,
// "<node-id>_<sequence>.wal.final" once sealed and queued for upload.
const (
	openExt   = ".wal"
	sealedExt = ".wal.final"
)

func segmentPath(dir, nodeID string, seq int64, sealed bool) string {
	name := fmt.Sprintf("%s_%020d%s", nodeID, seq, openExt)
	if sealed {
		name += ".final"
	}
	return filepath.Join(dir, name)
}

// listSegments partitions a WAL directory's files belonging to nodeID into
// open and sealed sequence numbers, sorted so replay order matches write
// order.
func listSegments(dir, nodeID string) (open, sealed []int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read wal dir: %w", err)
	}

	prefix := nodeID + "_"
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}

		switch {
		case strings.HasSuffix(name, sealedExt):
			if seq, ok := parseSequence(name, prefix, sealedExt); ok {
				sealed = append(sealed, seq)
			}
		case strings.HasSuffix(name, openExt):
			if seq, ok := parseSequence(name, prefix, openExt); ok {
				open = append(open, seq)
			}
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
	sort.Slice(sealed, func(i, j int) bool { return sealed[i] < sealed[j] })
	return open, sealed, nil
}

func parseSequence(name, prefix, ext string) (int64, bool) {
	base := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
	seq, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
