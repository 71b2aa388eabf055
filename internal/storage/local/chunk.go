package local

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/hkarim/crdtstore/internal/model"
)

// writeChunk persists records as a chunk file under dir, named after its
// dense integer id, optionally LZ4-compressed per spec §6.
func writeChunk[K any, S any](dir string, id int64, cdc codec.Codec, compress bool, records []model.Record[K, S]) error {
	path := filepath.Join(dir, strconv.FormatInt(id, 10))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, r := range records {
		data, err := cdc.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal chunk record: %w", err)
		}
		if err := codec.WriteFrame(&buf, data); err != nil {
			return err
		}
	}
	if err := codec.WriteEndOfStream(&buf); err != nil {
		return err
	}
	raw := buf.Bytes()

	method := codec.MethodNone
	if compress {
		method = codec.MethodLZ4
	}
	block, err := codec.EncodeBlock(raw, method)
	if err != nil {
		return fmt.Errorf("encode chunk block: %w", err)
	}

	if _, err := f.Write(block); err != nil {
		return fmt.Errorf("write chunk file: %w", err)
	}
	return nil
}

// readChunk loads every record out of a chunk file written by writeChunk.
func readChunk[K any, S any](path string, cdc codec.Codec) ([]model.Record[K, S], error) {
	block, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk file: %w", err)
	}

	raw, err := codec.DecodeBlock(block)
	if err != nil {
		return nil, fmt.Errorf("decode chunk block: %w", err)
	}

	payloads, err := codec.ReadAllFrames(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("read chunk frames: %w", err)
	}

	records := make([]model.Record[K, S], 0, len(payloads))
	for _, p := range payloads {
		var r model.Record[K, S]
		if err := cdc.Unmarshal(p, &r); err != nil {
			return nil, fmt.Errorf("unmarshal chunk record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func listChunkFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(e.Name(), 10, 64); err == nil {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}
