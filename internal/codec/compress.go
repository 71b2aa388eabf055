package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hkarim/crdtstore/internal/errors"
	"github.com/hkarim/crdtstore/internal/util"
	"github.com/pierrec/lz4/v4"
)

// compressMagic identifies a compressed block frame on the wire.
var compressMagic = [8]byte{'c', 'r', 'd', 't', 'b', 'l', 'k', '1'}

// Method is the compression method tag in a block header.
type Method uint8

const (
	MethodNone Method = 0
	MethodLZ4  Method = 1
)

// blockHeaderSize is the 21-byte header: magic(8) + originalSize(4) +
// compressedSize(4) + method(1) + checksum(4).
const blockHeaderSize = 8 + 4 + 4 + 1 + 4

// EncodeBlock wraps a group of already-framed record bytes into a single
// compressed (or passthrough) block with an integrity-checked header.
func EncodeBlock(raw []byte, method Method) ([]byte, error) {
	var payload []byte
	switch method {
	case MethodNone:
		payload = raw
	case MethodLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(raw, buf)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			// Incompressible input: lz4 reports n==0. Fall back to storing raw.
			method = MethodNone
			payload = raw
		} else {
			payload = buf[:n]
		}
	default:
		return nil, fmt.Errorf("unknown compression method %d", method)
	}

	header := make([]byte, blockHeaderSize)
	copy(header[0:8], compressMagic[:])
	binary.BigEndian.PutUint32(header[8:12], uint32(len(raw)))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(payload)))
	header[16] = byte(method)
	binary.BigEndian.PutUint32(header[17:21], util.ComputeChecksum(payload))

	return append(header, payload...), nil
}

// DecodeBlock reverses EncodeBlock, validating the magic, checksum and
// declared sizes so truncation is detectable before decompression runs.
func DecodeBlock(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errors.Malformed("compressed block shorter than header", nil)
	}
	if string(block[0:8]) != string(compressMagic[:]) {
		return nil, errors.Malformed("compressed block magic mismatch", nil)
	}

	originalSize := binary.BigEndian.Uint32(block[8:12])
	compressedSize := binary.BigEndian.Uint32(block[12:16])
	method := Method(block[16])
	checksum := binary.BigEndian.Uint32(block[17:21])

	payload := block[blockHeaderSize:]
	if uint32(len(payload)) != compressedSize {
		return nil, errors.Malformed("compressed block truncated", nil)
	}
	if !util.ValidateChecksum(payload, checksum) {
		return nil, errors.Malformed("compressed block checksum mismatch", nil)
	}

	switch method {
	case MethodNone:
		return payload, nil
	case MethodLZ4:
		raw := make([]byte, originalSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, errors.Malformed("lz4 decompress", err)
		}
		return raw[:n], nil
	default:
		return nil, errors.Malformed(fmt.Sprintf("unknown compression method %d", method), nil)
	}
}
