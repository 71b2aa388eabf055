package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hkarim/crdtstore/internal/errors"
)

// maxFrameLength caps a single record frame to guard against a corrupted
// length prefix turning into an unbounded allocation.
const maxFrameLength = 64 << 20

// WriteFrame writes one record frame: a uvarint length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// WriteEndOfStream writes the zero-length frame that terminates a record
// stream.
func WriteEndOfStream(w io.Writer) error {
	return WriteFrame(w, nil)
}

// ReadFrame reads one record frame. end is true when the zero-length
// end-of-stream marker was read; payload is nil in that case.
func ReadFrame(r *bufio.Reader) (payload []byte, end bool, err error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return nil, false, io.EOF
		}
		return nil, false, errors.Malformed("read frame length", err)
	}
	if length == 0 {
		return nil, true, nil
	}
	if length > maxFrameLength {
		return nil, false, errors.Malformed(fmt.Sprintf("frame length %d exceeds limit", length), nil)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, false, errors.Malformed("read frame payload", err)
	}
	return buf, false, nil
}

// ReadAllFrames drains a stream into payloads until the end-of-stream
// marker or an error. On a framing error, including a stream that ends
// before the end-of-stream marker, it returns the payloads decoded
// successfully so far alongside a Malformed error.
func ReadAllFrames(r *bufio.Reader) (payloads [][]byte, err error) {
	for {
		payload, end, rerr := ReadFrame(r)
		if rerr != nil {
			if rerr == io.EOF {
				return payloads, errors.Malformed("stream ended before end-of-stream marker", io.ErrUnexpectedEOF)
			}
			return payloads, rerr
		}
		if end {
			return payloads, nil
		}
		payloads = append(payloads, payload)
	}
}
