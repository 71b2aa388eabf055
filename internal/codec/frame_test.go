package codec_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/hkarim/crdtstore/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, codec.WriteFrame(&buf, []byte("hello")))
	require.NoError(t, codec.WriteEndOfStream(&buf))

	r := bufio.NewReader(&buf)
	payload, end, err := codec.ReadFrame(r)
	require.NoError(t, err)
	assert.False(t, end)
	assert.Equal(t, []byte("hello"), payload)

	_, end, err = codec.ReadFrame(r)
	require.NoError(t, err)
	assert.True(t, end)
}

func TestReadAllFramesStopsAtEndOfStream(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, codec.WriteFrame(&buf, []byte(s)))
	}
	require.NoError(t, codec.WriteEndOfStream(&buf))

	payloads, err := codec.ReadAllFrames(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	assert.Equal(t, []byte("a"), payloads[0])
	assert.Equal(t, []byte("c"), payloads[2])
}

func TestReadAllFramesSurvivesTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, codec.WriteFrame(&buf, []byte(s)))
	}
	full := buf.Bytes()
	truncated := full[:len(full)*3/4]

	payloads, err := codec.ReadAllFrames(bufio.NewReader(bytes.NewReader(truncated)))
	require.Error(t, err)
	for _, p := range payloads {
		assert.Contains(t, []string{"a", "b", "c", "d"}, string(p))
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	// A length prefix far beyond maxFrameLength with no payload behind it.
	lenBuf := make([]byte, 10)
	n := writeUvarint(lenBuf, 1<<40)
	buf.Write(lenBuf[:n])

	_, _, err := codec.ReadFrame(bufio.NewReader(&buf))
	assert.Error(t, err)
}

func writeUvarint(buf []byte, x uint64) int {
	i := 0
	for x >= 0x80 {
		buf[i] = byte(x) | 0x80
		x >>= 7
		i++
	}
	buf[i] = byte(x)
	return i + 1
}
