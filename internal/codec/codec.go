// Package codec implements the wire protocol described by the framed
// streaming transport: uvarint-prefixed record frames, a null-terminated
// command envelope for control messages, and an optional LZ4 compression
// frame wrapped around groups of record frames.
package codec

// Codec serializes a record payload to and from bytes. It is pluggable per
// the transport contract: the frame and command layers only see opaque
// bytes, never the record's K/S types directly.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
