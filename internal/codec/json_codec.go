package codec

import "encoding/json"

// JSONCodec marshals records as JSON. The default pluggable codec: readable
// on the wire and in WAL segments.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
