package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec marshals records with encoding/gob. Cheaper than JSON for
// internal server-to-server traffic where both ends are this module.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
