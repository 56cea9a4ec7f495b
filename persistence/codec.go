package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec turns payloads into stored bytes and back.
type Codec[P any] interface {
	Encode(p P) ([]byte, error)
	Decode(data []byte) (P, error)
}

// JSONCodec stores payloads as JSON, optionally zstd compressed.
type JSONCodec[P any] struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewJSONCodec returns a JSON codec. With compress every payload is
// compressed as a single zstd frame.
func NewJSONCodec[P any](compress bool) (*JSONCodec[P], error) {
	c := &JSONCodec[P]{}
	if !compress {
		return c, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}
	c.enc, c.dec = enc, dec
	return c, nil
}

func (c *JSONCodec[P]) Encode(p P) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	if c.enc == nil {
		return data, nil
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *JSONCodec[P]) Decode(data []byte) (P, error) {
	var p P
	if c.dec != nil {
		raw, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return p, fmt.Errorf("decompressing payload: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return p, nil
}

// Close releases the zstd encoder and decoder.
func (c *JSONCodec[P]) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
