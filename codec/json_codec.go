package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec streams values as a concatenation of JSON objects.
// json.Decoder reads exactly one value per Decode call and buffers the rest,
// so consecutive values need no separator beyond what JSON itself provides.
type JSONCodec struct{}

func (c *JSONCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (c *JSONCodec) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

func (c *JSONCodec) Type() Type {
	return TypeJSON
}
