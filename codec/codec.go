// Package codec provides the serialization layer for tarpc.
//
// It defines a pluggable Codec interface with two implementations:
//   - JSONCodec:    human-readable textual object stream, easy to debug
//   - MsgpackCodec: compact binary object stream
//
// Unlike length-prefixed framing, both codecs emit self-delimiting values: a
// decoder bound to a stream recognizes the boundary between consecutive
// values from the encoding itself. The packet layer relies on this to frame
// packets with no extra header.
package codec

import "io"

// Type identifies the serialization format.
type Type byte

const (
	TypeJSON    Type = 0 // JSON object stream (encoding/json)
	TypeMsgpack Type = 1 // MessagePack object stream (hashicorp/go-msgpack)
)

// Encoder writes self-delimiting values to the stream it was built on.
// Encoders are not safe for concurrent use; callers serialize writes.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads consecutive self-delimiting values from the stream it was
// built on. Decode returns io.EOF when the stream ends cleanly before the
// first byte of a new value. The JSON codec reports end-of-input mid-value
// as a different error; the msgpack codec also returns a bare io.EOF when
// the stream ends in the middle of a value.
type Decoder interface {
	Decode(v any) error
}

// Codec binds encoders and decoders to streams. Implementing this interface
// allows adding new formats without changing any other layer, provided the
// format is self-delimiting.
type Codec interface {
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
	Type() Type
}

// Get is a factory function that returns the appropriate codec by type.
func Get(t Type) Codec {
	if t == TypeMsgpack {
		return &MsgpackCodec{}
	}
	return &JSONCodec{}
}
