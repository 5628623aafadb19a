// Package packet defines the framing unit of the wire protocol.
//
// A connection carries a concatenation of self-delimiting packet encodings.
// Each packet is either a correlated message or a shutdown signal:
//
//	Message(id, body)  — a request or reply; the id is assigned by the
//	                     originator of a call and echoed verbatim in the reply
//	Shutdown           — ends the connection, carries nothing
//
// Ids are unique within one client instance's lifetime and are not reused.
package packet

import (
	"errors"
	"fmt"
	"io"

	"github.com/localnative/tarpc"
	"github.com/localnative/tarpc/codec"
)

// Kind discriminates the two packet variants.
type Kind uint8

const (
	KindMessage  Kind = 1
	KindShutdown Kind = 2
)

// Packet is the framing unit. Body is nil for shutdown packets and always
// set for message packets.
type Packet[T any] struct {
	Kind Kind   `json:"kind" codec:"kind"`
	ID   uint64 `json:"id,omitempty" codec:"id"`
	Body *T     `json:"body,omitempty" codec:"body"`
}

// NewMessage builds a message packet carrying the given body under id.
func NewMessage[T any](id uint64, body T) *Packet[T] {
	return &Packet[T]{Kind: KindMessage, ID: id, Body: &body}
}

// NewShutdown builds a shutdown packet.
func NewShutdown[T any]() *Packet[T] {
	return &Packet[T]{Kind: KindShutdown}
}

// Encoder writes packets to a single stream. Not safe for concurrent use;
// the client serializes writes under its lock, the server writes from one
// goroutine per connection.
type Encoder[T any] struct {
	enc codec.Encoder
}

// NewEncoder binds an encoder for packets with T bodies to w.
func NewEncoder[T any](c codec.Codec, w io.Writer) *Encoder[T] {
	return &Encoder[T]{enc: c.NewEncoder(w)}
}

func (e *Encoder[T]) Encode(p *Packet[T]) error {
	return e.enc.Encode(p)
}

// Decoder reads consecutive packets from a single stream.
type Decoder[T any] struct {
	dec codec.Decoder
}

// NewDecoder binds a decoder for packets with T bodies to r.
func NewDecoder[T any](c codec.Codec, r io.Reader) *Decoder[T] {
	return &Decoder[T]{dec: c.NewDecoder(r)}
}

// Decode returns the next packet on the stream. There are exactly three
// outcomes:
//
//   - a complete packet and nil error;
//   - nil and io.EOF when the stream ended cleanly before the first byte of
//     a new packet;
//   - nil and a *tarpc.DecodeError for anything else, including end-of-input
//     mid-packet, an unknown kind, and a message packet with no body.
//
// With the msgpack codec, end-of-input mid-packet is returned as io.EOF, the
// same as a clean end; only the JSON codec tells the two apart.
func (d *Decoder[T]) Decode() (*Packet[T], error) {
	var p Packet[T]
	if err := d.dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, &tarpc.DecodeError{Err: err}
	}
	switch p.Kind {
	case KindMessage:
		if p.Body == nil {
			return nil, &tarpc.DecodeError{Err: fmt.Errorf("message packet %d has no body", p.ID)}
		}
	case KindShutdown:
	default:
		return nil, &tarpc.DecodeError{Err: fmt.Errorf("unknown packet kind %d", p.Kind)}
	}
	return &p, nil
}
