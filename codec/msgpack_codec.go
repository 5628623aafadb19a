package codec

import (
	"io"

	msgpack "github.com/hashicorp/go-msgpack/codec"
)

// MsgpackCodec streams values as a concatenation of MessagePack objects.
// MessagePack is self-delimiting by construction, so it can frame a packet
// stream the same way the JSON codec does, at a fraction of the size.
type MsgpackCodec struct{}

func (c *MsgpackCodec) NewEncoder(w io.Writer) Encoder {
	return msgpack.NewEncoder(w, msgpackHandle())
}

func (c *MsgpackCodec) NewDecoder(r io.Reader) Decoder {
	return msgpack.NewDecoder(r, msgpackHandle())
}

func (c *MsgpackCodec) Type() Type {
	return TypeMsgpack
}

func msgpackHandle() *msgpack.MsgpackHandle {
	return &msgpack.MsgpackHandle{RawToString: true, WriteExt: true}
}
