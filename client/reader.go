package client

import (
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/localnative/tarpc/packet"
)

// pollReader wraps the read half with a short per-read deadline so a blocked
// read wakes within one interval and can observe the shutdown latch. A
// timed-out read that consumed no bytes is retried transparently; the
// decoder above never sees the deadline error, so its stream state stays
// intact.
type pollReader struct {
	conn     Conn
	interval time.Duration
	done     <-chan struct{}
}

func (r *pollReader) Read(p []byte) (int, error) {
	for {
		select {
		case <-r.done:
			return 0, io.EOF
		default:
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(r.interval)); err != nil {
			return 0, err
		}
		n, err := r.conn.Read(p)
		if n > 0 || err == nil {
			return n, err
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		return 0, err
	}
}

// read owns the read half. It decodes reply packets and forwards them to the
// correlator until the stream ends. A clean end-of-stream, or any error
// after shutdown began, terminates quietly; a decode failure is fatal to the
// client instance and tears it down through the correlator's stop event so
// every outstanding caller unblocks.
func (c *Client[Request, Reply]) read(dec *packet.Decoder[Reply]) {
	defer close(c.readerDone)

	logger := c.logger.With(zap.String("role", "reader"))
	for {
		pkt, err := dec.Decode()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				logger.Error("decode reply", zap.Error(err))
			}
			_ = c.sendEvent(event[Reply]{kind: eventStop})
			return
		}
		if err := c.sendEvent(event[Reply]{kind: eventPacket, pkt: pkt}); err != nil {
			return
		}
		if pkt.Kind == packet.KindShutdown {
			return
		}
	}
}
