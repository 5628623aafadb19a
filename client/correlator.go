package client

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/localnative/tarpc"
	"github.com/localnative/tarpc/packet"
)

// waiter is a one-shot delivery slot for a single in-flight call. The
// correlator either sends exactly one reply on ch and closes it, or closes
// it unsignalled when the client tears down.
type waiter[Reply any] struct {
	id uint64
	ch chan Reply
}

type eventKind uint8

const (
	// eventRegister inserts a waiter keyed by its id. The front end
	// guarantees the id is not already present by allocating ids
	// monotonically under its lock.
	eventRegister eventKind = iota

	// eventPacket forwards a packet decoded off the read half.
	eventPacket

	// eventStop terminates the correlator; remaining waiters are dropped.
	eventStop
)

// event is the tagged union carried on the correlator's input queue.
type event[Reply any] struct {
	kind eventKind
	w    waiter[Reply]
	pkt  *packet.Packet[Reply]
}

// correlate is the single consumer of the event queue. The waiter map is
// owned by this goroutine alone, so it needs no lock. The loop exits on a
// stop event or an inbound shutdown packet; on exit every remaining waiter's
// channel is closed, unblocking its caller with ErrClosed.
func (c *Client[Request, Reply]) correlate() {
	defer close(c.corrDone)

	waiters := make(map[uint64]waiter[Reply])
	defer func() {
		for _, w := range waiters {
			close(w.ch)
		}
	}()

	logger := c.logger.With(zap.String("role", "correlator"))
	for {
		ev := <-c.events
		switch ev.kind {
		case eventRegister:
			waiters[ev.w.id] = ev.w
		case eventPacket:
			if ev.pkt.Kind == packet.KindShutdown {
				return
			}
			w, ok := waiters[ev.pkt.ID]
			if !ok {
				// A reply for an id we never sent, or one already replied
				// to. The peer is buggy or malicious; other waiters are
				// unaffected.
				logger.Error("correlation failed", zap.Error(&tarpc.ProtocolError{
					Msg: fmt.Sprintf("reply for unknown id %d", ev.pkt.ID),
				}))
				continue
			}
			delete(waiters, ev.pkt.ID)
			w.ch <- *ev.pkt.Body
			close(w.ch)
		case eventStop:
			return
		}
	}
}
