// Package client implements the client half of the RPC runtime: a front end
// that multiplexes many outstanding synchronous calls over one duplex stream.
//
// A Client owns three threads of control:
//
//	caller(s) ──Call──► [lock: assign id, register waiter, write request] ──► block on waiter
//	reader    ──────► decodes reply packets off the read half, forwards them
//	correlator ─────► maps reply ids back to the waiting caller
//
// The single lock around (nextID, encoder, correlator input) makes "allocate
// id, register waiter, write request" one atomic section. That ordering is
// load-bearing: the waiter for an id is always registered before the request
// bytes leave the write half, so a reply can never find the correlator
// without its waiter.
package client

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/localnative/tarpc"
	"github.com/localnative/tarpc/codec"
	"github.com/localnative/tarpc/log"
	"github.com/localnative/tarpc/packet"
)

// DefaultPollInterval is how long the reader blocks on the read half before
// waking to check the shutdown latch.
const DefaultPollInterval = 50 * time.Millisecond

// Conn is the duplex stream a Client runs over. *net.TCPConn satisfies it.
type Conn interface {
	io.ReadWriteCloser

	// CloseWrite half-closes the stream so the peer observes end-of-input
	// after the final packet.
	CloseWrite() error

	// SetReadDeadline bounds how long a Read may block; the reader uses it
	// to wake periodically.
	SetReadDeadline(t time.Time) error
}

// Options configures a Client.
type Options struct {
	// Codec selects the wire serialization. Defaults to JSON.
	Codec codec.Type

	// PollInterval is the reader's wake interval. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration

	// Logger receives the client's structured logs. Defaults to a nop
	// logger.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Client is a handle to one multiplexed RPC connection. It is safe for
// concurrent use; any number of goroutines may have calls outstanding.
type Client[Request, Reply any] struct {
	conn   Conn
	logger *zap.Logger

	// mu guards nextID and enc. The critical section is bounded by the time
	// to assign an id, enqueue one register event, and write one request;
	// it is never held across the wait for a reply.
	mu     sync.Mutex
	nextID uint64
	enc    *packet.Encoder[Request]

	// events is the correlator's input queue. A single queue carrying both
	// registrations and inbound packets preserves the register-before-reply
	// ordering established under mu.
	events chan event[Reply]

	closed     *atomic.Bool
	shutdownCh chan struct{} // closed by Shutdown; wakes the polling reader
	readerDone chan struct{}
	corrDone   chan struct{}
}

// New wires a client onto the given stream and starts its reader and
// correlator. The stream must already be connected.
func New[Request, Reply any](conn Conn, opts Options) *Client[Request, Reply] {
	opts = opts.withDefaults()
	cdc := codec.Get(opts.Codec)
	c := &Client[Request, Reply]{
		conn:       conn,
		logger:     log.WithComponent(opts.Logger, "client"),
		enc:        packet.NewEncoder[Request](cdc, conn),
		events:     make(chan event[Reply]),
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
		readerDone: make(chan struct{}),
		corrDone:   make(chan struct{}),
	}
	go c.correlate()
	go c.read(packet.NewDecoder[Reply](cdc, &pollReader{
		conn:     conn,
		interval: opts.PollInterval,
		done:     c.shutdownCh,
	}))
	return c
}

// Call sends the request and blocks until its reply arrives or the client
// tears down. Multiple calls may be outstanding concurrently; replies are
// routed back by id, so they may arrive in any order.
func (c *Client[Request, Reply]) Call(req Request) (Reply, error) {
	var zero Reply

	w := waiter[Reply]{ch: make(chan Reply, 1)}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return zero, tarpc.ErrClosed
	}
	w.id = c.nextID
	c.nextID++
	if err := c.sendEvent(event[Reply]{kind: eventRegister, w: w}); err != nil {
		c.mu.Unlock()
		return zero, err
	}
	err := c.enc.Encode(packet.NewMessage(w.id, req))
	c.mu.Unlock()

	if err != nil {
		// The waiter stays registered until the correlator exits. The id is
		// never reused, so the stale entry cannot misroute a reply.
		return zero, fmt.Errorf("write request: %w", err)
	}

	reply, ok := <-w.ch
	if !ok {
		return zero, tarpc.ErrClosed
	}
	return reply, nil
}

// Shutdown sends a shutdown packet, half-closes the stream, and joins the
// reader and correlator. Callers still blocked in Call unblock with
// ErrClosed, as does any Call issued afterwards. Shutdown is idempotent;
// second and later invocations return ErrClosed without touching the stream.
func (c *Client[Request, Reply]) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return tarpc.ErrClosed
	}

	c.mu.Lock()
	err := c.enc.Encode(packet.NewShutdown[Request]())
	c.mu.Unlock()

	// Wake the reader even if the peer never closes its end.
	close(c.shutdownCh)

	if cwErr := c.conn.CloseWrite(); cwErr != nil && err == nil {
		err = cwErr
	}

	// Join the reader and correlator even if the writes above failed.
	<-c.readerDone
	<-c.corrDone

	if cErr := c.conn.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}

// sendEvent delivers an event to the correlator, failing instead of blocking
// forever if the correlator has already exited.
func (c *Client[Request, Reply]) sendEvent(ev event[Reply]) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.corrDone:
		return tarpc.ErrCorrelatorStopped
	}
}
