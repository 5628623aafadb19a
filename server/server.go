// Package server implements the server half of the RPC runtime: an accept
// loop that hands each inbound stream to an independent connection handler.
//
// Per-connection pipeline:
//
//	Accept conn → worker goroutine
//	  → decode Packet(request) → middleware chain → handler.Serve → encode Packet(reply)
//	  → until a shutdown packet or clean end-of-stream
//
// Connections are isolated: a handler failure, decode failure, or panic
// terminates its own connection and never the accept loop or its peers.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/localnative/tarpc/codec"
	"github.com/localnative/tarpc/log"
	"github.com/localnative/tarpc/middleware"
	"github.com/localnative/tarpc/packet"
	"github.com/localnative/tarpc/registry"
)

// Serve is the user-supplied request handler. It is shared read-only across
// all connections and all in-flight requests; any interior mutation is the
// handler's own responsibility, so implementations must be safe for
// concurrent invocation.
type Serve[Request, Reply any] interface {
	Serve(req *Request) (Reply, error)
}

// ServeFunc adapts a function to the Serve interface.
type ServeFunc[Request, Reply any] func(req *Request) (Reply, error)

func (f ServeFunc[Request, Reply]) Serve(req *Request) (Reply, error) {
	return f(req)
}

// Options configures a Server.
type Options struct {
	// Codec selects the wire serialization. Defaults to JSON.
	Codec codec.Type

	// Logger receives the server's structured logs. Defaults to a nop
	// logger.
	Logger *zap.Logger

	// Registry, if set, is where Serve registers this instance on start and
	// Shutdown deregisters it first. Service and AdvertiseAddr must be set
	// alongside it.
	Registry      registry.Registry
	Service       string
	AdvertiseAddr string

	// RegistrationTTL is the registry lease in seconds. Defaults to 10.
	RegistrationTTL int64
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RegistrationTTL <= 0 {
		o.RegistrationTTL = 10
	}
	return o
}

// Server accepts streams and serves requests on each with a shared handler.
type Server[Request, Reply any] struct {
	serve       Serve[Request, Reply]
	middlewares []middleware.Middleware[Request, Reply]
	handler     middleware.Handler[Request, Reply]
	cdc         codec.Codec
	opts        Options
	logger      *zap.Logger

	listener     net.Listener
	registration registry.Registration
	shutdown     *atomic.Bool
	wg           sync.WaitGroup

	// connsMu guards conns, the set of open connections, so Shutdown can
	// force-close whatever has not drained by its deadline.
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New creates a server dispatching to the given handler.
func New[Request, Reply any](serve Serve[Request, Reply], opts Options) *Server[Request, Reply] {
	opts = opts.withDefaults()
	return &Server[Request, Reply]{
		serve:    serve,
		cdc:      codec.Get(opts.Codec),
		opts:     opts,
		logger:   log.WithComponent(opts.Logger, "server"),
		shutdown: atomic.NewBool(false),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are
// added; all registrations must happen before Serve.
func (s *Server[Request, Reply]) Use(mw middleware.Middleware[Request, Reply]) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve runs the accept loop on the given listener, spawning an independent
// worker per accepted stream. It returns nil after Shutdown closes the
// listener; any other accept failure is returned as an error. There is no
// other way out of the loop.
func (s *Server[Request, Reply]) Serve(ln net.Listener) error {
	s.listener = ln

	// Build the middleware chain once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.serve.Serve)

	if s.opts.Registry != nil {
		reg, err := s.opts.Registry.Register(s.opts.Service, registry.ServiceInstance{
			Addr: s.opts.AdvertiseAddr,
		}, s.opts.RegistrationTTL)
		if err != nil {
			return fmt.Errorf("register %s: %w", s.opts.Service, err)
		}
		s.registration = reg
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; the resulting accept error is
			// the intended exit, not a failure.
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go s.worker(conn)
	}
}

// worker runs one connection to completion, trapping failures and panics at
// the connection boundary.
func (s *Server[Request, Reply]) worker(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		_ = conn.Close()
		if r := recover(); r != nil {
			logger.Error("connection panicked", zap.Any("panic", r))
		}
	}()

	if err := s.handleConn(conn); err != nil {
		logger.Error("connection failed", zap.Error(err))
	} else {
		logger.Debug("connection closed")
	}
}

// handleConn serves one stream: requests are handled sequentially in receipt
// order and replies written in the same order, each echoing its request id.
// A shutdown packet or a clean end-of-stream between packets terminates the
// connection normally.
func (s *Server[Request, Reply]) handleConn(conn net.Conn) error {
	dec := packet.NewDecoder[Request](s.cdc, conn)
	enc := packet.NewEncoder[Reply](s.cdc, conn)
	for {
		pkt, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The client vanished without a shutdown packet. Fine.
				return nil
			}
			return err
		}
		if pkt.Kind == packet.KindShutdown {
			return nil
		}
		reply, err := s.handler(pkt.Body)
		if err != nil {
			return fmt.Errorf("serve request %d: %w", pkt.ID, err)
		}
		if err := enc.Encode(packet.NewMessage(pkt.ID, reply)); err != nil {
			return fmt.Errorf("write reply %d: %w", pkt.ID, err)
		}
	}
}

// Shutdown stops the server gracefully:
//  1. Set the shutdown flag; later calls return nil at once.
//  2. Close the registry registration, so clients stop routing here.
//  3. Close the listener; the accept loop returns nil. The flag is set
//     first, or Serve would report the close as an error.
//  4. Wait up to timeout for open connections to drain, then force-close
//     whatever remains and report the timeout.
func (s *Server[Request, Reply]) Shutdown(timeout time.Duration) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	if s.registration != nil {
		if err := s.registration.Close(); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.connsMu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.connsMu.Unlock()
		return fmt.Errorf("timeout waiting for open connections to drain")
	}
}
