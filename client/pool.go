package client

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/localnative/tarpc"
	"github.com/localnative/tarpc/loadbalance"
	"github.com/localnative/tarpc/log"
	"github.com/localnative/tarpc/registry"
)

// Pool is a registry-aware client: it discovers instances of one service,
// picks one per call through a load balancer, and maintains a small pool of
// multiplexed clients per address.
//
// Clients are shared, not borrowed. Every Client multiplexes concurrent
// calls over its stream, so a pool of even one connection per address
// handles concurrency; a larger pool spreads write-lock contention.
type Pool[Request, Reply any] struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	service  string
	poolSize int
	opts     Options
	logger   *zap.Logger

	// mu protects the clients map, not the clients themselves.
	mu      sync.Mutex
	clients map[string][]*Client[Request, Reply]

	// counter drives round-robin selection within an address's pool.
	counter *atomic.Uint64

	stopped *atomic.Bool
	stop    chan struct{} // ends the registry watcher
}

// NewPool creates a pool resolving the given service through reg and bal,
// with poolSize multiplexed connections per resolved address.
func NewPool[Request, Reply any](
	reg registry.Registry,
	bal loadbalance.Balancer,
	service string,
	poolSize int,
	opts Options,
) *Pool[Request, Reply] {
	if poolSize <= 0 {
		poolSize = 1
	}
	opts = opts.withDefaults()
	p := &Pool[Request, Reply]{
		registry: reg,
		balancer: bal,
		service:  service,
		poolSize: poolSize,
		opts:     opts,
		logger:   log.WithComponent(opts.Logger, "pool"),
		clients:  make(map[string][]*Client[Request, Reply]),
		counter:  atomic.NewUint64(0),
		stopped:  atomic.NewBool(false),
		stop:     make(chan struct{}),
	}
	go p.watch()
	return p
}

// watch follows the registry and shuts down the pooled clients of any
// address that leaves it, so a deregistered instance's connections are torn
// down instead of idling until their next failed call.
func (p *Pool[Request, Reply]) watch() {
	updates := p.registry.Watch(p.service)
	for {
		select {
		case instances, ok := <-updates:
			if !ok {
				return
			}
			live := make(map[string]struct{}, len(instances))
			for _, instance := range instances {
				live[instance.Addr] = struct{}{}
			}

			p.mu.Lock()
			var dead []*Client[Request, Reply]
			for addr, pool := range p.clients {
				if _, ok := live[addr]; !ok {
					dead = append(dead, pool...)
					delete(p.clients, addr)
					p.logger.Debug("instance deregistered", zap.String("addr", addr))
				}
			}
			p.mu.Unlock()

			for _, cl := range dead {
				_ = cl.Shutdown()
			}
		case <-p.stop:
			return
		}
	}
}

// Call resolves an instance and performs a synchronous call on one of its
// pooled clients. A client whose connection has died is evicted so the next
// call to that address redials.
func (p *Pool[Request, Reply]) Call(req Request) (Reply, error) {
	var zero Reply

	instances, err := p.registry.Discover(p.service)
	if err != nil {
		return zero, fmt.Errorf("discover %s: %w", p.service, err)
	}
	instance, err := p.balancer.Pick(instances)
	if err != nil {
		return zero, err
	}

	cl, err := p.client(instance.Addr)
	if err != nil {
		return zero, err
	}

	reply, err := cl.Call(req)
	if errors.Is(err, tarpc.ErrClosed) || errors.Is(err, tarpc.ErrCorrelatorStopped) {
		p.evict(instance.Addr, cl)
	}
	return reply, err
}

// Shutdown stops the registry watcher and shuts down every pooled client.
// The first error is returned; the remaining clients are still shut down.
func (p *Pool[Request, Reply]) Shutdown() error {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stop)
	}

	p.mu.Lock()
	var all []*Client[Request, Reply]
	for _, pool := range p.clients {
		all = append(all, pool...)
	}
	p.clients = make(map[string][]*Client[Request, Reply])
	p.mu.Unlock()

	var firstErr error
	for _, cl := range all {
		if err := cl.Shutdown(); err != nil && !errors.Is(err, tarpc.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// client returns a pooled client for addr, dialing the whole pool on first
// use, and selects one by round-robin.
func (p *Pool[Request, Reply]) client(addr string) (*Client[Request, Reply], error) {
	n := p.counter.Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	pool, ok := p.clients[addr]
	if !ok {
		pool = make([]*Client[Request, Reply], 0, p.poolSize)
		for i := 0; i < p.poolSize; i++ {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				for _, cl := range pool {
					_ = cl.Shutdown()
				}
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}
			pool = append(pool, New[Request, Reply](conn.(*net.TCPConn), p.opts))
		}
		p.clients[addr] = pool
		p.logger.Debug("dialed pool", zap.String("addr", addr), zap.Int("size", p.poolSize))
	}
	return pool[n%uint64(len(pool))], nil
}

// evict removes a dead client from its address pool. Once the pool empties,
// the address is forgotten and the next call redials it.
func (p *Pool[Request, Reply]) evict(addr string, dead *Client[Request, Reply]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.clients[addr]
	for i, cl := range pool {
		if cl == dead {
			p.clients[addr] = append(pool[:i:i], pool[i+1:]...)
			break
		}
	}
	if len(p.clients[addr]) == 0 {
		delete(p.clients, addr)
	}
}
