package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnative/tarpc/loadbalance"
	"github.com/localnative/tarpc/registry"
	"github.com/localnative/tarpc/server"
)

func startRegisteredServer(t *testing.T, reg registry.Registry, service string) *counter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctr := &counter{}
	svr := server.New[IncRequest, IncReply](ctr, server.Options{
		Registry:      reg,
		Service:       service,
		AdvertiseAddr: ln.Addr().String(),
	})
	go func() { _ = svr.Serve(ln) }()
	t.Cleanup(func() { _ = svr.Shutdown(3 * time.Second) })
	return ctr
}

func TestPoolRoundRobinAcrossInstances(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ctr1 := startRegisteredServer(t, reg, "inc")
	ctr2 := startRegisteredServer(t, reg, "inc")

	// Registration happens inside Serve; wait for both instances to appear.
	require.Eventually(t, func() bool {
		instances, err := reg.Discover("inc")
		return err == nil && len(instances) == 2
	}, 2*time.Second, 10*time.Millisecond)

	pool := NewPool[IncRequest, IncReply](reg, &loadbalance.RoundRobin{}, "inc", 2, Options{})
	for i := 0; i < 4; i++ {
		_, err := pool.Call(IncRequest{})
		require.NoError(t, err)
	}

	// Round-robin alternates the two instances, two calls each.
	assert.Equal(t, uint64(2), ctr1.count())
	assert.Equal(t, uint64(2), ctr2.count())

	require.NoError(t, pool.Shutdown())
}

// When an instance deregisters, the pool's watcher tears down its pooled
// clients and later calls route only to the instances still registered.
func TestPoolEvictsDeregisteredInstance(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	start := func() (*counter, registry.Registration) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ctr := &counter{}
		svr := server.New[IncRequest, IncReply](ctr, server.Options{})
		go func() { _ = svr.Serve(ln) }()
		t.Cleanup(func() { _ = svr.Shutdown(3 * time.Second) })
		h, err := reg.Register("inc", registry.ServiceInstance{Addr: ln.Addr().String()}, 10)
		require.NoError(t, err)
		return ctr, h
	}
	ctr1, h1 := start()
	ctr2, _ := start()

	pool := NewPool[IncRequest, IncReply](reg, &loadbalance.RoundRobin{}, "inc", 1, Options{})
	for i := 0; i < 4; i++ {
		_, err := pool.Call(IncRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), ctr1.count())
	assert.Equal(t, uint64(2), ctr2.count())

	require.NoError(t, h1.Close())
	require.Eventually(t, func() bool {
		instances, err := reg.Discover("inc")
		return err == nil && len(instances) == 1
	}, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err := pool.Call(IncRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2), ctr1.count())
	assert.Equal(t, uint64(6), ctr2.count())

	require.NoError(t, pool.Shutdown())
}

func TestPoolRedialsAfterInstanceDeath(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_, err = reg.Register("inc", registry.ServiceInstance{Addr: addr}, 10)
	require.NoError(t, err)

	ctr := &counter{}
	svr := server.New[IncRequest, IncReply](ctr, server.Options{})
	go func() { _ = svr.Serve(ln) }()

	pool := NewPool[IncRequest, IncReply](reg, &loadbalance.RoundRobin{}, "inc", 1, Options{
		PollInterval: 10 * time.Millisecond,
	})
	_, err = pool.Call(IncRequest{})
	require.NoError(t, err)

	// Kill the server; the drain deadline expires immediately and the pooled
	// client's connection is force-closed with it.
	_ = svr.Shutdown(10 * time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := pool.Call(IncRequest{})
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	// Restart on the same address; the pool must redial, not reuse the dead
	// client forever.
	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	svr2 := server.New[IncRequest, IncReply](ctr, server.Options{})
	go func() { _ = svr2.Serve(ln2) }()
	t.Cleanup(func() { _ = svr2.Shutdown(3 * time.Second) })

	require.Eventually(t, func() bool {
		_, err := pool.Call(IncRequest{})
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, pool.Shutdown())
}
