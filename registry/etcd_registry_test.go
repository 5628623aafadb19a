package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const etcdAddr = "127.0.0.1:2379"

func requireEtcd(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", etcdAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdAddr, err)
	}
	conn.Close()
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	requireEtcd(t)

	reg, err := NewEtcdRegistry([]string{etcdAddr})
	require.NoError(t, err)

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}
	h1, err := reg.Register("inc", inst1, 10)
	require.NoError(t, err)
	h2, err := reg.Register("inc", inst2, 10)
	require.NoError(t, err)
	defer func() {
		_ = h1.Close()
		_ = h2.Close()
	}()

	instances, err := reg.Discover("inc")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// Closing the registration revokes the lease and the key with it.
	require.NoError(t, h1.Close())
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("inc")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)
}

func TestEtcdWatch(t *testing.T) {
	requireEtcd(t)

	reg, err := NewEtcdRegistry([]string{etcdAddr})
	require.NoError(t, err)

	inst1 := ServiceInstance{Addr: "127.0.0.1:8101"}
	h1, err := reg.Register("watched", inst1, 10)
	require.NoError(t, err)
	defer h1.Close()

	ch := reg.Watch("watched")
	select {
	case instances := <-ch:
		assert.Equal(t, []ServiceInstance{inst1}, instances)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, h1.Close())
	select {
	case instances := <-ch:
		assert.Empty(t, instances)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never saw the lease revocation")
	}
}
