// etcd-backed registry. Instances live under /tarpc/{service}/{addr}, bound
// to a TTL lease that stays alive for as long as the registration handle is
// open. Closing the handle revokes the lease, and revocation deletes the key
// in the same stroke, so deregistration cannot race a concurrent
// re-registration of the address. A crashed server's lease simply expires.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on etcd v3. The etcd client is
// thread-safe and shared across goroutines.
type EtcdRegistry struct {
	client *clientv3.Client
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c}, nil
}

// Register grants a lease, writes the instance under it, and keeps the
// lease renewed until the returned registration is closed.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) (Registration, error) {
	ctx, cancel := context.WithCancel(context.Background())

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		cancel()
		return nil, err
	}

	_, err = r.client.Put(ctx, key(serviceName, instance.Addr), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("put %s: %w", key(serviceName, instance.Addr), err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keep alive: %w", err)
	}
	// Drain renewal responses; the channel closes when the registration is
	// closed or the lease is lost.
	go func() {
		for range ch {
		}
	}()

	return &etcdRegistration{
		client:  r.client,
		leaseID: lease.ID,
		cancel:  cancel,
	}, nil
}

// Discover lists all instances registered under the service prefix.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(context.TODO(), prefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", serviceName, err)
	}
	current := make(map[string]ServiceInstance, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		current[string(kv.Key)] = instance
	}
	return collect(current), nil
}

// Watch seeds the channel with a snapshot of the current instances, then
// folds individual put/delete events into it, emitting the updated list
// after each batch. The watch resumes at the revision right after the
// snapshot, so no event between the two is lost or applied twice.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	go func() {
		ctx := context.TODO()

		resp, err := r.client.Get(ctx, prefix(serviceName), clientv3.WithPrefix())
		if err != nil {
			return
		}
		current := make(map[string]ServiceInstance, len(resp.Kvs))
		for _, kv := range resp.Kvs {
			var instance ServiceInstance
			if err := json.Unmarshal(kv.Value, &instance); err != nil {
				continue
			}
			current[string(kv.Key)] = instance
		}
		ch <- collect(current)

		watchChan := r.client.Watch(ctx, prefix(serviceName),
			clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
		for watchResp := range watchChan {
			changed := false
			for _, ev := range watchResp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					var instance ServiceInstance
					if err := json.Unmarshal(ev.Kv.Value, &instance); err != nil {
						continue
					}
					current[string(ev.Kv.Key)] = instance
					changed = true
				case clientv3.EventTypeDelete:
					delete(current, string(ev.Kv.Key))
					changed = true
				}
			}
			if changed {
				ch <- collect(current)
			}
		}
	}()
	return ch
}

// etcdRegistration keeps one lease alive until closed.
type etcdRegistration struct {
	client  *clientv3.Client
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	once    sync.Once
	err     error
}

// Close stops the keepalive and revokes the lease, deleting the instance's
// key with it.
func (reg *etcdRegistration) Close() error {
	reg.once.Do(func() {
		reg.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, reg.err = reg.client.Revoke(ctx, reg.leaseID)
	})
	return reg.err
}

func collect(current map[string]ServiceInstance) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(current))
	for _, instance := range current {
		out = append(out, instance)
	}
	return out
}

func prefix(serviceName string) string {
	return "/tarpc/" + serviceName + "/"
}

func key(serviceName, addr string) string {
	return prefix(serviceName) + addr
}
