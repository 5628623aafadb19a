// Package registry defines service registration and discovery.
//
// Servers register their advertised address under a service name and hold
// the returned Registration open for as long as they serve; closing it
// removes the instance. Pooled clients discover addresses to dial and watch
// for instances leaving, so their connections can be torn down instead of
// idling until the next failed call.
//
// Two implementations are provided: EtcdRegistry for multi-process
// deployments and MemoryRegistry for tests and single-process use.
package registry

import "errors"

// ErrNoInstances is returned by balancers when a service has no registered
// instances.
var ErrNoInstances = errors.New("no instances available")

// ServiceInstance represents a single running instance of a service.
type ServiceInstance struct {
	Addr    string // Network address, e.g. "127.0.0.1:8080"
	Weight  int    // Weight for load balancing (higher = more traffic)
	Version string // Service version
}

// Registration is a live registry entry. Closing it removes the instance
// and releases whatever kept the entry alive (an etcd lease, an in-memory
// slot). Close is idempotent.
type Registration interface {
	Close() error
}

// Registry is the interface for service registration and discovery.
type Registry interface {
	// Register adds a service instance and returns the handle that keeps it
	// registered. ttl (seconds) bounds how long the entry survives the
	// registrant crashing without Close.
	Register(serviceName string, instance ServiceInstance, ttl int64) (Registration, error)

	// Discover returns all currently registered instances for a service.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch returns a channel that first emits the current instance list,
	// then an updated list whenever the service's instances change.
	Watch(serviceName string) <-chan []ServiceInstance
}
