// Package loadbalance selects which service instance a pooled client dials.
//
// Two strategies are implemented:
//   - RoundRobin:     equal-capacity instances
//   - WeightedRandom: heterogeneous instances (different CPU/memory)
package loadbalance

import "github.com/localnative/tarpc/registry"

// Balancer picks one instance from the available list. Pick is called on
// every RPC, so implementations must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name, for logging.
	Name() string
}
