package loadbalance

import (
	"sync/atomic"

	"github.com/localnative/tarpc/registry"
)

// RoundRobin distributes calls evenly across instances in order, using an
// atomic counter for lock-free selection.
type RoundRobin struct {
	counter uint64
}

func (b *RoundRobin) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}
	index := atomic.AddUint64(&b.counter, 1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
