package loadbalance

import (
	"math/rand"

	"github.com/localnative/tarpc/registry"
)

// WeightedRandom selects instances with probability proportional to their
// weight: an instance with weight 10 gets roughly twice the traffic of one
// with weight 5. Instances with no positive weight are treated as weight 1
// so a list of unweighted instances degrades to uniform selection.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, registry.ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += weight(inst)
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= weight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}

func weight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
