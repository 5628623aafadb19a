package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localnative/tarpc/registry"
)

func instances(addrs ...string) []registry.ServiceInstance {
	out := make([]registry.ServiceInstance, len(addrs))
	for i, addr := range addrs {
		out[i] = registry.ServiceInstance{Addr: addr}
	}
	return out
}

func TestRoundRobinCycles(t *testing.T) {
	b := &RoundRobin{}
	insts := instances("a", "b", "c")

	var picked []string
	for i := 0; i < 6; i++ {
		inst, err := b.Pick(insts)
		require.NoError(t, err)
		picked = append(picked, inst.Addr)
	}
	assert.Equal(t, []string{"b", "c", "a", "b", "c", "a"}, picked)
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobin{}
	_, err := b.Pick(nil)
	assert.ErrorIs(t, err, registry.ErrNoInstances)
}

func TestWeightedRandomRespectsWeights(t *testing.T) {
	b := &WeightedRandom{}
	insts := []registry.ServiceInstance{
		{Addr: "heavy", Weight: 90},
		{Addr: "light", Weight: 10},
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		inst, err := b.Pick(insts)
		require.NoError(t, err)
		counts[inst.Addr]++
	}

	// Loose bound; the heavy instance should dominate.
	assert.Greater(t, counts["heavy"], 700)
	assert.Equal(t, 1000, counts["heavy"]+counts["light"])
}

func TestWeightedRandomUnweighted(t *testing.T) {
	b := &WeightedRandom{}
	insts := instances("a", "b")

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(insts)
		require.NoError(t, err)
		counts[inst.Addr]++
	}
	assert.Greater(t, counts["a"], 0)
	assert.Greater(t, counts["b"], 0)
}

func TestWeightedRandomEmpty(t *testing.T) {
	b := &WeightedRandom{}
	_, err := b.Pick(nil)
	assert.ErrorIs(t, err, registry.ErrNoInstances)
}
