package registry

import "sync"

// MemoryRegistry is an in-process Registry for tests and single-process
// deployments. TTLs are accepted and ignored; an instance lives until its
// registration is closed.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string][]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(serviceName string, instance ServiceInstance, _ int64) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[serviceName] = append(m.instances[serviceName], instance)
	m.notify(serviceName)
	return &memoryRegistration{
		registry: m,
		service:  serviceName,
		addr:     instance.Addr,
	}, nil
}

func (m *MemoryRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[serviceName]
	out := make([]ServiceInstance, len(insts))
	copy(out, insts)
	return out, nil
}

// Watch seeds the channel with the current instance list, then pushes an
// updated list on every change.
func (m *MemoryRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []ServiceInstance, 1)
	insts := m.instances[serviceName]
	out := make([]ServiceInstance, len(insts))
	copy(out, insts)
	ch <- out
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	return ch
}

func (m *MemoryRegistry) remove(serviceName, addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	m.notify(serviceName)
}

// notify pushes the current instance list to each watcher. Latest wins: a
// stale undelivered update is displaced rather than the new one dropped.
// Callers hold m.mu.
func (m *MemoryRegistry) notify(serviceName string) {
	insts := m.instances[serviceName]
	for _, ch := range m.watchers[serviceName] {
		out := make([]ServiceInstance, len(insts))
		copy(out, insts)
		select {
		case ch <- out:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- out:
		default:
		}
	}
}

// memoryRegistration removes its instance on Close.
type memoryRegistration struct {
	registry *MemoryRegistry
	service  string
	addr     string
	once     sync.Once
}

func (reg *memoryRegistration) Close() error {
	reg.once.Do(func() {
		reg.registry.remove(reg.service, reg.addr)
	})
	return nil
}
