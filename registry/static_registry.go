package registry

import (
	"github.com/go-faster/errors"
	"sort"
	"sync"
)

// Static is an in-memory Registry. TTLs are ignored: entries live until
// deregistered.
type Static struct {
	mu       sync.RWMutex
	services map[string]map[string]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

// NewStatic returns an empty registry.
func NewStatic() *Static {
	return &Static{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// Register adds or replaces the instance at instance.Addr.
func (s *Static) Register(serviceName string, instance ServiceInstance, _ int64) error {
	if serviceName == "" || instance.Addr == "" {
		return errors.New("static registry: empty service name or address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byAddr, ok := s.services[serviceName]
	if !ok {
		byAddr = make(map[string]ServiceInstance)
		s.services[serviceName] = byAddr
	}
	byAddr[instance.Addr] = instance
	s.notify(serviceName)
	return nil
}

func (s *Static) Deregister(serviceName string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byAddr, ok := s.services[serviceName]; ok {
		delete(byAddr, addr)
		s.notify(serviceName)
	}
	return nil
}

// Discover returns the instances sorted by address, or ErrNotFound.
func (s *Static) Discover(serviceName string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instances := s.list(serviceName)
	if len(instances) == 0 {
		return nil, errors.Wrap(ErrNotFound, serviceName)
	}
	return instances, nil
}

// Watch emits the full instance list after every change. A slow reader
// only ever sees the latest list.
func (s *Static) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	s.mu.Lock()
	s.watchers[serviceName] = append(s.watchers[serviceName], ch)
	s.mu.Unlock()
	return ch
}

func (s *Static) list(serviceName string) []ServiceInstance {
	instances := make([]ServiceInstance, 0, len(s.services[serviceName]))
	for _, inst := range s.services[serviceName] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
	return instances
}

// notify must be called with mu held.
func (s *Static) notify(serviceName string) {
	instances := s.list(serviceName)
	for _, ch := range s.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
