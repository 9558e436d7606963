package script

import (
	"fmt"
	"slices"
	"sync"
)

// StaticSource holds modules registered in code.
type StaticSource struct {
	name string

	mu      sync.RWMutex
	modules map[string]Module
}

// NewStaticSource creates a source named name holding modules.
// Later duplicates are ignored.
func NewStaticSource(name string, modules ...Module) *StaticSource {
	s := &StaticSource{name: name, modules: make(map[string]Module)}
	for _, m := range modules {
		_ = s.Register(m)
	}
	return s
}

// Register adds a module.
func (s *StaticSource) Register(m Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.modules[m.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name)
	}
	s.modules[m.Name] = m
	return nil
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Lookup implements Source.
func (s *StaticSource) Lookup(name string) (Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	if !ok {
		return Module{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	m.Units = slices.Clone(m.Units)
	return m, nil
}

// List implements Source.
func (s *StaticSource) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
