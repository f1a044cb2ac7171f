package host

import (
	"fmt"
	"sync"
)

// Memory is a Compilation held entirely in memory.
type Memory struct {
	Options OutputOptions

	mu       sync.Mutex
	order    []string
	assets   map[string]string
	errors   []error
	warnings []string
}

// NewMemory builds a compilation from name/source pairs; assets keep the
// order of the pairs.
func NewMemory(opts OutputOptions, pairs ...string) *Memory {
	m := &Memory{Options: opts, assets: map[string]string{}}
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Emit(pairs[i], pairs[i+1])
	}
	return m
}

func (m *Memory) Assets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func (m *Memory) Source(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.assets[name]
	if !ok {
		return "", fmt.Errorf("asset %q not found", name)
	}
	return src, nil
}

func (m *Memory) Update(name, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[name] = code
}

func (m *Memory) Emit(name, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[name]; !ok {
		m.order = append(m.order, name)
	}
	m.assets[name] = code
}

// Remove drops an asset, so tests can make a listed asset unreadable.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assets, name)
}

func (m *Memory) PushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *Memory) PushWarning(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, msg)
}

func (m *Memory) Output() OutputOptions { return m.Options }

func (m *Memory) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.errors...)
}

func (m *Memory) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnings...)
}
