package provider

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/gogpu/tilecache/imagery"
	"github.com/gogpu/tilecache/internal/image"
)

type memoryWatch struct {
	fn func(*imagery.Data)
}

// Memory is an in-process provider holding decoded imagery by key.
//
// Memory answers immediately, so managers fetch from it on the requesting
// goroutine. Put pushes the new data to managers watching the key.
//
// Memory is safe for concurrent use.
type Memory struct {
	name string

	mu       sync.RWMutex
	data     map[any]*imagery.Data
	watchers map[any][]*memoryWatch
}

// NewMemory returns an empty provider called name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:     name,
		data:     make(map[any]*imagery.Data),
		watchers: make(map[any][]*memoryWatch),
	}
}

// Name implements imagery.Provider.
func (m *Memory) Name() string { return m.name }

// CanProvideImmediately implements imagery.ImmediateProvider.
func (m *Memory) CanProvideImmediately() bool { return true }

// Fetch implements imagery.Provider.
func (m *Memory) Fetch(_ context.Context, key any) (*imagery.Data, error) {
	if !isComparable(key) {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

// Observe implements imagery.ObservableProvider.
func (m *Memory) Observe(key any, fn func(*imagery.Data)) (cancel func()) {
	if !isComparable(key) {
		return func() {}
	}
	w := &memoryWatch{fn: fn}

	m.mu.Lock()
	m.watchers[key] = append(slices.Clip(m.watchers[key]), w)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[key]
		i := slices.Index(list, w)
		if i < 0 {
			return
		}
		if len(list) == 1 {
			delete(m.watchers, key)
			return
		}
		m.watchers[key] = slices.Delete(slices.Clone(list), i, i+1)
	}
}

// Put stores data for key and pushes it to the key's watchers. A nil data
// removes the key.
func (m *Memory) Put(key any, data *imagery.Data) error {
	if !isComparable(key) {
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	m.mu.Lock()
	if data == nil {
		delete(m.data, key)
	} else {
		m.data[key] = data
	}
	watchers := m.watchers[key]
	m.mu.Unlock()

	for _, w := range watchers {
		w.fn(data)
	}
	return nil
}

// PutEncoded decodes b and stores it for key.
func (m *Memory) PutEncoded(key any, b []byte) error {
	img, format, err := image.Decode(b)
	if err != nil {
		return fmt.Errorf("provider: %s: %w", m.name, err)
	}
	return m.Put(key, &imagery.Data{Draw: img, Format: format})
}

// Delete removes key.
func (m *Memory) Delete(key any) error {
	return m.Put(key, nil)
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func isComparable(key any) bool {
	return key != nil && reflect.TypeOf(key).Comparable()
}

var (
	_ imagery.ImmediateProvider  = (*Memory)(nil)
	_ imagery.ObservableProvider = (*Memory)(nil)
)
