// Package store persists the contract registry: which named contract is
// bound to which address, and the ABI of contracts registered at runtime.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("contract not registered")

type Entry struct {
	Name      string          `json:"name"`
	Address   common.Address  `json:"address"`
	ABI       json.RawMessage `json:"abi,omitempty"`
	Bytecode  string          `json:"bytecode,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Registry interface {
	Put(ctx context.Context, e *Entry) error
	// Get returns ErrNotFound for unknown names.
	Get(ctx context.Context, name string) (*Entry, error)
	// List returns all entries ordered by name.
	List(ctx context.Context) ([]*Entry, error)
}

// Names are case-insensitive.
func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

type memoryRegistry struct {
	mux     sync.RWMutex
	entries map[string]*Entry
}

func NewMemory() Registry {
	return &memoryRegistry{entries: map[string]*Entry{}}
}

func (m *memoryRegistry) Put(_ context.Context, e *Entry) error {
	cp := *e
	cp.Name = key(e.Name)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	m.entries[cp.Name] = &cp
	return nil
}

func (m *memoryRegistry) Get(_ context.Context, name string) (*Entry, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	e, ok := m.entries[key(name)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memoryRegistry) List(_ context.Context) ([]*Entry, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		out = append(out, &cp)
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []*Entry) {
	slices.SortFunc(entries, func(a, b *Entry) int { return strings.Compare(a.Name, b.Name) })
}
