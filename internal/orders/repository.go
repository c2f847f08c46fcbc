package orders

import (
	"context"
	"sync"
)

// Repository holds the live state machines of the ledger, one per order
type Repository interface {
	Add(m *StateMachine)
	Get(orderID string) (*StateMachine, bool)
	// List returns machines in creation order.
	List() []*StateMachine
	Len() int
}

// Store persists order snapshots. Read-back is not part of the hot path.
type Store interface {
	SaveOrder(ctx context.Context, order *Order) error
}

// MemoryRepository is the in-process Repository
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]*StateMachine
	order []*StateMachine
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*StateMachine)}
}

func (r *MemoryRepository) Add(m *StateMachine) {
	id := m.Snapshot().OrderID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return
	}
	r.byID[id] = m
	r.order = append(r.order, m)
}

func (r *MemoryRepository) Get(orderID string) (*StateMachine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[orderID]
	return m, ok
}

func (r *MemoryRepository) List() []*StateMachine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*StateMachine, len(r.order))
	copy(out, r.order)
	return out
}

func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
