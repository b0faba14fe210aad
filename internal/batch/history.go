package batch

import "sync"

// History is the append-only log of batches that reached a terminal state.
type History interface {
	// Append records a completed batch. It is called exactly once per batch.
	Append(b Batch) error
	// All returns every recorded batch in completion order.
	All() []Batch
}

// MemoryHistory keeps the completed batches in memory. It is lost when the
// process exits.
type MemoryHistory struct {
	mu      sync.Mutex
	batches []Batch
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(b Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, b.Copy())
	return nil
}

func (h *MemoryHistory) All() []Batch {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := make([]Batch, 0, len(h.batches))
	for _, b := range h.batches {
		all = append(all, b.Copy())
	}
	return all
}

var _ History = &MemoryHistory{}
