package authguard

import (
	"sort"
	"sync"
)

// MemoryHistory is an in-memory location stack. It implements Navigator and
// LocationNotifier. A navigation requested from inside a listener is applied
// after the current notification round completes.
type MemoryHistory struct {
	mu        sync.Mutex
	entries   []string
	index     int
	listeners map[uint64]func(string)
	nextID    uint64

	queue     []func() bool
	notifying bool
}

// NewMemoryHistory starts the history at initial ("/" when empty).
func NewMemoryHistory(initial string) *MemoryHistory {
	if initial == "" {
		initial = "/"
	}
	return &MemoryHistory{
		entries:   []string{initial},
		listeners: make(map[uint64]func(string)),
	}
}

// Location returns the current location including its query.
func (h *MemoryHistory) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// Entries returns a copy of the stack.
func (h *MemoryHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Navigate pushes target, dropping any forward entries. Navigating to the
// current location does nothing.
func (h *MemoryHistory) Navigate(target string) {
	h.apply(func() bool {
		if target == "" || h.entries[h.index] == target {
			return false
		}
		h.entries = append(h.entries[:h.index+1], target)
		h.index = len(h.entries) - 1
		return true
	})
}

// Replace swaps the current entry for target.
func (h *MemoryHistory) Replace(target string) {
	h.apply(func() bool {
		if target == "" || h.entries[h.index] == target {
			return false
		}
		h.entries[h.index] = target
		return true
	})
}

// Back moves one entry back, if possible.
func (h *MemoryHistory) Back() {
	h.apply(func() bool {
		if h.index == 0 {
			return false
		}
		h.index--
		return true
	})
}

// Forward moves one entry forward, if possible.
func (h *MemoryHistory) Forward() {
	h.apply(func() bool {
		if h.index >= len(h.entries)-1 {
			return false
		}
		h.index++
		return true
	})
}

// OnLocationChange registers fn for every location change.
func (h *MemoryHistory) OnLocationChange(fn func(location string)) UnsubscribeFunc {
	if fn == nil {
		return func() {}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// apply queues a mutation; the first caller drains the queue and notifies.
// mutate runs with h.mu held and reports whether the location changed.
func (h *MemoryHistory) apply(mutate func() bool) {
	h.mu.Lock()
	h.queue = append(h.queue, mutate)
	if h.notifying {
		h.mu.Unlock()
		return
	}
	h.notifying = true

	for len(h.queue) > 0 {
		next := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]

		if !next() {
			continue
		}

		location := h.entries[h.index]
		fns := h.snapshotListeners()
		h.mu.Unlock()

		for _, fn := range fns {
			fn(location)
		}

		h.mu.Lock()
	}

	h.notifying = false
	h.mu.Unlock()
}

func (h *MemoryHistory) snapshotListeners() []func(string) {
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	return fns
}
