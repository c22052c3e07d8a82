package detector

import (
	"sort"
	"sync"
)

// WorkerRecord is the coordinator's view of one worker.
type WorkerRecord struct {
	Address   Address `json:"address"`
	Suspicion int     `json:"suspicion"`
}

// Registry maps worker addresses to their records. Only the coordinator
// mutates it; the lock lets status readers take copies concurrently.
// A missing address is either never registered or already failed.
type Registry struct {
	mu      sync.RWMutex
	workers map[Address]*WorkerRecord
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[Address]*WorkerRecord)}
}

// Add inserts a fresh record and reports whether addr was new.
// An existing record is left untouched.
func (r *Registry) Add(addr Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[addr]; ok {
		return false
	}
	r.workers[addr] = &WorkerRecord{Address: addr}
	return true
}

func (r *Registry) Get(addr Address) (WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[addr]
	if !ok {
		return WorkerRecord{}, false
	}
	return *w, true
}

// Reset clears the suspicion of addr. It returns false if addr is unknown.
func (r *Registry) Reset(addr Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[addr]
	if !ok {
		return false
	}
	w.Suspicion = 0
	return true
}

// Bump increments the suspicion of addr and returns the new level.
func (r *Registry) Bump(addr Address) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[addr]
	if !ok {
		return 0, false
	}
	w.Suspicion++
	return w.Suspicion, true
}

func (r *Registry) Remove(addr Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, addr)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Snapshot returns a copy of every record, ordered by address.
func (r *Registry) Snapshot() []WorkerRecord {
	r.mu.RLock()
	out := make([]WorkerRecord, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
