package pack

import (
	"sync"

	"github.com/odvcencio/packd/pkg/object"
)

// PendingIndex maps a base identifier to the delta entries waiting on it.
// Take removes a whole bucket atomically, so two resolvers can never both
// receive the same waiting entry.
type PendingIndex[K comparable] struct {
	mu      sync.Mutex
	buckets map[K][]*Entry
	count   int
}

// NewPendingIndex returns an empty index.
func NewPendingIndex[K comparable]() *PendingIndex[K] {
	return &PendingIndex[K]{buckets: make(map[K][]*Entry)}
}

// Add parks e under key.
func (p *PendingIndex[K]) Add(key K, e *Entry) {
	p.mu.Lock()
	p.buckets[key] = append(p.buckets[key], e)
	p.count++
	p.mu.Unlock()
}

// Take removes and returns every entry waiting on key.
func (p *PendingIndex[K]) Take(key K) []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket, ok := p.buckets[key]
	if !ok {
		return nil
	}
	delete(p.buckets, key)
	p.count -= len(bucket)
	return bucket
}

// Len returns the number of waiting entries.
func (p *PendingIndex[K]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Keys returns the base identifiers that still have waiters.
func (p *PendingIndex[K]) Keys() []K {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]K, 0, len(p.buckets))
	for k := range p.buckets {
		keys = append(keys, k)
	}
	return keys
}

// Waitlist holds delta entries blocked on a base that is not yet cached:
// OFS_DELTA entries keyed by base offset and REF_DELTA entries keyed by base
// hash.
type Waitlist struct {
	ByOffset *PendingIndex[int64]
	ByHash   *PendingIndex[object.Hash]
}

// NewWaitlist returns an empty waitlist.
func NewWaitlist() *Waitlist {
	return &Waitlist{
		ByOffset: NewPendingIndex[int64](),
		ByHash:   NewPendingIndex[object.Hash](),
	}
}

// Add parks a delta entry in the index matching its type.
func (w *Waitlist) Add(e *Entry) {
	if e.Type == object.TypeOfsDelta {
		w.ByOffset.Add(e.BaseOffset, e)
		return
	}
	w.ByHash.Add(e.BaseHash, e)
}

// Take removes every entry waiting on an object available at offset (if
// known, otherwise pass a negative offset) or under hash.
func (w *Waitlist) Take(offset int64, h object.Hash) []*Entry {
	var out []*Entry
	if offset >= 0 {
		out = append(out, w.ByOffset.Take(offset)...)
	}
	return append(out, w.ByHash.Take(h)...)
}

// Len returns the total number of waiting entries.
func (w *Waitlist) Len() int {
	return w.ByOffset.Len() + w.ByHash.Len()
}
