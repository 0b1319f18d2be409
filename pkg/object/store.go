package object

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned (wrapped) by Store.Get when no object has the
	// requested hash.
	ErrNotFound = errors.New("object not found")

	// ErrHashMismatch reports that content does not hash to the hash it was
	// declared under.
	ErrHashMismatch = errors.New("object hash mismatch")

	// ErrDuplicateMismatch reports an insert of an existing hash with
	// different type or content.
	ErrDuplicateMismatch = errors.New("duplicate object with different content")
)

// Store is a hash-keyed backing object store. Implementations must be safe
// for concurrent use. Put is idempotent for identical content and rejects a
// second insert of the same hash with different content.
type Store interface {
	// Get returns the object stored under h. The error wraps ErrNotFound
	// when the object is absent.
	Get(h Hash) (*Object, error)

	// Put stores data under h. The error wraps ErrHashMismatch if data
	// does not hash to h, and ErrDuplicateMismatch if h already holds
	// different content.
	Put(h Hash, objType ObjectType, data []byte) error
}

// Has reports whether s holds h. Errors other than ErrNotFound are returned.
func Has(s Store, h Hash) (bool, error) {
	_, err := s.Get(h)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// VerifyPut validates a pending insert: objType must be a base type and data
// must hash to h.
func VerifyPut(h Hash, objType ObjectType, data []byte) error {
	if !objType.IsBase() {
		return fmt.Errorf("put %s: cannot store %s object", h, objType)
	}
	if computed := HashObject(objType, data); computed != h {
		return fmt.Errorf("put %s: %w (computed %s)", h, ErrHashMismatch, computed)
	}
	return nil
}

// CheckDuplicate compares an existing object against a pending insert and
// returns nil when they are identical.
func CheckDuplicate(existing *Object, objType ObjectType, data []byte) error {
	if existing.Type != objType || !bytes.Equal(existing.Data, data) {
		return fmt.Errorf("put %s: %w", existing.Hash, ErrDuplicateMismatch)
	}
	return nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[Hash]*Object
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Hash]*Object)}
}

// Get implements Store.
func (s *MemoryStore) Get(h Hash) (*Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[h]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
	}
	return obj, nil
}

// Put implements Store.
func (s *MemoryStore) Put(h Hash, objType ObjectType, data []byte) error {
	if err := VerifyPut(h, objType, data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objects[h]; ok {
		return CheckDuplicate(existing, objType, data)
	}
	s.objects[h] = &Object{
		Hash: h,
		Type: objType,
		Data: append([]byte(nil), data...),
	}
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Hashes returns every stored hash in ascending order.
func (s *MemoryStore) Hashes() []Hash {
	s.mu.RLock()
	out := make([]Hash, 0, len(s.objects))
	for h := range s.objects {
		out = append(out, h)
	}
	s.mu.RUnlock()
	SortHashes(out)
	return out
}

// SortHashes sorts hashes in ascending byte order.
func SortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}
