package pack

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/odvcencio/packd/pkg/object"
)

const (
	maxChainDepth     = 4096
	packfileBaseCache = 256
)

// Packfile reads individual objects from an indexed pack on disk.
// It is safe for concurrent use.
type Packfile struct {
	Path string

	f     *os.File
	size  int64
	idx   *Index
	store object.Store

	mu    sync.Mutex
	z     inflater
	bases *lru.Cache // offset -> *object.Object
}

// OpenPackfile opens the pack at path for lookups through idx. REF_DELTA
// bases absent from the pack are read from store, which may be nil.
func OpenPackfile(path string, idx *Index, store object.Store) (*Packfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pack %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat pack %s: %w", path, err)
	}
	if fi.Size() < headerSize+trailerSize {
		f.Close()
		return nil, fmt.Errorf("pack %s: %w: %d bytes", path, ErrTruncated, fi.Size())
	}
	return &Packfile{
		Path:  path,
		f:     f,
		size:  fi.Size(),
		idx:   idx,
		store: store,
		bases: lru.New(packfileBaseCache),
	}, nil
}

// Index returns the idx the pack was opened with.
func (p *Packfile) Index() *Index { return p.idx }

// Close releases the pack file.
func (p *Packfile) Close() error { return p.f.Close() }

// Has reports whether the pack's index lists h.
func (p *Packfile) Has(h object.Hash) bool {
	_, ok := p.idx.Find(h)
	return ok
}

// Get reads h from the pack, applying its delta chain.
func (p *Packfile) Get(h object.Hash) (*object.Object, error) {
	ie, ok := p.idx.Find(h)
	if !ok {
		return nil, fmt.Errorf("pack %s: %s: %w", p.Path, h, object.ErrNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	obj, err := p.objectAt(int64(ie.Offset))
	if err != nil {
		return nil, fmt.Errorf("pack %s: object %s: %w", p.Path, h, err)
	}
	if obj.Hash != h {
		return nil, fmt.Errorf("pack %s: object %s: %w: content hashes to %s", p.Path, h, ErrIntegrity, obj.Hash)
	}
	return obj, nil
}

// objectAt follows the delta chain starting at offset down to a base and
// applies the deltas back up.
func (p *Packfile) objectAt(offset int64) (*object.Object, error) {
	var chain []*Entry
	var base *object.Object

	for base == nil {
		if len(chain) > maxChainDepth {
			return nil, fmt.Errorf("%w: delta chain deeper than %d", ErrFraming, maxChainDepth)
		}
		if cached, ok := p.bases.Get(offset); ok {
			base = cached.(*object.Object)
			break
		}

		e, err := p.entryAt(offset)
		if err != nil {
			return nil, err
		}
		switch {
		case e.Type.IsBase():
			base = &object.Object{Hash: e.Hash, Type: e.Type, Data: e.Data}
			p.bases.Add(offset, base)
		case e.Type == object.TypeOfsDelta:
			chain = append(chain, e)
			offset = e.BaseOffset
		default:
			chain = append(chain, e)
			if ie, ok := p.idx.Find(e.BaseHash); ok {
				offset = int64(ie.Offset)
				continue
			}
			if base, err = p.external(e.BaseHash); err != nil {
				return nil, err
			}
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		obj, err := resolveDelta(chain[i], base)
		if err != nil {
			return nil, err
		}
		p.bases.Add(chain[i].Offset, obj)
		base = obj
	}
	return base, nil
}

func (p *Packfile) external(h object.Hash) (*object.Object, error) {
	missing := &UnresolvedDeltaError{MissingHashes: []object.Hash{h}, Pending: 1}
	if p.store == nil {
		return nil, missing
	}
	obj, err := p.store.Get(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", missing, err)
	}
	if got := object.HashObject(obj.Type, obj.Data); got != h {
		return nil, fmt.Errorf("base %s: %w: store content hashes to %s", h, ErrIntegrity, got)
	}
	return obj, nil
}

func (p *Packfile) entryAt(offset int64) (*Entry, error) {
	if offset < headerSize || offset >= p.size-trailerSize {
		return nil, fmt.Errorf("%w: entry offset %d outside pack", ErrFraming, offset)
	}
	section := io.NewSectionReader(p.f, offset, p.size-trailerSize-offset)
	src := newPackSource(bufio.NewReader(section))
	src.n = offset
	return readEntry(src, &p.z, offset, nil)
}
