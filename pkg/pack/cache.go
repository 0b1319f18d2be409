package pack

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/object"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// MemoryLimit bounds the bytes of object content held in memory. Zero
	// means unbounded. Objects pushed out of memory are spilled to disk and
	// stay readable.
	MemoryLimit int64
	// SpillDir is the parent directory for spill files. Empty means the
	// system temp directory.
	SpillDir string
	Logger   logrus.FieldLogger
}

type cacheMeta struct {
	objType  object.ObjectType
	size     int
	spilled  bool
	external bool
}

type evictedObject struct {
	hash object.Hash
	data []byte
}

// Cache holds the resolved objects of one pack, addressable by entry offset
// and by hash. Objects are inserted once and never dropped: when the memory
// budget is exceeded the least recently used content is written to a
// zstd-compressed spill file instead.
type Cache struct {
	mu      sync.Mutex
	offsets map[int64]object.Hash
	meta    map[object.Hash]*cacheMeta
	order   []object.Hash

	mem      *lru.Cache
	memBytes int64
	limit    int64
	evicted  []evictedObject

	spillParent string
	spillDir    string
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	spillCount  int

	log logrus.FieldLogger
}

// NewCache returns an empty cache.
func NewCache(opts CacheOptions) *Cache {
	c := &Cache{
		offsets:     make(map[int64]object.Hash),
		meta:        make(map[object.Hash]*cacheMeta),
		mem:         lru.New(0),
		limit:       opts.MemoryLimit,
		spillParent: opts.SpillDir,
		log:         opts.Logger,
	}
	if c.log == nil {
		c.log = discardLogger()
	}
	c.mem.OnEvicted = func(key lru.Key, value interface{}) {
		c.evicted = append(c.evicted, evictedObject{hash: key.(object.Hash), data: value.([]byte)})
	}
	return c
}

// Put inserts a resolved object available at offset (negative for objects
// that did not come from the pack stream). External objects serve as delta
// bases but are not reported by Each. Re-inserting identical content only
// records the extra offset; different content under the same hash is an
// integrity error.
func (c *Cache) Put(offset int64, obj *object.Object, external bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.meta[obj.Hash]; ok {
		existing, err := c.loadLocked(obj.Hash, m)
		if err != nil {
			return false, err
		}
		if m.objType != obj.Type || !bytes.Equal(existing, obj.Data) {
			return false, fmt.Errorf("cache %s: %w: duplicate hash with different content", obj.Hash, ErrIntegrity)
		}
		if offset >= 0 {
			c.offsets[offset] = obj.Hash
		}
		if m.external && !external {
			m.external = false
			c.order = append(c.order, obj.Hash)
		}
		return false, nil
	}

	c.meta[obj.Hash] = &cacheMeta{objType: obj.Type, size: len(obj.Data), external: external}
	if offset >= 0 {
		c.offsets[offset] = obj.Hash
	}
	if !external {
		c.order = append(c.order, obj.Hash)
	}
	c.mem.Add(obj.Hash, obj.Data)
	c.memBytes += int64(len(obj.Data))
	if err := c.shrinkLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Get returns the object stored under h.
func (c *Cache) Get(h object.Hash) (*object.Object, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(h)
}

// GetByOffset returns the object that starts at offset in the pack.
func (c *Cache) GetByOffset(offset int64) (*object.Object, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.offsets[offset]
	if !ok {
		return nil, false, nil
	}
	return c.getLocked(h)
}

// HashAt returns the hash of the object starting at offset.
func (c *Cache) HashAt(offset int64) (object.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.offsets[offset]
	return h, ok
}

// Len returns the number of distinct objects, external bases included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.meta)
}

// Each calls fn once per distinct pack object in insertion order. External
// bases are skipped.
func (c *Cache) Each(fn func(*object.Object) error) error {
	c.mu.Lock()
	order := append([]object.Hash(nil), c.order...)
	c.mu.Unlock()

	for _, h := range order {
		obj, ok, err := c.Get(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("cache %s: listed object missing", h)
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
	return nil
}

// Close releases spill files and codec state.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
	if c.spillDir != "" {
		dir := c.spillDir
		c.spillDir = ""
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("cache: remove spill dir: %w", err)
		}
	}
	return nil
}

func (c *Cache) getLocked(h object.Hash) (*object.Object, bool, error) {
	m, ok := c.meta[h]
	if !ok {
		return nil, false, nil
	}
	data, err := c.loadLocked(h, m)
	if err != nil {
		return nil, false, err
	}
	return &object.Object{Hash: h, Type: m.objType, Data: data}, true, nil
}

func (c *Cache) loadLocked(h object.Hash, m *cacheMeta) ([]byte, error) {
	if !m.spilled {
		v, ok := c.mem.Get(h)
		if !ok {
			return nil, fmt.Errorf("cache %s: object neither in memory nor spilled", h)
		}
		return v.([]byte), nil
	}

	compressed, err := os.ReadFile(c.spillPath(h))
	if err != nil {
		return nil, fmt.Errorf("cache %s: read spill file: %w", h, err)
	}
	data, err := c.dec.DecodeAll(compressed, make([]byte, 0, m.size))
	if err != nil {
		return nil, fmt.Errorf("cache %s: decode spill file: %w", h, err)
	}
	if len(data) != m.size {
		return nil, fmt.Errorf("cache %s: spill file size %d, want %d", h, len(data), m.size)
	}
	return data, nil
}

// shrinkLocked evicts least recently used content until the memory budget
// holds, spilling each evicted object to disk.
func (c *Cache) shrinkLocked() error {
	if c.limit <= 0 {
		return nil
	}
	for c.memBytes > c.limit && c.mem.Len() > 1 {
		c.evicted = c.evicted[:0]
		c.mem.RemoveOldest()
		for _, ev := range c.evicted {
			if err := c.spillLocked(ev.hash, ev.data); err != nil {
				return err
			}
			c.memBytes -= int64(len(ev.data))
			c.meta[ev.hash].spilled = true
		}
	}
	return nil
}

func (c *Cache) spillLocked(h object.Hash, data []byte) error {
	if c.spillDir == "" {
		dir, err := os.MkdirTemp(c.spillParent, "packd-spill-*")
		if err != nil {
			return fmt.Errorf("cache: create spill dir: %w", err)
		}
		c.spillDir = dir
	}
	if c.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fmt.Errorf("cache: zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("cache: zstd decoder: %w", err)
		}
		c.enc, c.dec = enc, dec
	}

	path := c.spillPath(h)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, c.enc.EncodeAll(data, nil), 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache %s: write spill file: %w", h, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cache %s: rename spill file: %w", h, err)
	}
	c.spillCount++
	c.log.WithFields(logrus.Fields{"hash": h.String(), "bytes": len(data)}).Debug("spilled object to disk")
	return nil
}

func (c *Cache) spillPath(h object.Hash) string {
	return filepath.Join(c.spillDir, h.String())
}

// Spilled returns how many objects have been written to disk.
func (c *Cache) Spilled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spillCount
}
