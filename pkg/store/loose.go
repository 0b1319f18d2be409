package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/object"
	"github.com/odvcencio/packd/pkg/pack"
)

// LooseStore is a Git object directory: zlib-compressed loose objects in a
// 2-character fan-out layout (objects/ab/cdef...) plus indexed packs under
// objects/pack.
type LooseStore struct {
	root string
	log  logrus.FieldLogger

	mu     sync.Mutex
	packs  []*pack.Packfile
	loaded bool
}

// NewLooseStore creates a store rooted at root. The objects/ directory is
// created lazily on first write.
func NewLooseStore(root string, log logrus.FieldLogger) *LooseStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LooseStore{root: root, log: log.WithField("store", root)}
}

func (s *LooseStore) objectsDir() string { return filepath.Join(s.root, "objects") }

func (s *LooseStore) packDir() string { return filepath.Join(s.root, "objects", "pack") }

func (s *LooseStore) objectPath(h object.Hash) string {
	hex := h.String()
	return filepath.Join(s.objectsDir(), hex[:2], hex[2:])
}

// Get reads h from the loose objects, then from the packs.
func (s *LooseStore) Get(h object.Hash) (*object.Object, error) {
	obj, err := s.readLoose(h)
	if err == nil {
		return obj, nil
	}
	if !errors.Is(err, object.ErrNotFound) {
		return nil, err
	}
	return s.readFromPacks(h)
}

// Put writes a loose object unless h is already stored. Writes are atomic:
// data is compressed into a temp file and then renamed into place.
func (s *LooseStore) Put(h object.Hash, objType object.ObjectType, data []byte) error {
	if err := object.VerifyPut(h, objType, data); err != nil {
		return err
	}
	existing, err := s.Get(h)
	if err == nil {
		return object.CheckDuplicate(existing, objType, data)
	}
	if !errors.Is(err, object.ErrNotFound) {
		return err
	}

	dir := filepath.Dir(s.objectPath(h))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("object write mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	_, err = zw.Write(object.ObjectHeader(objType, int64(len(data))))
	if err == nil {
		_, err = zw.Write(data)
	}
	if err == nil {
		err = zw.Close()
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("object write %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("object write close: %w", err)
	}
	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("object write rename: %w", err)
	}
	return nil
}

// readLoose inflates a loose object and checks that its content hashes to h.
func (s *LooseStore) readLoose(h object.Hash) (*object.Object, error) {
	f, err := os.Open(s.objectPath(h))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object read %s: %w", h, object.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w: %w", h, pack.ErrIntegrity, err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	objType, size, err := readLooseHeader(br)
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}

	hr := pack.NewHashingReader(br, objType, size)
	var buf bytes.Buffer
	buf.Grow(int(min(size, 64<<20)))
	if _, err := io.Copy(&buf, hr); err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	got, err := hr.Sum()
	if err != nil {
		return nil, fmt.Errorf("object read %s: %w", h, err)
	}
	if got != h {
		return nil, fmt.Errorf("object read %s: %w (computed %s)", h, object.ErrHashMismatch, got)
	}
	return &object.Object{Hash: h, Type: objType, Data: buf.Bytes()}, nil
}

// readLooseHeader parses the "type len\0" envelope of a loose object.
func readLooseHeader(br *bufio.Reader) (object.ObjectType, int64, error) {
	header, err := br.ReadString(0)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid format (no NUL): %w", pack.ErrIntegrity, err)
	}
	header = strings.TrimSuffix(header, "\x00")
	typeName, length, ok := strings.Cut(header, " ")
	if !ok {
		return 0, 0, fmt.Errorf("%w: invalid header %q", pack.ErrIntegrity, header)
	}
	objType, err := object.ParseObjectType(typeName)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", pack.ErrIntegrity, err)
	}
	size, err := strconv.ParseInt(length, 10, 64)
	if err != nil || size < 0 {
		return 0, 0, fmt.Errorf("%w: invalid length %q", pack.ErrIntegrity, length)
	}
	return objType, size, nil
}

// Close releases open pack files.
func (s *LooseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, p := range s.packs {
		errs = append(errs, p.Close())
	}
	s.packs, s.loaded = nil, false
	return errors.Join(errs...)
}
