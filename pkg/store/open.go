package store

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/odvcencio/packd/pkg/object"
)

// Backend is an object store that holds resources until closed.
type Backend interface {
	object.Store
	io.Closer
}

// Kinds accepted by Open.
const (
	KindLoose  = "loose"
	KindBolt   = "bolt"
	KindMemory = "memory"
)

type memoryBackend struct {
	*object.MemoryStore
}

func (memoryBackend) Close() error { return nil }

// Open returns the backend of the given kind rooted at path. The memory
// kind ignores path.
func Open(kind, path string, log logrus.FieldLogger) (Backend, error) {
	switch kind {
	case KindLoose, "":
		if path == "" {
			return nil, fmt.Errorf("open %s store: no path", KindLoose)
		}
		return NewLooseStore(path, log), nil
	case KindBolt:
		if path == "" {
			return nil, fmt.Errorf("open %s store: no path", KindBolt)
		}
		s, err := OpenBoltStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindMemory:
		return memoryBackend{object.NewMemoryStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
