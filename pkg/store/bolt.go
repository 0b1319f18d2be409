package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/odvcencio/packd/pkg/object"
)

const boltFileName = "objects.db"

var objectsBucket = []byte("objects")

// encMode produces Core Deterministic CBOR so a record always encodes to
// the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

// boltRecord is the value stored under a 20-byte object hash key.
type boltRecord struct {
	Type object.ObjectType `cbor:"1,keyasint"`
	Data []byte            `cbor:"2,keyasint"`
}

// BoltStore keeps objects in a single bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates objects.db under dir.
func OpenBoltStore(dir string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("bolt store mkdir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, boltFileName), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Get returns the object stored under h.
func (s *BoltStore) Get(h object.Hash) (*object.Object, error) {
	var obj *object.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		obj, err = getRecord(tx.Bucket(objectsBucket), h)
		return err
	})
	return obj, err
}

// Put stores data under h in its own transaction. Concurrent identical
// puts are serialized by bbolt and all succeed.
func (s *BoltStore) Put(h object.Hash, objType object.ObjectType, data []byte) error {
	if err := object.VerifyPut(h, objType, data); err != nil {
		return err
	}
	value, err := encMode.Marshal(boltRecord{Type: objType, Data: data})
	if err != nil {
		return fmt.Errorf("put %s: marshal: %w", h, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(objectsBucket)
		existing, err := getRecord(bucket, h)
		if err == nil {
			return object.CheckDuplicate(existing, objType, data)
		}
		if !errors.Is(err, object.ErrNotFound) {
			return err
		}
		if err := bucket.Put(h[:], value); err != nil {
			return fmt.Errorf("put %s: %w", h, err)
		}
		return nil
	})
}

// Len returns the number of stored objects.
func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(objectsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Walk calls fn for every stored object in hash order.
func (s *BoltStore) Walk(fn func(*object.Object) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(objectsBucket).ForEach(func(k, v []byte) error {
			h, err := object.HashFromBytes(k)
			if err != nil {
				return fmt.Errorf("bolt store: bad key %x: %w", k, err)
			}
			obj, err := decodeRecord(h, v)
			if err != nil {
				return err
			}
			return fn(obj)
		})
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error { return s.db.Close() }

func getRecord(bucket *bolt.Bucket, h object.Hash) (*object.Object, error) {
	value := bucket.Get(h[:])
	if value == nil {
		return nil, fmt.Errorf("object read %s: %w", h, object.ErrNotFound)
	}
	return decodeRecord(h, value)
}

// decodeRecord copies out of the bbolt page, which is only valid for the
// life of the transaction.
func decodeRecord(h object.Hash, value []byte) (*object.Object, error) {
	var rec boltRecord
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("object read %s: unmarshal: %w", h, err)
	}
	if rec.Data == nil {
		rec.Data = []byte{}
	}
	return &object.Object{Hash: h, Type: rec.Type, Data: rec.Data}, nil
}
