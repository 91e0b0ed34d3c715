package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	bolt "go.etcd.io/bbolt"
)

var bucketState = []byte("state")

// ErrClosed is returned when an operation is attempted on a closed store.
var ErrClosed = errors.New("storage: store closed")

// KV is the key-value contract shared by the engine packages. Values are
// encoded with RLP, so stored structs must restrict themselves to RLP-safe
// field types (unsigned integers, byte slices and arrays, strings, booleans).
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

// Store persists engine state in a single-bucket bbolt database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database file at the supplied path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) KVGet(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketState).Get(key)
		if value != nil {
			raw = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) KVPut(key []byte, value interface{}) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(key, encoded)
	})
}

func (s *Store) KVDelete(key []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Delete(key)
	})
}

// KVAppend adds an encoded entry to the list stored under key. Lists are kept
// as an RLP-encoded slice of byte strings.
func (s *Store) KVAppend(key []byte, value []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketState)
		var list [][]byte
		if raw := bucket.Get(key); raw != nil {
			if err := rlp.DecodeBytes(raw, &list); err != nil {
				return fmt.Errorf("storage: decode list %q: %w", key, err)
			}
		}
		list = append(list, append([]byte(nil), value...))
		encoded, err := rlp.EncodeToBytes(list)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
}

func (s *Store) KVGetList(key []byte, out *[][]byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketState).Get(key)
		if raw == nil {
			*out = nil
			return nil
		}
		var list [][]byte
		if err := rlp.DecodeBytes(raw, &list); err != nil {
			return fmt.Errorf("storage: decode list %q: %w", key, err)
		}
		*out = list
		return nil
	})
}

// Memory is an in-process KV implementation used by tests and tooling.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	lists map[string][][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string][]byte),
		lists: make(map[string][][]byte),
	}
}

func (m *Memory) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.RLock()
	raw, ok := m.data[string(key)]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Memory) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	m.mu.Lock()
	m.data[string(key)] = encoded
	m.mu.Unlock()
	return nil
}

func (m *Memory) KVDelete(key []byte) error {
	m.mu.Lock()
	delete(m.data, string(key))
	m.mu.Unlock()
	return nil
}

func (m *Memory) KVAppend(key []byte, value []byte) error {
	m.mu.Lock()
	m.lists[string(key)] = append(m.lists[string(key)], append([]byte(nil), value...))
	m.mu.Unlock()
	return nil
}

func (m *Memory) KVGetList(key []byte, out *[][]byte) error {
	m.mu.RLock()
	list := m.lists[string(key)]
	m.mu.RUnlock()
	copied := make([][]byte, len(list))
	for i, entry := range list {
		copied[i] = append([]byte(nil), entry...)
	}
	*out = copied
	return nil
}
