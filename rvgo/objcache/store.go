// Package objcache persists compiled objects in a pebble database, so that
// hot code compiled in one run is linked without invoking the compiler in
// the next.
package objcache

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-optimism/rvjit/rvgo/compile"
)

var keyPrefix = []byte("obj/")

type Store struct {
	db *pebble.DB
}

var _ compile.ObjectStore = (*Store)(nil)

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object cache %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func dbKey(key common.Hash) []byte {
	return append(append([]byte(nil), keyPrefix...), key[:]...)
}

func (s *Store) Get(key common.Hash) ([]byte, bool, error) {
	v, closer, err := s.db.Get(dbKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Put(key common.Hash, obj []byte) error {
	return s.db.Set(dbKey(key), obj, pebble.NoSync)
}

// Len counts the stored objects.
func (s *Store) Len() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: []byte("obj0"),
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
