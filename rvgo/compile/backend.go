package compile

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// ObjectStore keeps compiled objects across runs, keyed by the hash of the
// compiler invocation and the source.
type ObjectStore interface {
	Get(key common.Hash) ([]byte, bool, error)
	Put(key common.Hash, obj []byte) error
}

type Stats struct {
	Compiles  int `json:"compiles"`
	StoreHits int `json:"storeHits"`
}

// Backend turns generated C programs into native code in the arena.
type Backend struct {
	log   log.Logger
	tc    Toolchain
	arena Arena
	store ObjectStore

	stats Stats
}

// NewBackend returns a Backend. store may be nil.
func NewBackend(logger log.Logger, tc Toolchain, arena Arena, store ObjectStore) *Backend {
	return &Backend{log: logger, tc: tc, arena: arena, store: store}
}

// Compile compiles src, installs it and binds it to pc. It returns the
// callable address of the start function. Toolchain and link failures are
// fatal and panic.
func (b *Backend) Compile(pc uint64, src []byte) uintptr {
	t0 := time.Now()
	obj, hit, err := b.Object(src)
	if err != nil {
		panic(fmt.Errorf("failed to compile code for pc %#x: %w", pc, err))
	}
	entry, err := Link(b.arena, pc, obj)
	if err != nil {
		panic(fmt.Errorf("failed to link code for pc %#x: %w", pc, err))
	}
	b.stats.Compiles++
	b.log.Debug("Compiled block", "pc", hexutil.Uint64(pc), "src", len(src), "obj", len(obj),
		"stored", hit, "duration", time.Since(t0))
	return entry
}

// Object returns the object code for src, and whether it came from the
// object store.
func (b *Backend) Object(src []byte) ([]byte, bool, error) {
	var key common.Hash
	if b.store != nil {
		key = ObjectKey(b.tc.Argv(), src)
		obj, ok, err := b.store.Get(key)
		if err != nil {
			b.log.Warn("Failed to read object store", "key", key, "err", err)
		} else if ok {
			b.stats.StoreHits++
			return obj, true, nil
		}
	}
	obj, err := b.tc.Compile(src)
	if err != nil {
		return nil, false, err
	}
	if b.store != nil {
		if err := b.store.Put(key, obj); err != nil {
			b.log.Warn("Failed to write object store", "key", key, "err", err)
		}
	}
	return obj, false, nil
}

func (b *Backend) Stats() Stats {
	return b.stats
}

// ObjectKey identifies the object produced by running argv on src.
func ObjectKey(argv []string, src []byte) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.Join(argv, "\x00")), []byte{0}, src)
}
