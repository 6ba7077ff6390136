// Package syncutil contains a striped mutex keyed by an arbitrary byte
// slice, used to serialize access to a single object digest without
// paying for a map of mutexes per digest ever seen.
package syncutil

import (
	"sync"

	"github.com/gogf/gf/encoding/ghash"
)

// NamedMutex locks/unlocks using a key. Two distinct keys may hash to
// the same stripe and block each other; this is an accepted false
// contention, not a correctness issue, since every write to a given
// digest is idempotent.
type NamedMutex struct {
	locks []sync.RWMutex
	size  uint32
}

// NewNamedMutex creates a NamedMutex with the given number of stripes.
// A size below 2 is bumped to 2; a prime size spreads keys more evenly.
func NewNamedMutex(size uint32) *NamedMutex {
	if size < 2 {
		size = 2
	}
	return &NamedMutex{size: size, locks: make([]sync.RWMutex, size)}
}

func (m *NamedMutex) stripe(key []byte) *sync.RWMutex {
	return &m.locks[ghash.SDBMHash(key)%m.size]
}

// Lock locks the stripe for key.
func (m *NamedMutex) Lock(key []byte) { m.stripe(key).Lock() }

// Unlock unlocks the stripe for key.
func (m *NamedMutex) Unlock(key []byte) { m.stripe(key).Unlock() }

// RLock read-locks the stripe for key.
func (m *NamedMutex) RLock(key []byte) { m.stripe(key).RLock() }

// RUnlock read-unlocks the stripe for key.
func (m *NamedMutex) RUnlock(key []byte) { m.stripe(key).RUnlock() }
