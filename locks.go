package vfs

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// parentLocks serializes structural operations per parent directory, so
// concurrent creates, removes and renames under the same parent cannot
// interleave their existence checks with their mutations.
type parentLocks struct {
	locks *xsync.Map[string, *sync.Mutex]
}

func newParentLocks() *parentLocks {
	return &parentLocks{locks: xsync.NewMap[string, *sync.Mutex]()}
}

func (pl *parentLocks) get(parent string) *sync.Mutex {
	mu, _ := pl.locks.LoadOrStore(parent, &sync.Mutex{})
	return mu
}

// lock acquires the mutex for one parent and returns its release func.
func (pl *parentLocks) lock(parent string) func() {
	mu := pl.get(parent)
	mu.Lock()
	return mu.Unlock
}

// lockPair acquires the mutexes for two parents in deterministic order,
// avoiding deadlock when two renames cross the same pair of directories.
func (pl *parentLocks) lockPair(a, b string) func() {
	if a == b {
		return pl.lock(a)
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	muA := pl.get(first)
	muB := pl.get(second)
	muA.Lock()
	muB.Lock()
	return func() {
		muB.Unlock()
		muA.Unlock()
	}
}
