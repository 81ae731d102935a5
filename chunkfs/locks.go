package chunkfs

import (
	"sync"

	"github.com/taigrr/colorhash"
)

// lockStripes is the number of mutexes chunk paths are hashed onto.
const lockStripes = 64

// chunkLocks is an advisory lock keyed by chunk path. Paths are hashed
// onto a fixed set of mutexes, so two chunks may share a stripe; callers
// must never hold two chunk locks at once.
type chunkLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *chunkLocks) stripe(path string) *sync.Mutex {
	h := uint(colorhash.HashString(path))
	return &l.stripes[h%lockStripes]
}

// lock acquires the lock for path and returns its release function.
func (l *chunkLocks) lock(path string) func() {
	m := l.stripe(path)
	m.Lock()
	return m.Unlock
}
