package util

import (
	"sync"
)

// InodeTable hands out stable inode numbers for virtual paths. Inode 1
// is reserved for the root directory.
type InodeTable struct {
	mu     sync.Mutex
	next   uint64
	byPath map[string]uint64
}

// NewInodeTable returns a table with the root path "" mapped to inode 1.
func NewInodeTable() *InodeTable {
	return &InodeTable{
		next:   2,
		byPath: map[string]uint64{"": 1},
	}
}

// Get returns the inode for path, allocating one on first use.
func (t *InodeTable) Get(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.byPath[path]; ok {
		return ino
	}
	ino := t.next
	t.next++
	t.byPath[path] = ino
	return ino
}

// Rename moves the inode of oldPath, and of everything below it, to
// newPath. Any inode previously held by the destination is dropped.
func (t *InodeTable) Rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	moved := make(map[string]uint64)
	for p, ino := range t.byPath {
		if rest, ok := cutPathPrefix(p, oldPath); ok {
			moved[newPath+rest] = ino
			delete(t.byPath, p)
		}
	}
	for p, ino := range moved {
		t.byPath[p] = ino
	}
}

// Forget drops path so a later file with the same name gets a new inode.
func (t *InodeTable) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if path == "" {
		return
	}
	delete(t.byPath, path)
}

// Len returns the number of tracked paths, root included.
func (t *InodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byPath)
}

func cutPathPrefix(p, prefix string) (string, bool) {
	if p == prefix {
		return "", true
	}
	if len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/' {
		return p[len(prefix):], true
	}
	return "", false
}
