package blobstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockStripes = 64

// keyLocks serializes publish, acquire, and reclaim for one blob key.
// Distinct keys may share a stripe; that only costs parallelism.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLocks) lock(key string) func() {
	m := &l.stripes[xxhash.Sum64String(key)%lockStripes]
	m.Lock()
	return m.Unlock
}

// pinSet tracks blob keys between Put and the caller's metadata commit.
// Reconciliation leaves pinned keys alone.
type pinSet struct {
	mu     sync.Mutex
	counts map[string]int
}

func newPinSet() *pinSet {
	return &pinSet{counts: make(map[string]int)}
}

func (p *pinSet) pin(key string) {
	p.mu.Lock()
	p.counts[key]++
	p.mu.Unlock()
}

func (p *pinSet) unpin(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[key] <= 1 {
		delete(p.counts, key)
		return
	}
	p.counts[key]--
}

func (p *pinSet) pinned(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[key] > 0
}
