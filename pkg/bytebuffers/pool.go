package bytebuffers

import (
	"sync"
	"sync/atomic"
)

// DefaultSize fits one full TLS record with its header and AEAD overhead.
const DefaultSize = 17 * 1024

const classes = 6

var defaultPool = NewPool(DefaultSize)

func Get() Buffer { return defaultPool.Get() }

func Put(b Buffer) { defaultPool.Put(b) }

// Pool recycles buffers by capacity class. Class i holds buffers of at
// least pagesize<<i bytes; buffers beyond the last class are dropped so a
// burst of large records does not pin memory.
type Pool struct {
	size    int
	classes [classes]sync.Pool
	gets    atomic.Uint64
	hits    atomic.Uint64
	drops   atomic.Uint64
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = pagesize
	}
	return &Pool{size: size}
}

// Get returns an empty buffer whose capacity is at least the pool size.
func (p *Pool) Get() Buffer {
	p.gets.Add(1)
	idx := ceilClass(p.size)
	if idx < classes {
		if v := p.classes[idx].Get(); v != nil {
			p.hits.Add(1)
			return v.(Buffer)
		}
		return NewBufferWithSize(classSize(idx))
	}
	return NewBufferWithSize(p.size)
}

func (p *Pool) Put(b Buffer) {
	if b == nil {
		return
	}
	idx := floorClass(b.Cap())
	if idx < 0 || idx >= classes {
		p.drops.Add(1)
		return
	}
	b.Reset()
	p.classes[idx].Put(b)
}

// Stats reports calls to Get, how many were served from the pool, and how
// many buffers Put refused.
func (p *Pool) Stats() (gets uint64, hits uint64, drops uint64) {
	return p.gets.Load(), p.hits.Load(), p.drops.Load()
}

func classSize(idx int) int {
	return pagesize << idx
}

func ceilClass(n int) int {
	idx := 0
	for classSize(idx) < n {
		idx++
		if idx >= classes {
			return classes
		}
	}
	return idx
}

// floorClass is the largest class n satisfies, -1 below the first class and
// classes above the last.
func floorClass(n int) int {
	if n < pagesize {
		return -1
	}
	if n >= classSize(classes) {
		return classes
	}
	idx := 0
	for idx+1 < classes && classSize(idx+1) <= n {
		idx++
	}
	return idx
}
