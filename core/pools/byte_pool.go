// Package pools provides reusable buffer pooling and runtime tuning for the
// connection path.
package pools

import "sync"

// BytePool hands out byte slices from size-tiered sync.Pools. Connection
// tasks take a read buffer per connection and return it when the
// connection closes.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Tiers sized for typical request traffic; most requests fit the 2 KiB
// class, the 8 KiB class matches the connection read buffer.
var defaultSizes = []int{512, 2048, 8192, 32768}

// NewBytePool creates a pool with the standard size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a pool with custom size tiers, which must be
// ascending.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a slice of exactly size bytes, backed by the smallest tier
// that fits. Oversized requests allocate directly.
func (bp *BytePool) Get(size int) []byte {
	for i, tier := range bp.sizes {
		if size <= tier {
			bufPtr := bp.pools[i].Get().(*[]byte)
			return (*bufPtr)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a slice to its tier. Slices whose capacity matches no tier
// are left for the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, tier := range bp.sizes {
		if capacity == tier {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}
