// Package bufpool provides tiered byte buffers for upload parts.
//
// Part sizes are powers of two between 32KiB and 512KiB, so the pool keeps
// one tier per common size. Each concurrent pipeline reads its file through
// a single buffer, and returning it to the pool lets the next relay reuse
// it instead of allocating half a megabyte per upload.
//
// # Usage
//
//	buf := bufpool.Get(partSize)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

// Default buffer size classes.
const (
	// DefaultSmallSize fits the smallest part size the session accepts (32KiB).
	DefaultSmallSize = 32 << 10

	// DefaultMediumSize fits thumbnail parts (128KiB).
	DefaultMediumSize = 128 << 10

	// DefaultLargeSize fits media parts (512KiB).
	DefaultLargeSize = 512 << 10
)

// Pool manages a set of byte slice pools organized by size class.
// Requests larger than the large tier are allocated directly.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds the tier sizes of a custom pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default tier sizes.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a pool. A nil cfg or zero tiers use the defaults.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.SmallSize > 0 {
			c.SmallSize = cfg.SmallSize
		}
		if cfg.MediumSize > 0 {
			c.MediumSize = cfg.MediumSize
		}
		if cfg.LargeSize > 0 {
			c.LargeSize = cfg.LargeSize
		}
	}

	p := &Pool{
		smallSize:  c.SmallSize,
		mediumSize: c.MediumSize,
		largeSize:  c.LargeSize,
	}
	p.small.New = newBuffer(p.smallSize)
	p.medium.New = newBuffer(p.mediumSize)
	p.large.New = newBuffer(p.largeSize)
	return p
}

func newBuffer(size int) func() any {
	return func() any {
		buf := make([]byte, size)
		return &buf
	}
}

// Get returns a slice of length size. Its capacity is the tier size, so
// callers must hand the same slice back to Put.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.mediumSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches no
// tier are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.mediumSize:
		p.medium.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

var globalPool = NewPool(nil)

// Get returns a buffer from the shared pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the shared pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
