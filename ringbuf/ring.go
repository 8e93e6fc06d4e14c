// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ringbuf implements the lock-free single-producer/single-consumer
// byte rings that couple a host audio or MIDI client to the USB callback
// world.
package ringbuf

import (
	"errors"
	"sync/atomic"
)

// ErrNotPowerOfTwo is returned by New when the requested size is not a
// power of two.
var ErrNotPowerOfTwo = errors.New("ringbuf: size must be a power of two")

// Ring is a lock-free single-producer/single-consumer byte ring. One
// goroutine (the producer) may call Write and Free; a different single
// goroutine (the consumer) may call Read and Used. Calling either method
// set from more than one goroutine concurrently is not supported.
//
// head and tail are monotonically increasing counts of bytes ever
// written/read, masked by size-1 to index into buf. The producer
// publishes head with a release store after writing data; the consumer
// loads head with an acquire load before reading, and vice versa for
// tail, so neither side observes a torn update to buf.
type Ring struct {
	buf  []byte
	mask uint64
	head atomic.Uint64 // bytes produced
	tail atomic.Uint64 // bytes consumed
}

// New creates a Ring with the given capacity, which must be a power of
// two. One byte of capacity is always reserved to disambiguate full from
// empty, matching the free-space invariant in spec §4.6.
func New(size int) (*Ring, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, ErrNotPowerOfTwo
	}
	return &Ring{
		buf:  make([]byte, size),
		mask: uint64(size - 1),
	}, nil
}

// Used returns the number of unread bytes currently in the ring.
func (r *Ring) Used() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(head - tail)
}

// Free returns the number of bytes that can be written without
// overwriting unread data.
func (r *Ring) Free() int {
	return len(r.buf) - 1 - r.Used()
}

// Write copies as many bytes from p into the ring as will fit without
// overwriting unread data and returns the number copied. It never
// blocks; the USB completion context must never block on ring fullness
// per spec §5.
func (r *Ring) Write(p []byte) int {
	free := r.Free()
	n := len(p)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	head := r.head.Load()
	start := int(head & r.mask)
	first := len(r.buf) - start
	if first > n {
		first = n
	}
	copy(r.buf[start:], p[:first])
	if n > first {
		copy(r.buf, p[first:n])
	}
	r.head.Store(head + uint64(n))
	return n
}

// Read copies as many bytes as are available, up to len(p), out of the
// ring into p and returns the number copied. It never blocks.
func (r *Ring) Read(p []byte) int {
	used := r.Used()
	n := len(p)
	if n > used {
		n = used
	}
	if n == 0 {
		return 0
	}
	tail := r.tail.Load()
	start := int(tail & r.mask)
	first := len(r.buf) - start
	if first > n {
		first = n
	}
	copy(p[:first], r.buf[start:])
	if n > first {
		copy(p[first:n], r.buf[:n-first])
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// ReadOrZero copies bytes from the ring into p like Read, but zero-fills
// any remainder of p that the ring could not satisfy. This is the
// silence-on-underrun behavior the playback scheduler needs (spec §4.3
// step 4). It returns the number of bytes that came from the ring; the
// rest of p is guaranteed to be zero.
func (r *Ring) ReadOrZero(p []byte) int {
	n := r.Read(p)
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return n
}
