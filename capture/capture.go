// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package capture implements the Capture Decoder: it unpacks the
// device's transposed bit-plane capture chunks into interleaved
// 24-bit-in-32-bit PCM samples (spec §4.4).
package capture

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"

	"github.com/us144mkii/us144mkii-go/ringbuf"
)

// ChunkBytes is the size of one hardware capture chunk, representing
// one audio frame of 4 channels x 24 bits (spec §4.4).
const ChunkBytes = 64

// deltaSwap implements one butterfly XOR-shift step of the 8x8 bit
// matrix transpose: it exchanges, for every pair of bits selected by
// mask, the bit at a given position with the one `shift` bits above it.
func deltaSwap(x, mask uint64, shift uint) uint64 {
	t := ((x >> shift) ^ x) & mask
	return x ^ t ^ (t << shift)
}

// transposeBits performs the 8x8 bit matrix transpose via three
// butterfly steps at distances 7, 14, and 28 (spec §4.4 Performance
// note). It is its own inverse.
func transposeBits(x uint64) uint64 {
	x = deltaSwap(x, 0x00AA00AA00AA00AA, 7)
	x = deltaSwap(x, 0x0000CCCC0000CCCC, 14)
	x = deltaSwap(x, 0x00000000F0F0F0F0, 28)
	return x
}

// transpose8x2 is the SWAR decoder for one 8-byte transposed group: it
// reads the group as a 64-bit little-endian word, reverses byte order
// to normalize the MSB-first transmission, transposes the resulting
// bit matrix, and returns the first two output columns (spec §4.4).
func transpose8x2(group [8]byte) (out0, out1 byte) {
	w := binary.LittleEndian.Uint64(group[:])
	w = bits.ReverseBytes64(w)
	w = transposeBits(w)
	return byte(w), byte(w >> 8)
}

// transpose8x2Naive is the bit-by-bit reference decoder for the same
// 8-byte group, used to validate transpose8x2 (spec §8 item 4).
func transpose8x2Naive(group [8]byte) (out0, out1 byte) {
	for row := 0; row < 8; row++ {
		b := group[7-row]
		if b&0x01 != 0 {
			out0 |= 1 << uint(row)
		}
		if b&0x02 != 0 {
			out1 |= 1 << uint(row)
		}
	}
	return out0, out1
}

// encodeGroup is the inverse of transpose8x2: given the two desired
// output columns, it produces the 8-byte transposed group that decodes
// back to them. It exists for tests (round-trip, spec §8 item 5) and
// for a future capture-side simulator; production code never calls it.
func encodeGroup(out0, out1 byte) [8]byte {
	w2 := uint64(out0) | uint64(out1)<<8
	w := transposeBits(w2)
	w = bits.ReverseBytes64(w)
	var group [8]byte
	binary.LittleEndian.PutUint64(group[:], w)
	return group
}

// halfLayout decodes one 32-byte half of a chunk (channels 0,2 or 1,3)
// into the two channels' H/M/L bytes.
func halfLayout(half []byte, naive bool) (h0, m0, l0, h1, m1, l1 byte) {
	var msb, mid, low [8]byte
	copy(msb[:], half[0:8])
	copy(mid[:], half[8:16])
	copy(low[:], half[16:24])

	fn := transpose8x2
	if naive {
		fn = transpose8x2Naive
	}
	h0, h1 = fn(msb)
	m0, m1 = fn(mid)
	l0, l1 = fn(low)
	return
}

// DecodeChunk decodes one 64-byte hardware capture chunk into four
// 24-bit-in-32-bit samples, channels in device order (spec §4.4).
func DecodeChunk(chunk [ChunkBytes]byte) [4]uint32 {
	return decodeChunk(chunk, false)
}

// DecodeChunkNaive is the bit-by-bit reference decoder, used only to
// validate DecodeChunk's SWAR implementation (spec §8 item 4).
func DecodeChunkNaive(chunk [ChunkBytes]byte) [4]uint32 {
	return decodeChunk(chunk, true)
}

func decodeChunk(chunk [ChunkBytes]byte, naive bool) [4]uint32 {
	var samples [4]uint32

	h0, m0, l0, h2, m2, l2 := halfLayout(chunk[0:32], naive)
	h1, m1, l1, h3, m3, l3 := halfLayout(chunk[32:64], naive)

	samples[0] = uint32(h0)<<24 | uint32(m0)<<16 | uint32(l0)<<8
	samples[1] = uint32(h1)<<24 | uint32(m1)<<16 | uint32(l1)<<8
	samples[2] = uint32(h2)<<24 | uint32(m2)<<16 | uint32(l2)<<8
	samples[3] = uint32(h3)<<24 | uint32(m3)<<16 | uint32(l3)<<8
	return samples
}

// EncodeChunk is the inverse of DecodeChunk, used by tests to build a
// synthetic hardware chunk from known sample values (spec §8 item 5,
// scenario S6).
func EncodeChunk(samples [4]uint32) [ChunkBytes]byte {
	var chunk [ChunkBytes]byte

	h := func(s uint32) byte { return byte(s >> 24) }
	m := func(s uint32) byte { return byte(s >> 16) }
	l := func(s uint32) byte { return byte(s >> 8) }

	encodeHalf := func(ca, cb uint32) [32]byte {
		var half [32]byte
		msb := encodeGroup(h(ca), h(cb))
		mid := encodeGroup(m(ca), m(cb))
		low := encodeGroup(l(ca), l(cb))
		copy(half[0:8], msb[:])
		copy(half[8:16], mid[:])
		copy(half[16:24], low[:])
		return half
	}

	half0 := encodeHalf(samples[0], samples[2])
	half1 := encodeHalf(samples[1], samples[3])
	copy(chunk[0:32], half0[:])
	copy(chunk[32:64], half1[:])
	return chunk
}

// Decoder decodes a stream of capture chunks into a host-facing ring
// and maintains the implicit-feedback frame counter some platforms use
// instead of the dedicated feedback endpoint (spec §4.4).
type Decoder struct {
	ring     *ringbuf.Ring
	channels int

	implicitFeedbackFrames atomic.Uint64
}

// NewDecoder creates a Decoder writing into ring. channels selects how
// many of the four decoded channels are actually present on the wire
// for this product variant (spec §6, §9 Design Notes): the 0x800F
// variant exposes only 2 capture channels, so the remaining decoded
// channels are dropped rather than written to the ring. A channels
// value outside 1..4 is treated as 4.
func NewDecoder(ring *ringbuf.Ring, channels int) *Decoder {
	if channels <= 0 || channels > 4 {
		channels = 4
	}
	return &Decoder{ring: ring, channels: channels}
}

// DecodeAndWrite decodes chunk and writes the resulting frame
// (channels x 4 bytes) into the capture ring, handling wrap-around via
// the ring's own two-segment copy (spec §4.4 Ring write). It returns
// the number of bytes actually written; a short write indicates the
// consumer has fallen behind.
func (d *Decoder) DecodeAndWrite(chunk [ChunkBytes]byte) int {
	samples := DecodeChunk(chunk)
	frame := make([]byte, d.channels*4)
	for c := 0; c < d.channels; c++ {
		binary.LittleEndian.PutUint32(frame[c*4:c*4+4], samples[c])
	}
	n := d.ring.Write(frame)
	if n == len(frame) {
		d.implicitFeedbackFrames.Add(1)
	}
	return n
}

// ImplicitFeedbackFrames returns the running count of frames
// successfully decoded and written, for variants that derive timing
// from capture throughput instead of the feedback endpoint.
func (d *Decoder) ImplicitFeedbackFrames() uint64 {
	return d.implicitFeedbackFrames.Load()
}
