// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ringbuf

// FrameBytes is the size in bytes of one frame of the device's 4-channel,
// 24-bit audio: 4 channels * 3 bytes/channel (spec §3).
const FrameBytes = 4 * 3

// FrameRing wraps a Ring and restricts all operations to whole
// FrameBytes-sized frames, matching the "all operations are frame-aligned"
// invariant for the Audio Rings in spec §3. The backing Ring's byte
// capacity need not be a multiple of FrameBytes: FrameRing only ever
// reads or writes a floored-to-FrameBytes number of bytes, and a frame
// may wrap across the end of the backing buffer, so the only cost is up
// to FrameBytes-1 bytes of free space that can never hold a whole frame.
type FrameRing struct {
	r *Ring
}

// NewFrameRing creates a FrameRing backed by a Ring of the given byte
// capacity, which must be a power of two (the only constraint Ring.New
// itself imposes).
func NewFrameRing(size int) (*FrameRing, error) {
	r, err := New(size)
	if err != nil {
		return nil, err
	}
	return &FrameRing{r: r}, nil
}

// UsedFrames returns the number of complete frames currently available.
func (f *FrameRing) UsedFrames() int {
	return f.r.Used() / FrameBytes
}

// FreeFrames returns the number of complete frames that can be written.
func (f *FrameRing) FreeFrames() int {
	return f.r.Free() / FrameBytes
}

// WriteFrames writes whole frames from p, truncating p to a multiple of
// FrameBytes if necessary, and returns the number of frames written.
func (f *FrameRing) WriteFrames(p []byte) int {
	n := len(p) - (len(p) % FrameBytes)
	written := f.r.Write(p[:n])
	return written / FrameBytes
}

// ReadFramesOrZero fills p (which must be a multiple of FrameBytes) with
// up to len(p)/FrameBytes frames from the ring, zero-filling (silence)
// any frames the ring could not supply, per spec §4.3 step 4. It returns
// the number of frames that came from the ring.
func (f *FrameRing) ReadFramesOrZero(p []byte) int {
	n := len(p) - (len(p) % FrameBytes)
	got := f.r.ReadOrZero(p[:n])
	return got / FrameBytes
}
