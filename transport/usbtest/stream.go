// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package usbtest

import (
	"context"
	"sync"

	"github.com/us144mkii/us144mkii-go/transport"
)

// SubmittedURB is one recorded call to FakeOutStream.Submit.
type SubmittedURB struct {
	Payload       []byte
	PacketLengths []int
}

// FakeOutStream records every submitted URB for later inspection by a
// test (e.g. to check the playback scheduler's packet lengths and
// silence-filling, spec §8 item 8).
type FakeOutStream struct {
	mu     sync.Mutex
	urbs   []SubmittedURB
	closed bool
}

// NewFakeOutStream creates a FakeOutStream.
func NewFakeOutStream() *FakeOutStream {
	return &FakeOutStream{}
}

func (s *FakeOutStream) Submit(ctx context.Context, payload []byte, packetLengths []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &transport.Error{Op: "out-submit", Kind: transport.KindCancelled, Err: context.Canceled}
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	lens := make([]int, len(packetLengths))
	copy(lens, packetLengths)
	s.urbs = append(s.urbs, SubmittedURB{Payload: cp, PacketLengths: lens})
	return nil
}

func (s *FakeOutStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// URBs returns a snapshot of every URB submitted so far.
func (s *FakeOutStream) URBs() []SubmittedURB {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubmittedURB, len(s.urbs))
	copy(out, s.urbs)
	return out
}

// FakeInStream lets a test script incoming packets (feedback bytes or
// capture chunks) and have them delivered to Read in order.
type FakeInStream struct {
	mu      sync.Mutex
	pending [][]transport.Packet
	cond    *sync.Cond
	closed  bool
}

// NewFakeInStream creates a FakeInStream with no pending data.
func NewFakeInStream() *FakeInStream {
	s := &FakeInStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Feed schedules one URB's worth of packets to be returned by the next
// Read call.
func (s *FakeInStream) Feed(packets []transport.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, packets)
	s.cond.Signal()
}

// FeedBytes is a convenience wrapper around Feed for the common case of
// feeding single-byte good feedback packets.
func (s *FakeInStream) FeedBytes(values ...byte) {
	packets := make([]transport.Packet, len(values))
	for i, v := range values {
		packets[i] = transport.Packet{Data: []byte{v}}
	}
	s.Feed(packets)
}

// FeedBad schedules n bad (zero-length/error) packets.
func (s *FakeInStream) FeedBad(n int) {
	packets := make([]transport.Packet, n)
	for i := range packets {
		packets[i] = transport.Packet{Status: &transport.Error{Op: "in-read", Kind: transport.KindRecoverable}}
	}
	s.Feed(packets)
}

func (s *FakeInStream) Read(ctx context.Context) ([]transport.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.cond.Signal()
				s.mu.Unlock()
			case <-done:
			}
		}()
		s.cond.Wait()
		close(done)
		if err := ctx.Err(); err != nil {
			return nil, &transport.Error{Op: "in-read", Kind: transport.KindCancelled, Err: err}
		}
	}
	if s.closed && len(s.pending) == 0 {
		return nil, &transport.Error{Op: "in-read", Kind: transport.KindCancelled, Err: context.Canceled}
	}
	packets := s.pending[0]
	s.pending = s.pending[1:]
	return packets, nil
}

func (s *FakeInStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}
