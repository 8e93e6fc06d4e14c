// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package usbtest provides a dependency-free, scriptable fake that
// implements transport.Device for unit and property tests (spec §8),
// the same role the teacher module's build-tag-gated devicetest seam
// plays relative to its real, hardware-backed api.API implementation.
package usbtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/us144mkii/us144mkii-go/transport"
)

// ControlCall records one call made through Fake.Control, so bring-up
// determinism (spec §8 item 1) can be asserted against.
type ControlCall struct {
	Dir   transport.Direction
	Setup transport.ControlSetup
	Data  []byte
}

// Fake is an in-memory, single-goroutine-safe transport.Device. Each
// control transfer is resolved by consulting FailAtCall (by call index)
// and otherwise succeeds, writing HandshakeByte into the first byte of
// the buffer for IN transfers.
type Fake struct {
	mu sync.Mutex

	// Calls records every Control call, in order.
	Calls []ControlCall

	// FailAtCall, if >= 0, causes the call at that index (0-based) to
	// return the given error instead of succeeding. Use this to test
	// that bring-up aborts at the first failure and issues no later
	// calls (spec §8 item 1).
	FailAtCall int
	FailErr    error

	// HandshakeByte is returned for the step-1 vendor IN handshake read.
	HandshakeByte byte

	// DetachAttached, if true for an interface number, makes
	// DetachKernelDriver report that a kernel driver was attached to
	// that interface and had to be detached, so a test can assert that
	// AttachKernelDriver is later called to reattach it.
	DetachAttached map[int]bool

	// AttachCalls records each interface number passed to
	// AttachKernelDriver, in order.
	AttachCalls []int

	claimed map[int]bool

	outStreams map[int]*FakeOutStream
	inStreams  map[int]*FakeInStream
}

// NewFake creates a ready-to-use Fake with no scripted failures.
func NewFake() *Fake {
	return &Fake{
		FailAtCall:     -1,
		DetachAttached: make(map[int]bool),
		claimed:        make(map[int]bool),
		outStreams:     make(map[int]*FakeOutStream),
		inStreams:      make(map[int]*FakeInStream),
	}
}

var _ transport.Device = (*Fake)(nil)

// Control implements transport.Device.
func (f *Fake) Control(ctx context.Context, dir transport.Direction, setup transport.ControlSetup, data []byte) (int, error) {
	f.mu.Lock()
	idx := len(f.Calls)
	cp := make([]byte, len(data))
	copy(cp, data)
	f.Calls = append(f.Calls, ControlCall{Dir: dir, Setup: setup, Data: cp})
	fail := f.FailAtCall == idx
	failErr := f.FailErr
	f.mu.Unlock()

	if fail {
		return 0, &transport.Error{Op: "control", Kind: transport.KindFatal, Err: failErr}
	}

	if dir == transport.DirIn && len(data) > 0 {
		data[0] = f.HandshakeByte
		return 1, nil
	}
	return len(data), nil
}

// Claim implements transport.Device.
func (f *Fake) Claim(iface, alt int) (func() error, error) {
	f.mu.Lock()
	f.claimed[iface] = true
	f.mu.Unlock()
	return func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.claimed[iface] = false
		return nil
	}, nil
}

// DetachKernelDriver implements transport.Device.
func (f *Fake) DetachKernelDriver(iface int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DetachAttached[iface], nil
}

// AttachKernelDriver implements transport.Device.
func (f *Fake) AttachKernelDriver(iface int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AttachCalls = append(f.AttachCalls, iface)
	return nil
}

// OutStream implements transport.Device, returning a FakeOutStream that
// records every submitted URB so a test can inspect resulting frame
// counts and silence.
func (f *Fake) OutStream(endpoint int, packetSize int, packetsPerURB int) (transport.OutStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := NewFakeOutStream()
	f.outStreams[endpoint] = s
	return s, nil
}

// InStream implements transport.Device, returning a FakeInStream whose
// Feed/FeedBytes/FeedBad methods a test uses to script incoming packets.
func (f *Fake) InStream(endpoint int, packetSize int, packetsPerURB int) (transport.InStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := NewFakeInStream()
	f.inStreams[endpoint] = s
	return s, nil
}

// Close implements transport.Device.
func (f *Fake) Close() error { return nil }

// OutStreamFor returns the FakeOutStream previously created for
// endpoint by OutStream, for test inspection.
func (f *Fake) OutStreamFor(endpoint int) (*FakeOutStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.outStreams[endpoint]
	if !ok {
		return nil, fmt.Errorf("usbtest: no out stream opened for endpoint 0x%02x", endpoint)
	}
	return s, nil
}

// InStreamFor returns the FakeInStream previously created for endpoint
// by InStream, for test scripting.
func (f *Fake) InStreamFor(endpoint int) (*FakeInStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.inStreams[endpoint]
	if !ok {
		return nil, fmt.Errorf("usbtest: no in stream opened for endpoint 0x%02x", endpoint)
	}
	return s, nil
}
