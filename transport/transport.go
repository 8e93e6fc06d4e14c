// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport defines the USB access seam the rest of the driver
// core is built on. Device abstracts control, bulk, and isochronous
// transfers so that bring-up, the feedback engine, the playback
// scheduler, the capture decoder, and the MIDI framer never depend
// directly on a particular USB host library. This mirrors the way the
// teacher module isolates its proprietary C API behind a single
// interface with interchangeable implementations.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a transport Error for the propagation policy in
// spec §7.
type Kind int

const (
	// KindFatal indicates a transport-level failure (e.g. NO_DEVICE)
	// that must terminate the session (spec §7 TransferFatal).
	KindFatal Kind = iota

	// KindRecoverable indicates a packet-level status error on a
	// feedback or capture transfer that should be counted and degrade
	// sync state, but not end the session (spec §7 TransferRecoverable).
	KindRecoverable

	// KindCancelled indicates the transfer was cancelled as part of
	// cooperative shutdown (spec §7 HostCancel) and must not be treated
	// as any kind of error.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRecoverable:
		return "recoverable"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a transport-level failure with enough context for callers
// to apply spec §7's propagation policy via errors.As, instead of
// matching against error strings.
type Error struct {
	Op       string // e.g. "control", "bulk", "iso"
	Endpoint int
	Kind     Kind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s on endpoint 0x%02x: %s (%v)", e.Op, e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err wraps a fatal transport Error.
func IsFatal(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindFatal
}

// IsCancelled reports whether err wraps a cancelled transport Error.
func IsCancelled(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindCancelled
}

// Direction selects the data phase direction of a control transfer.
type Direction int

const (
	DirOut Direction = iota
	DirIn
)

// ControlSetup carries the fields of a USB control transfer (spec
// §4.1, §6). RequestType is the full bmRequestType byte.
type ControlSetup struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
}

// Packet is the outcome of one packet within an isochronous transfer:
// either Status is nil and Data holds the bytes actually
// transferred, or Status is non-nil and the packet is considered bad
// (spec §4.2 "zero length / error").
type Packet struct {
	Data   []byte
	Status error
}

// OutStream submits outgoing isochronous or bulk transfers. PacketLengths
// lets a single Submit call carry a distinct length per packet, as the
// Playback Scheduler requires (spec §4.3).
type OutStream interface {
	// Submit writes one URB made of the given packets (their
	// concatenated bytes, pre-formatted by the caller) and returns once
	// it has completed or failed; the caller resubmits by calling
	// Submit again.
	Submit(ctx context.Context, payload []byte, packetLengths []int) error

	// Close cancels any in-flight transfers and releases the stream.
	Close() error
}

// InStream reads incoming isochronous or bulk transfers.
type InStream interface {
	// Read blocks until one URB's worth of packets is available or ctx
	// is done. packetSize is the size used to split the returned bytes
	// into per-packet Packets for iso streams; bulk streams return a
	// single Packet.
	Read(ctx context.Context) ([]Packet, error)

	// Close cancels any in-flight transfers and releases the stream.
	Close() error
}

// Device is the full USB access surface the driver core needs. The
// production implementation is backed by github.com/google/gousb; tests
// use the scriptable fake in transport/usbtest.
type Device interface {
	// Control performs a single control transfer. data is the buffer to
	// write (DirOut) or to fill (DirIn); it returns the number of bytes
	// actually transferred.
	Control(ctx context.Context, dir Direction, setup ControlSetup, data []byte) (int, error)

	// Claim claims the given interface at the given alternate setting
	// and returns a function that releases it. Shutdown must call the
	// release function before closing the device handle (spec §5).
	Claim(iface, alt int) (release func() error, err error)

	// DetachKernelDriver detaches an active kernel driver from iface, if
	// any, and returns whether one was detached so it can be reattached
	// on shutdown (spec §5).
	DetachKernelDriver(iface int) (wasAttached bool, err error)

	// AttachKernelDriver reattaches a kernel driver previously detached
	// by DetachKernelDriver.
	AttachKernelDriver(iface int) error

	// OutStream opens an OUT endpoint for streaming isochronous or bulk
	// transfers with the given per-packet size.
	OutStream(endpoint int, packetSize int, packetsPerURB int) (OutStream, error)

	// InStream opens an IN endpoint for streaming isochronous or bulk
	// transfers with the given per-packet size.
	InStream(endpoint int, packetSize int, packetsPerURB int) (InStream, error)

	// Close releases the device handle. All streams must be closed
	// first.
	Close() error
}
