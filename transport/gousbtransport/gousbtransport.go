// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build cgo

// Package gousbtransport is the production implementation of
// transport.Device, backed by github.com/google/gousb (cgo bindings
// over libusb). It is the real-hardware counterpart to
// transport/usbtest's fake, the same split the teacher module makes
// between its cgo-backed api.Impl and a dependency-injected test
// implementation of api.API.
package gousbtransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/us144mkii/us144mkii-go/transport"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

// Device wraps a single opened *gousb.Device and the libusb context that
// produced it.
type Device struct {
	ctx *gousb.Context
	dev *gousb.Device

	mu  sync.Mutex
	cfg *gousb.Config
}

// Open opens the first device matching vid/pid. The returned Device
// owns ctx and dev; Close releases both.
func Open(vid, pid uint16) (*Device, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, &transport.Error{Op: "open", Kind: transport.KindFatal, Err: err}
	}
	if dev == nil {
		ctx.Close()
		return nil, &transport.Error{Op: "open", Kind: transport.KindFatal, Err: fmt.Errorf("device %04x:%04x not found", vid, pid)}
	}
	dev.SetAutoDetach(true)
	dev.ControlTimeout = usbproto.ControlTimeoutMS * time.Millisecond
	return &Device{ctx: ctx, dev: dev}, nil
}

var _ transport.Device = (*Device)(nil)

// Control implements transport.Device.
func (d *Device) Control(ctx context.Context, dir transport.Direction, setup transport.ControlSetup, data []byte) (int, error) {
	rType := setup.RequestType
	switch dir {
	case transport.DirIn:
		n, err := d.dev.Control(rType, setup.Request, setup.Value, setup.Index, data)
		if err != nil {
			return n, &transport.Error{Op: "control-in", Kind: transport.KindFatal, Err: err}
		}
		return n, nil
	default:
		n, err := d.dev.Control(rType, setup.Request, setup.Value, setup.Index, data)
		if err != nil {
			return n, &transport.Error{Op: "control-out", Kind: transport.KindFatal, Err: err}
		}
		return n, nil
	}
}

// Claim implements transport.Device.
func (d *Device) Claim(iface, alt int) (func() error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg == nil {
		cfg, err := d.dev.Config(1)
		if err != nil {
			return nil, &transport.Error{Op: "set-config", Kind: transport.KindFatal, Err: err}
		}
		d.cfg = cfg
	}

	intf, err := d.cfg.Interface(iface, alt)
	if err != nil {
		return nil, &transport.Error{Op: "claim-interface", Kind: transport.KindFatal, Err: err}
	}

	return func() error {
		intf.Close()
		return nil
	}, nil
}

// DetachKernelDriver implements transport.Device. gousb's SetAutoDetach
// handles detach/reattach internally on supported platforms, so this is
// a no-op that reports no prior driver was forcibly detached.
func (d *Device) DetachKernelDriver(iface int) (bool, error) {
	return false, nil
}

// AttachKernelDriver implements transport.Device.
func (d *Device) AttachKernelDriver(iface int) error {
	return nil
}

// OutStream implements transport.Device.
func (d *Device) OutStream(endpoint int, packetSize int, packetsPerURB int) (transport.OutStream, error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()
	if cfg == nil {
		return nil, fmt.Errorf("gousbtransport: interface must be claimed before opening a stream")
	}
	ep, err := cfg.Interface(interfaceForEndpoint(endpoint), 1)
	if err != nil {
		return nil, &transport.Error{Op: "out-endpoint", Endpoint: endpoint, Kind: transport.KindFatal, Err: err}
	}
	outEP, err := ep.OutEndpoint(endpoint & 0x0f)
	if err != nil {
		return nil, &transport.Error{Op: "out-endpoint", Endpoint: endpoint, Kind: transport.KindFatal, Err: err}
	}
	return newOutStream(outEP, packetSize, packetsPerURB), nil
}

// InStream implements transport.Device.
func (d *Device) InStream(endpoint int, packetSize int, packetsPerURB int) (transport.InStream, error) {
	d.mu.Lock()
	cfg := d.cfg
	d.mu.Unlock()
	if cfg == nil {
		return nil, fmt.Errorf("gousbtransport: interface must be claimed before opening a stream")
	}
	intf, err := cfg.Interface(interfaceForEndpoint(endpoint), 1)
	if err != nil {
		return nil, &transport.Error{Op: "in-endpoint", Endpoint: endpoint, Kind: transport.KindFatal, Err: err}
	}
	inEP, err := intf.InEndpoint(endpoint & 0x7f)
	if err != nil {
		return nil, &transport.Error{Op: "in-endpoint", Endpoint: endpoint, Kind: transport.KindFatal, Err: err}
	}
	return newInStream(inEP, packetSize, packetsPerURB), nil
}

// Close implements transport.Device.
func (d *Device) Close() error {
	err := d.dev.Close()
	d.ctx.Close()
	if err != nil {
		return &transport.Error{Op: "close", Kind: transport.KindFatal, Err: err}
	}
	return nil
}

// interfaceForEndpoint maps an endpoint address to the
// interface number that owns it on this device: the audio interface
// (0) owns the audio/feedback/capture endpoints, the MIDI interface (1)
// owns the MIDI endpoints.
func interfaceForEndpoint(endpoint int) int {
	switch endpoint & 0x0f {
	case 0x03, 0x04:
		return 1
	default:
		return 0
	}
}
