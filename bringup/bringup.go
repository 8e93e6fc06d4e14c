// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bringup performs the fixed control-transfer sequence that must
// run exactly once before streaming works (spec §4.1).
package bringup

import (
	"context"
	"errors"
	"fmt"

	"github.com/us144mkii/us144mkii-go/transport"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

// Step identifies one of the ordered bring-up control transfers, for
// logging and for the bring-up determinism test (spec §8 item 1).
type Step int

const (
	StepHandshakeRead Step = iota
	StepInitialMode
	StepRateAudioEP
	StepRateCaptureEP
	StepRateFeedbackEP
	StepRegister1
	StepRegister2
	StepRegister3
	StepRegisterProfile
	StepRegister5
	StepEnableStreaming
)

func (s Step) String() string {
	switch s {
	case StepHandshakeRead:
		return "handshake-read"
	case StepInitialMode:
		return "initial-mode"
	case StepRateAudioEP:
		return "rate-audio-ep"
	case StepRateCaptureEP:
		return "rate-capture-ep"
	case StepRateFeedbackEP:
		return "rate-feedback-ep"
	case StepRegister1, StepRegister2, StepRegister3, StepRegisterProfile, StepRegister5:
		return "register-write"
	case StepEnableStreaming:
		return "enable-streaming"
	default:
		return "unknown"
	}
}

// ErrConfigHandshakeFailed wraps any bring-up control transfer failure
// other than a tolerated "busy" on the underlying configuration-set
// (spec §7 ConfigHandshakeFailed).
type ErrConfigHandshakeFailed struct {
	Step Step
	Err  error
}

func (e *ErrConfigHandshakeFailed) Error() string {
	return fmt.Sprintf("bringup: step %v failed: %v", e.Step, e.Err)
}

func (e *ErrConfigHandshakeFailed) Unwrap() error { return e.Err }

// ErrBusy is the sentinel tolerated from configuration-set; bring-up
// continues past it instead of aborting (spec §4.1).
var ErrBusy = errors.New("bringup: device busy")

// Release holds the interface-release and kernel-driver-reattach
// actions that must run in reverse order during shutdown, bracketing
// bring-up's claim/detach as spec §5 and SPEC_FULL §4.7 require.
type Release struct {
	dev transport.Device

	releaseAudio, releaseMIDI   func() error
	reattachAudio, reattachMIDI bool
}

// Close releases both claimed interfaces and reattaches any kernel
// driver that DetachKernelDriver detached during Run, collecting every
// error encountered rather than stopping at the first one.
func (r *Release) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.releaseMIDI != nil {
		if err := r.releaseMIDI(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.releaseAudio != nil {
		if err := r.releaseAudio(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.reattachMIDI {
		if err := r.dev.AttachKernelDriver(usbproto.InterfaceMIDI); err != nil {
			errs = append(errs, err)
		}
	}
	if r.reattachAudio {
		if err := r.dev.AttachKernelDriver(usbproto.InterfaceAudio); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run executes the six-step handshake from spec §4.1 against dev for
// the given rate profile. It first detaches any active kernel driver
// from interfaces 0 and 1 and claims both at alternate setting 1, then
// runs the handshake, aborting at the first failing control transfer
// (other than ErrBusy) and performing no later ones, satisfying spec §8
// item 1. On success it returns a *Release the caller must Close during
// shutdown to release the interfaces and reattach any detached driver;
// on failure it unwinds everything claimed/detached so far itself and
// returns a nil Release.
func Run(ctx context.Context, dev transport.Device, profile usbproto.RateProfile) (*Release, error) {
	reattachAudio, err := dev.DetachKernelDriver(usbproto.InterfaceAudio)
	if err != nil {
		return nil, &ErrConfigHandshakeFailed{Step: StepHandshakeRead, Err: err}
	}
	reattachMIDI, err := dev.DetachKernelDriver(usbproto.InterfaceMIDI)
	if err != nil {
		if reattachAudio {
			_ = dev.AttachKernelDriver(usbproto.InterfaceAudio)
		}
		return nil, &ErrConfigHandshakeFailed{Step: StepHandshakeRead, Err: err}
	}

	releaseAudio, err := dev.Claim(usbproto.InterfaceAudio, usbproto.AltSetting)
	if err != nil {
		rollbackDetach(dev, reattachAudio, reattachMIDI)
		return nil, &ErrConfigHandshakeFailed{Step: StepHandshakeRead, Err: err}
	}
	releaseMIDI, err := dev.Claim(usbproto.InterfaceMIDI, usbproto.AltSetting)
	if err != nil {
		releaseAudio()
		rollbackDetach(dev, reattachAudio, reattachMIDI)
		return nil, &ErrConfigHandshakeFailed{Step: StepHandshakeRead, Err: err}
	}

	release := &Release{
		dev:           dev,
		releaseAudio:  releaseAudio,
		releaseMIDI:   releaseMIDI,
		reattachAudio: reattachAudio,
		reattachMIDI:  reattachMIDI,
	}

	steps := []func() error{
		func() error { return handshakeRead(ctx, dev) },
		func() error { return initialMode(ctx, dev) },
		func() error { return setRate(ctx, dev, usbproto.EndpointAudioOut, profile) },
		func() error { return setRate(ctx, dev, usbproto.EndpointCaptureIn, profile) },
		func() error { return setRate(ctx, dev, usbproto.EndpointFeedbackIn, profile) },
		func() error { return registerWrite(ctx, dev, usbproto.RegWrite1) },
		func() error { return registerWrite(ctx, dev, usbproto.RegWrite2) },
		func() error { return registerWrite(ctx, dev, usbproto.RegWrite3) },
		func() error { return registerWrite(ctx, dev, profile.VendorRegisterWord) },
		func() error { return registerWrite(ctx, dev, usbproto.RegWrite5) },
		func() error { return enableStreaming(ctx, dev) },
	}

	for i, step := range steps {
		if err := step(); err != nil {
			if errors.Is(err, ErrBusy) {
				continue
			}
			_ = release.Close()
			return nil, &ErrConfigHandshakeFailed{Step: Step(i), Err: err}
		}
	}
	return release, nil
}

// rollbackDetach reattaches any kernel driver detach performed before a
// later bring-up step failed.
func rollbackDetach(dev transport.Device, reattachAudio, reattachMIDI bool) {
	if reattachAudio {
		_ = dev.AttachKernelDriver(usbproto.InterfaceAudio)
	}
	if reattachMIDI {
		_ = dev.AttachKernelDriver(usbproto.InterfaceMIDI)
	}
}

func handshakeRead(ctx context.Context, dev transport.Device) error {
	buf := make([]byte, 1)
	_, err := dev.Control(ctx, transport.DirIn, transport.ControlSetup{
		RequestType: usbproto.ReqTypeVendorIn,
		Request:     usbproto.ReqMode,
		Value:       usbproto.ModeHandshake,
		Index:       0,
	}, buf)
	return err
}

func initialMode(ctx context.Context, dev transport.Device) error {
	_, err := dev.Control(ctx, transport.DirOut, transport.ControlSetup{
		RequestType: usbproto.ReqTypeVendorOut,
		Request:     usbproto.ReqMode,
		Value:       usbproto.ModeInitial,
		Index:       0,
	}, nil)
	return err
}

func setRate(ctx context.Context, dev transport.Device, endpoint int, profile usbproto.RateProfile) error {
	payload := profile.SamplePayload
	_, err := dev.Control(ctx, transport.DirOut, transport.ControlSetup{
		RequestType: usbproto.ReqTypeClassOut,
		Request:     usbproto.ReqSetCur,
		Value:       usbproto.SamplingFreqControl,
		Index:       uint16(endpoint),
	}, payload[:])
	return err
}

func registerWrite(ctx context.Context, dev transport.Device, value uint16) error {
	_, err := dev.Control(ctx, transport.DirOut, transport.ControlSetup{
		RequestType: usbproto.ReqTypeVendorOut,
		Request:     usbproto.ReqRegister,
		Value:       value,
		Index:       usbproto.RegIndex,
	}, nil)
	return err
}

func enableStreaming(ctx context.Context, dev transport.Device) error {
	_, err := dev.Control(ctx, transport.DirOut, transport.ControlSetup{
		RequestType: usbproto.ReqTypeVendorOut,
		Request:     usbproto.ReqMode,
		Value:       usbproto.ModeStreaming,
		Index:       0,
	}, nil)
	return err
}
