// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package usbproto carries the bit-exact USB surface of the TASCAM
// US-144MKII (and the related US-122MKII-class 0x800F variant): vendor
// and product IDs, endpoint numbers, control request fields, and the
// fixed table of supported rate profiles (spec §3, §6).
package usbproto

// VendorID is the TASCAM USB vendor ID.
const VendorID = 0x0644

// ProductID144MKII is the primary, fully-featured product ID.
const ProductID144MKII = 0x8020

// ProductID800F is a related product that shares the bring-up and
// streaming protocol but supports only a subset of features (spec §6,
// §9 Design Notes).
const ProductID800F = 0x800F

// Endpoint addresses, matching the USB convention of the high bit set
// for IN endpoints (spec §6).
const (
	EndpointAudioOut    = 0x02 // isochronous, 4ch x 24-bit playback
	EndpointFeedbackIn  = 0x81 // isochronous, 1-byte feedback packets
	EndpointCaptureIn   = 0x86 // bulk or isochronous, 64-byte chunks
	EndpointMIDIIn      = 0x83 // bulk
	EndpointMIDIOut     = 0x04 // bulk
)

// Control request constants used during bring-up (spec §4.1).
const (
	// ReqMode is the vendor request used for both the handshake read and
	// the mode-switching writes (0x10 initial mode, 0x30 enable streaming).
	ReqMode = 73

	// ReqRegister is the vendor request used for the opaque register
	// writes in bring-up step 4.
	ReqRegister = 65

	// ReqSetCur is the USB Audio Class SET_CUR request used to write the
	// sample rate to the audio/feedback/capture endpoints in bring-up
	// step 3.
	ReqSetCur = 0x01

	ModeHandshake = 0x0000
	ModeInitial   = 0x0010
	ModeStreaming = 0x0030

	// SamplingFreqControl is the wValue high byte (CS) paired with
	// endpoint number zero in the low byte for a SAMPLING_FREQ_CONTROL
	// SET_CUR request.
	SamplingFreqControl = 0x0100

	RegIndex = 0x0101
)

// Opaque register write sequence for bring-up step 4. These values have
// no known datasheet meaning; per spec §9 they must be copied verbatim
// rather than reinterpreted. The 4th value is the chosen RateProfile's
// VendorRegisterWord.
var (
	RegWrite1 uint16 = 0x0d04
	RegWrite2 uint16 = 0x0e00
	RegWrite3 uint16 = 0x0f00
	RegWrite5 uint16 = 0x110b
)

// bmRequestType values for the three control transfer directions used
// during bring-up.
const (
	ReqTypeVendorIn  = 0xC0
	ReqTypeVendorOut = 0x40
	ReqTypeClassOut  = 0x22
)

// Interface numbers, both of which are set to alternate setting 1
// before bring-up begins (spec §4.1, §6).
const (
	InterfaceAudio = 0
	InterfaceMIDI  = 1
	AltSetting     = 1
)

// ControlTimeoutMS is the timeout, in milliseconds, applied to every
// control transfer (spec §5).
const ControlTimeoutMS = 1000
