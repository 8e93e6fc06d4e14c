// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package usbproto

import "fmt"

// RateProfile is a compile-time constant description of one of the four
// supported sample rates (spec §3).
type RateProfile struct {
	// RateHz is the sample rate in Hz.
	RateHz int

	// SamplePayload is the 3-byte little-endian encoding of RateHz sent
	// in the SET_CUR SAMPLING_FREQ_CONTROL control transfers of bring-up
	// step 3.
	SamplePayload [3]byte

	// VendorRegisterWord is substituted for the fourth opaque register
	// write in bring-up step 4.
	VendorRegisterWord uint16

	// FeedbackBase and FeedbackMax are the inclusive range of valid
	// 1-byte feedback values for this rate (spec §3 Invariant 1).
	FeedbackBase byte
	FeedbackMax  byte
}

// NominalFramesPerPacket is rate/8000, the expected per-packet frame
// count at the USB full-speed 8kHz microframe rate (spec §3).
func (p RateProfile) NominalFramesPerPacket() int {
	return p.RateHz / 8000
}

func samplePayload(rate int) [3]byte {
	return [3]byte{
		byte(rate & 0xff),
		byte((rate >> 8) & 0xff),
		byte((rate >> 16) & 0xff),
	}
}

// RateProfiles is the fixed table of the four supported rate profiles,
// in ascending order of rate. VendorRegisterWord values are opaque
// (spec §9 Open Questions: no datasheet) and are carried verbatim from
// the values observed per rate; they are not reinterpreted here.
var RateProfiles = [4]RateProfile{
	{
		RateHz:             44100,
		SamplePayload:      samplePayload(44100),
		VendorRegisterWord: 0x0000,
		FeedbackBase:       42,
		FeedbackMax:        46,
	},
	{
		RateHz:             48000,
		SamplePayload:      samplePayload(48000),
		VendorRegisterWord: 0x0010,
		FeedbackBase:       46,
		FeedbackMax:        50,
	},
	{
		RateHz:             88200,
		SamplePayload:      samplePayload(88200),
		VendorRegisterWord: 0x0020,
		FeedbackBase:       86,
		FeedbackMax:        90,
	},
	{
		RateHz:             96000,
		SamplePayload:      samplePayload(96000),
		VendorRegisterWord: 0x0030,
		FeedbackBase:       94,
		FeedbackMax:        98,
	},
}

// ProfileForRate returns the RateProfile for the given rate in Hz, or an
// error if it is not one of the four supported rates.
func ProfileForRate(rateHz int) (RateProfile, error) {
	for _, p := range RateProfiles {
		if p.RateHz == rateHz {
			return p, nil
		}
	}
	return RateProfile{}, fmt.Errorf("usbproto: unsupported rate %d Hz, want one of 44100|48000|88200|96000", rateHz)
}

// ValidFeedback reports whether v falls in this profile's valid feedback
// range (spec §4.2 Validation).
func (p RateProfile) ValidFeedback(v byte) bool {
	return v >= p.FeedbackBase && v <= p.FeedbackMax
}
