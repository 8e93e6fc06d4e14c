// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package playback implements the Playback Scheduler: on every
// isochronous OUT URB completion it pulls per-packet frame counts from
// the feedback accumulator, copies audio bytes out of the host-facing
// playback ring, and formats the next URB's packet descriptors (spec
// §4.3).
package playback

import (
	"github.com/us144mkii/us144mkii-go/feedback"
	"github.com/us144mkii/us144mkii-go/ringbuf"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

// MaxPacketBytes is the worst-case per-packet byte length, (nominal+1)
// frames of 12 bytes each, that packet buffers must be sized for (spec
// §4.3).
func MaxPacketBytes(profile usbproto.RateProfile) int {
	return (profile.NominalFramesPerPacket() + 1) * ringbuf.FrameBytes
}

// Scheduler builds the payload and per-packet length list for one
// isochronous OUT URB at a time.
type Scheduler struct {
	profile usbproto.RateProfile
	engine  *feedback.Engine
	ring    *ringbuf.FrameRing

	ghost bool
}

// New creates a Scheduler that pulls frame counts from engine and audio
// bytes from ring.
func New(profile usbproto.RateProfile, engine *feedback.Engine, ring *ringbuf.FrameRing) *Scheduler {
	return &Scheduler{profile: profile, engine: engine, ring: ring}
}

// SetGhost enters or exits Ghost mode (spec §4.3 Ghost mode): while
// ghost, BuildURB ignores the feedback accumulator and the playback
// ring entirely and emits nominal-frame silence, keeping the device's
// isochronous OUT pipe fed so its clock stays stable with only capture
// active.
func (s *Scheduler) SetGhost(ghost bool) { s.ghost = ghost }

// Ghost reports whether the scheduler is in Ghost mode.
func (s *Scheduler) Ghost() bool { return s.ghost }

// BuildURB formats one URB of packetCount packets, returning the
// concatenated payload and each packet's length in bytes. The caller
// is responsible for submitting the URB and invoking BuildURB again
// once it completes (spec §4.3 "resubmit").
func (s *Scheduler) BuildURB(packetCount int) (payload []byte, packetLengths []int) {
	nominal := s.profile.NominalFramesPerPacket()
	lengths := make([]int, packetCount)
	buf := make([]byte, 0, packetCount*MaxPacketBytes(s.profile))

	for i := 0; i < packetCount; i++ {
		frameCount := nominal
		if !s.ghost {
			switch {
			case !s.engine.WarmedUp() || s.engine.Empty():
				if s.engine.WarmedUp() {
					s.engine.AddUnderrun()
				}
			default:
				if n, ok := s.engine.Pop(); ok {
					frameCount = n
				}
			}
		}

		n := frameCount * ringbuf.FrameBytes
		packet := make([]byte, n)
		if !s.ghost && s.ring.UsedFrames() >= frameCount && frameCount > 0 {
			s.ring.ReadFramesOrZero(packet)
		} else if !s.ghost && frameCount > 0 && s.engine.WarmedUp() {
			s.engine.AddUnderrun()
		}

		lengths[i] = n
		buf = append(buf, packet...)
	}
	return buf, lengths
}
