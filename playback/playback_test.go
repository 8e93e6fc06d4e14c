// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/us144mkii/us144mkii-go/feedback"
	"github.com/us144mkii/us144mkii-go/ringbuf"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

func newTestRing(t *testing.T) *ringbuf.FrameRing {
	t.Helper()
	r, err := ringbuf.NewFrameRing(4096)
	require.NoError(t, err)
	return r
}

// TestWarmupGatingEmitsNominalOnly is spec §8 item 8: before warmed_up,
// the scheduler emits exactly nominal frames per packet and never
// drains the accumulator.
func TestWarmupGatingEmitsNominalOnly(t *testing.T) {
	profile := usbproto.RateProfiles[1] // 48000, nominal=6
	e := feedback.New(profile, feedback.SyncPolicyStrict, 8)
	ring := newTestRing(t)
	s := New(profile, e, ring)

	require.False(t, e.WarmedUp())
	_, lengths := s.BuildURB(8)
	for _, l := range lengths {
		assert.Equal(t, 6*ringbuf.FrameBytes, l)
	}
}

func TestUnderrunOnEmptyRingWhenWarmedUp(t *testing.T) {
	profile := usbproto.RateProfiles[1]
	e := feedback.New(profile, feedback.SyncPolicyStrict, 4)
	ring := newTestRing(t)
	s := New(profile, e, ring)

	for i := 0; i < 4; i++ {
		e.ProcessURB([]feedback.Packet{})
	}
	for i := 0; i < 2; i++ {
		e.ProcessURB([]feedback.Packet{{Value: 48}})
	}
	require.True(t, e.WarmedUp())

	before := e.Underruns()
	_, lengths := s.BuildURB(8)
	assert.Greater(t, e.Underruns(), before, "empty ring while warmed up must count an underrun")
	total := 0
	for _, l := range lengths {
		total += l
	}
	assert.Greater(t, total, 0)
}

func TestGhostModeEmitsNominalSilenceWithoutTouchingEngine(t *testing.T) {
	profile := usbproto.RateProfiles[0] // 44100, nominal=5
	e := feedback.New(profile, feedback.SyncPolicyStrict, 4)
	ring := newTestRing(t)
	s := New(profile, e, ring)
	s.SetGhost(true)

	payload, lengths := s.BuildURB(8)
	for _, l := range lengths {
		assert.Equal(t, 5*ringbuf.FrameBytes, l)
	}
	for _, b := range payload {
		assert.Equal(t, byte(0), b)
	}
	assert.True(t, e.Empty(), "ghost mode must not touch the feedback accumulator")
}

func TestBuildURBCopiesRingDataWhenAvailable(t *testing.T) {
	profile := usbproto.RateProfiles[1]
	e := feedback.New(profile, feedback.SyncPolicyStrict, 4)
	ring := newTestRing(t)
	s := New(profile, e, ring)

	frame := make([]byte, ringbuf.FrameBytes)
	for i := range frame {
		frame[i] = 0xAB
	}
	for i := 0; i < 8; i++ {
		ring.WriteFrames(frame)
	}

	_, lengths := s.BuildURB(1)
	assert.Equal(t, 6*ringbuf.FrameBytes, lengths[0])
	assert.Equal(t, 2, ring.UsedFrames())
}
