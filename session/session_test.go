// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/us144mkii/us144mkii-go/capture"
	"github.com/us144mkii/us144mkii-go/ringbuf"
	"github.com/us144mkii/us144mkii-go/transport"
	"github.com/us144mkii/us144mkii-go/transport/usbtest"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

func TestRunBringsUpAndShutsDownCleanly(t *testing.T) {
	fake := usbtest.NewFake()
	fake.HandshakeByte = 0x01

	s, err := NewSession(
		WithTransport(fake),
		WithProductID(usbproto.ProductID144MKII),
		WithRate(48000),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	require.Len(t, fake.Calls, 11, "bring-up must have run exactly once")
}

func TestRunFeedsCaptureRing(t *testing.T) {
	fake := usbtest.NewFake()
	fake.HandshakeByte = 0x01

	captureRing, err := ringbuf.New(1 << 16)
	require.NoError(t, err)

	s, err := NewSession(
		WithTransport(fake),
		WithProductID(usbproto.ProductID144MKII),
		WithRate(48000),
		WithCaptureRing(captureRing),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Bring-up happens synchronously before streams open, so poll briefly
	// for the capture stream to exist before feeding it data.
	var captureStream *usbtest.FakeInStream
	require.Eventually(t, func() bool {
		var err error
		captureStream, err = fake.InStreamFor(usbproto.EndpointCaptureIn)
		return err == nil
	}, time.Second, time.Millisecond)

	samples := [4]uint32{0x11220000, 0x33440000, 0x55660000, 0x77880000}
	chunk := capture.EncodeChunk(samples)
	captureStream.Feed([]transport.Packet{{Data: chunk[:]}})

	require.Eventually(t, func() bool {
		return captureRing.Used() >= 16
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRunRejectsUnsupportedRate(t *testing.T) {
	fake := usbtest.NewFake()
	s, err := NewSession(
		WithTransport(fake),
		WithRate(12345),
	)
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.Error(t, err)
}

func TestRunRejectsMissingTransport(t *testing.T) {
	s, err := NewSession(WithRate(48000))
	require.NoError(t, err)
	err = s.Run(context.Background())
	assert.Error(t, err)
}
