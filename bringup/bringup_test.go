// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bringup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/us144mkii/us144mkii-go/transport"
	"github.com/us144mkii/us144mkii-go/transport/usbtest"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

func TestRunIssuesExactlyElevenCallsInOrder(t *testing.T) {
	fake := usbtest.NewFake()
	fake.HandshakeByte = 0x01

	release, err := Run(context.Background(), fake, usbproto.RateProfiles[1])
	require.NoError(t, err)
	require.NotNil(t, release)
	defer func() { assert.NoError(t, release.Close()) }()

	require.Len(t, fake.Calls, 11)

	assert.Equal(t, usbproto.ReqMode, fake.Calls[0].Setup.Request)
	assert.Equal(t, uint16(usbproto.ModeHandshake), fake.Calls[0].Setup.Value)
	assert.Equal(t, transport.DirIn, fake.Calls[0].Dir)

	assert.Equal(t, usbproto.ReqMode, fake.Calls[1].Setup.Request)
	assert.Equal(t, uint16(usbproto.ModeInitial), fake.Calls[1].Setup.Value)

	for i := 2; i <= 4; i++ {
		assert.Equal(t, usbproto.ReqSetCur, fake.Calls[i].Setup.Request)
	}
	assert.Equal(t, uint16(usbproto.EndpointAudioOut), fake.Calls[2].Setup.Index)
	assert.Equal(t, uint16(usbproto.EndpointCaptureIn), fake.Calls[3].Setup.Index)
	assert.Equal(t, uint16(usbproto.EndpointFeedbackIn), fake.Calls[4].Setup.Index)

	for i := 5; i <= 9; i++ {
		assert.Equal(t, usbproto.ReqRegister, fake.Calls[i].Setup.Request)
	}
	assert.Equal(t, usbproto.RateProfiles[1].VendorRegisterWord, fake.Calls[8].Setup.Value)

	assert.Equal(t, usbproto.ReqMode, fake.Calls[10].Setup.Request)
	assert.Equal(t, uint16(usbproto.ModeStreaming), fake.Calls[10].Setup.Value)
}

func TestRunAbortsAtFirstFailure(t *testing.T) {
	fake := usbtest.NewFake()
	fake.FailAtCall = 3
	fake.FailErr = errors.New("boom")

	release, err := Run(context.Background(), fake, usbproto.RateProfiles[0])
	require.Error(t, err)
	require.Nil(t, release)

	var hErr *ErrConfigHandshakeFailed
	require.ErrorAs(t, err, &hErr)
	assert.Equal(t, StepRateCaptureEP, hErr.Step)

	require.Len(t, fake.Calls, 4, "bringup must stop issuing calls after the first failure")
}

func TestRunReattachesDetachedKernelDriversOnClose(t *testing.T) {
	fake := usbtest.NewFake()
	fake.HandshakeByte = 0x01
	fake.DetachAttached[usbproto.InterfaceAudio] = true
	fake.DetachAttached[usbproto.InterfaceMIDI] = true

	release, err := Run(context.Background(), fake, usbproto.RateProfiles[0])
	require.NoError(t, err)
	require.Empty(t, fake.AttachCalls, "must not reattach before shutdown")

	require.NoError(t, release.Close())
	assert.ElementsMatch(t, []int{usbproto.InterfaceAudio, usbproto.InterfaceMIDI}, fake.AttachCalls)
}

func TestRunToleratesBusyOnly(t *testing.T) {
	fake := usbtest.NewFake()
	fake.FailAtCall = 5
	fake.FailErr = ErrBusy

	release, err := Run(context.Background(), fake, usbproto.RateProfiles[0])
	assert.NoError(t, err, "a busy response on a register write must not abort bring-up")
	require.NotNil(t, release)
	defer func() { assert.NoError(t, release.Close()) }()
	assert.Len(t, fake.Calls, 11)
}
