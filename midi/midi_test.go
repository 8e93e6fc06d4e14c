// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioS5 is spec §8 scenario S5.
func TestScenarioS5(t *testing.T) {
	packets, err := Frame([]byte{0x90, 0x3C, 0x64})
	require.NoError(t, err)

	assert.Equal(t, [9]byte{0x09, 0x90, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0x00}, packets[0])
	assert.Equal(t, [9]byte{0x3C, 0x64, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0x00}, packets[1])
}

func TestFrameRejectsOutOfRangeLength(t *testing.T) {
	_, err := Frame(nil)
	assert.Error(t, err)
	_, err = Frame([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestFrameSingleByteMessage(t *testing.T) {
	// e.g. a clock byte (0xF8), common as a 1-byte system real-time message.
	packets, err := Frame([]byte{0xF8})
	require.NoError(t, err)
	assert.Equal(t, byte(0xF8), packets[0][1])
	assert.Equal(t, byte(pad), packets[1][0])
	assert.Equal(t, byte(pad), packets[1][1])
}

func TestUnframeStopsAtFirstPad(t *testing.T) {
	packet := [9]byte{0x3C, 0x64, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0xFD, 0x00}
	assert.Equal(t, []byte{0x3C, 0x64}, Unframe(packet))
}

func TestUnframeFullPayload(t *testing.T) {
	packet := [9]byte{1, 2, 3, 4, 5, 6, 7, 8, 0}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, Unframe(packet))
}

func TestUnframeEmptyWhenFirstByteIsPad(t *testing.T) {
	packet := [9]byte{0xFD, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.Equal(t, []byte{}, Unframe(packet))
}
