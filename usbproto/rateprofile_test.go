// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package usbproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateProfilesInvariants(t *testing.T) {
	for _, p := range RateProfiles {
		assert.LessOrEqualf(t, p.FeedbackBase, p.FeedbackMax, "rate %d", p.RateHz)
		assert.LessOrEqualf(t, int(p.FeedbackMax)-int(p.FeedbackBase), 5, "rate %d interval length", p.RateHz)
		assert.Equal(t, p.RateHz/8000, p.NominalFramesPerPacket())
	}
}

func TestProfileForRate(t *testing.T) {
	p, err := ProfileForRate(48000)
	require.NoError(t, err)
	assert.Equal(t, 6, p.NominalFramesPerPacket())
	assert.True(t, p.ValidFeedback(48))
	assert.False(t, p.ValidFeedback(51))

	_, err = ProfileForRate(22050)
	assert.Error(t, err)
}
