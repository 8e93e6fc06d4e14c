// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/us144mkii/us144mkii-go/usbproto"
)

func drainSkip(e *Engine) {
	for i := 0; i < SkipURBs; i++ {
		e.ProcessURB([]Packet{{Value: byte(e.Nominal() * 8)}})
	}
}

// TestPatternSumAndRange is spec §8 item 2: for every supported rate and
// every valid feedback value, the pattern sums to v and every entry is
// within one of nominal.
func TestPatternSumAndRange(t *testing.T) {
	for _, profile := range usbproto.RateProfiles {
		profile := profile
		for v := int(profile.FeedbackBase); v <= int(profile.FeedbackMax); v++ {
			nominal := profile.NominalFramesPerPacket()
			pattern := BresenhamPattern(nominal, v-8*nominal)
			sum := 0
			for _, p := range pattern {
				assert.Contains(t, []int{nominal - 1, nominal, nominal + 1}, p)
				sum += p
			}
			assert.Equal(t, v, sum, "rate=%d v=%d", profile.RateHz, v)
		}
	}
}

// TestPatternSumProperty is the rapid-driven version of the same
// invariant, generalized beyond the fixed rate table to any plausible
// nominal/adjustment pair.
func TestPatternSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		nominal := rapid.IntRange(4, 12).Draw(t, "nominal")
		adjustment := rapid.IntRange(-3, 3).Draw(t, "adjustment")
		pattern := BresenhamPattern(nominal, adjustment)
		sum := 0
		for _, p := range pattern {
			sum += p
		}
		assert.Equal(t, 8*nominal+adjustment, sum)
	})
}

// TestPatternDeterministic is spec §8 item 3: the pattern is a
// deterministic function of (nominal, adjustment).
func TestPatternDeterministic(t *testing.T) {
	a := BresenhamPattern(6, 2)
	b := BresenhamPattern(6, 2)
	assert.Equal(t, a, b)
}

func TestScenarioS2_48kPlus2(t *testing.T) {
	got := BresenhamPattern(6, 2)
	assert.Equal(t, [8]int{7, 6, 6, 6, 7, 6, 6, 6}, got)
}

func TestScenarioS3_48kMinus2(t *testing.T) {
	got := BresenhamPattern(6, -2)
	sum := 0
	fives := 0
	for _, p := range got {
		sum += p
		if p == 5 {
			fives++
		}
	}
	assert.Equal(t, 46, sum)
	assert.Equal(t, 2, fives)
}

func TestScenarioS4_44k1Normal(t *testing.T) {
	got := BresenhamPattern(5, 4)
	sum, fives, sixes := 0, 0, 0
	for _, p := range got {
		sum += p
		switch p {
		case 5:
			fives++
		case 6:
			sixes++
		}
	}
	assert.Equal(t, 44, sum)
	assert.Equal(t, 4, fives)
	assert.Equal(t, 4, sixes)
}

func TestScenarioS1_48kNominalWarmup(t *testing.T) {
	profile := usbproto.RateProfiles[1] // 48000
	e := New(profile, SyncPolicyStrict, 8)
	drainSkip(e)

	for i := 0; i < 4; i++ {
		e.ProcessURB([]Packet{{Value: 48}})
	}

	require.True(t, e.Synced())
	require.True(t, e.WarmedUp())
	for {
		v, ok := e.Pop()
		if !ok {
			break
		}
		assert.Equal(t, 6, v)
	}
}

func TestWarmupGating(t *testing.T) {
	profile := usbproto.RateProfiles[1]
	e := New(profile, SyncPolicyStrict, 8)
	drainSkip(e)
	assert.False(t, e.WarmedUp())
	_, ok := e.Pop()
	assert.False(t, ok, "accumulator must stay empty before any feedback is processed")
}

func TestSyncLossStrictOnFirstBadURB(t *testing.T) {
	profile := usbproto.RateProfiles[0]
	e := New(profile, SyncPolicyStrict, 8)
	drainSkip(e)
	e.ProcessURB([]Packet{{Value: 44}})
	require.True(t, e.Synced())

	e.ProcessURB([]Packet{{Bad: true}})
	assert.False(t, e.Synced())
	assert.False(t, e.WarmedUp())
	assert.Equal(t, uint64(1), e.SyncLosses())
}

func TestSyncLossToleratesTransientErrors(t *testing.T) {
	profile := usbproto.RateProfiles[0]
	e := New(profile, SyncPolicyTolerant, 8)
	drainSkip(e)
	e.ProcessURB([]Packet{{Value: 44}})
	require.True(t, e.Synced())

	for i := 0; i < ToleranceThreshold; i++ {
		e.ProcessURB([]Packet{{Bad: true}})
	}
	assert.True(t, e.Synced(), "tolerant policy must not drop sync within the threshold")

	e.ProcessURB([]Packet{{Bad: true}})
	assert.False(t, e.Synced(), "tolerant policy must drop sync once the threshold is exceeded")
	assert.Equal(t, uint64(1), e.SyncLosses())
}

func TestCountersMonotonic(t *testing.T) {
	profile := usbproto.RateProfiles[1]
	e := New(profile, SyncPolicyStrict, 8)
	drainSkip(e)

	var lastUnder, lastOver, lastLoss uint64
	for i := 0; i < 50; i++ {
		if i%3 == 0 {
			e.ProcessURB([]Packet{{Bad: true}})
		} else {
			e.ProcessURB([]Packet{{Value: 50}})
		}
		e.AddUnderrun()

		assert.GreaterOrEqual(t, e.Underruns(), lastUnder)
		assert.GreaterOrEqual(t, e.Overruns(), lastOver)
		assert.GreaterOrEqual(t, e.SyncLosses(), lastLoss)
		lastUnder, lastOver, lastLoss = e.Underruns(), e.Overruns(), e.SyncLosses()
	}
}

func TestInvalidFeedbackCountsAsError(t *testing.T) {
	profile := usbproto.RateProfiles[1]
	e := New(profile, SyncPolicyStrict, 8)
	drainSkip(e)
	e.ProcessURB([]Packet{{Value: profile.FeedbackMax + 1}})
	assert.False(t, e.Synced())
}
