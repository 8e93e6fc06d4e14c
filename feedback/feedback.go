// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package feedback implements the Feedback Engine: it consumes the
// device's 1-byte isochronous feedback values, translates each into an
// 8-packet frame-count pattern via Bresenham-style distribution, and
// maintains the 128-entry frame-count accumulator and sync/warm-up
// state shared with the Playback Scheduler (spec §4.2).
package feedback

import (
	"sync"
	"sync/atomic"

	"github.com/us144mkii/us144mkii-go/usbproto"
)

// accumulatorSize is the fixed 128-entry ring size (spec §3).
const accumulatorSize = 128

// overrunGuardBand is the "128 - 16" slack from spec §3 Invariant 4 and
// §4.2 Overrun accounting.
const overrunGuardBand = 16

// SyncPolicy selects how the engine reacts to packet errors (spec §4.2
// Sync state machine and §9 Open Questions).
type SyncPolicy int

const (
	// SyncPolicyStrict drops sync on the very first URB containing any
	// packet error, as described for the default sync state machine.
	SyncPolicyStrict SyncPolicy = iota

	// SyncPolicyTolerant is the kernel-style variant that tolerates
	// transient errors, only dropping sync after ToleranceThreshold
	// consecutive bad URBs.
	SyncPolicyTolerant
)

// ToleranceThreshold is the "roughly 41 ms of continuous feedback
// failure" threshold used by SyncPolicyTolerant (spec §4.2).
const ToleranceThreshold = 41

// SkipURBs is the number of feedback URBs ignored after a fresh start,
// to let device timing settle before any value is trusted (spec §4.2
// Initial state; the exact count is left to the implementer by spec §9
// Open Questions).
const SkipURBs = 4

// Packet is one feedback value as delivered by the transport layer,
// decoupled from any particular USB library's packet type.
type Packet struct {
	Value byte
	Bad   bool
}

// Engine holds the per-session feedback state: the accumulator ring,
// sync/warm-up flags, and the monotonic observability counters (spec
// §3 StreamState, §5 Shared mutable state).
type Engine struct {
	profile usbproto.RateProfile
	policy  SyncPolicy
	warmup  int

	skipRemaining int

	mu     sync.Mutex
	buf    [accumulatorSize]byte
	inIdx  int
	outIdx int

	synced            atomic.Bool
	warmedUp          atomic.Bool
	consecutiveErrors atomic.Int64
	lastFeedbackValue atomic.Uint32

	underruns  atomic.Uint64
	overruns   atomic.Uint64
	syncLosses atomic.Uint64
}

// New creates an Engine for profile using policy. packetsPerPlaybackURB
// is the number of isochronous packets in one playback URB; the
// warm-up threshold is 2x that value (spec §4.2).
func New(profile usbproto.RateProfile, policy SyncPolicy, packetsPerPlaybackURB int) *Engine {
	e := &Engine{
		profile:       profile,
		policy:        policy,
		warmup:        2 * packetsPerPlaybackURB,
		skipRemaining: SkipURBs,
	}
	nominal := byte(profile.NominalFramesPerPacket())
	for i := range e.buf {
		e.buf[i] = nominal
	}
	return e
}

// Synced reports whether the last processed feedback URB contained
// only valid packets.
func (e *Engine) Synced() bool { return e.synced.Load() }

// WarmedUp reports whether the accumulator has reached the warm-up
// threshold at least once since the last sync loss.
func (e *Engine) WarmedUp() bool { return e.warmedUp.Load() }

// LastFeedbackValue returns the most recent valid feedback byte.
func (e *Engine) LastFeedbackValue() byte { return byte(e.lastFeedbackValue.Load()) }

// Underruns, Overruns, and SyncLosses return the monotonically
// non-decreasing counters from spec §8 item 7.
func (e *Engine) Underruns() uint64  { return e.underruns.Load() }
func (e *Engine) Overruns() uint64   { return e.overruns.Load() }
func (e *Engine) SyncLosses() uint64 { return e.syncLosses.Load() }

// fill returns the number of unconsumed accumulator entries. Caller
// must hold mu.
func (e *Engine) fill() int {
	return ((e.inIdx - e.outIdx) % accumulatorSize + accumulatorSize) % accumulatorSize
}

// ProcessURB processes one completed feedback URB's packets, applying
// validation, pattern synthesis, accumulation, and the sync state
// machine (spec §4.2). It is always followed by resubmission by the
// caller (spec §4.2 Resubmission), which ProcessURB does not perform.
func (e *Engine) ProcessURB(packets []Packet) {
	if e.skipRemaining > 0 {
		e.skipRemaining--
		return
	}

	allGood := len(packets) > 0
	for _, p := range packets {
		if p.Bad || !e.profile.ValidFeedback(p.Value) {
			allGood = false
			continue
		}
		e.lastFeedbackValue.Store(uint32(p.Value))
		e.appendPattern(p.Value)
	}

	if allGood {
		e.onURBGood()
	} else {
		e.onURBBad()
	}
}

func (e *Engine) onURBGood() {
	e.synced.Store(true)
	e.consecutiveErrors.Store(0)

	e.mu.Lock()
	fill := e.fill()
	e.mu.Unlock()

	if fill >= e.warmup && !e.warmedUp.Load() {
		e.warmedUp.Store(true)
	}
}

func (e *Engine) onURBBad() {
	switch e.policy {
	case SyncPolicyTolerant:
		n := e.consecutiveErrors.Add(1)
		if n <= ToleranceThreshold {
			return
		}
	}
	e.synced.Store(false)
	e.warmedUp.Store(false)
	e.syncLosses.Add(1)
	e.fillNominal()
}

// fillNominal overwrites every unconsumed accumulator entry with the
// nominal frame count, the "safe fallback" on sync loss (spec §4.2).
func (e *Engine) fillNominal() {
	nominal := byte(e.profile.NominalFramesPerPacket())
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := e.outIdx; i != e.inIdx; i = (i + 1) % accumulatorSize {
		e.buf[i] = nominal
	}
}

// appendPattern synthesizes the 8-count Bresenham pattern for v and
// appends it to the accumulator (spec §4.2 Translation).
func (e *Engine) appendPattern(v byte) {
	nominal := e.profile.NominalFramesPerPacket()
	adjustment := int(v) - 8*nominal
	pattern := BresenhamPattern(nominal, adjustment)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fill() > accumulatorSize-overrunGuardBand {
		e.overruns.Add(1)
	}
	for _, p := range pattern {
		e.buf[e.inIdx] = byte(p)
		e.inIdx = (e.inIdx + 1) % accumulatorSize
	}
}

// Pop consumes one frame-count from the accumulator for the Playback
// Scheduler (spec §4.3 step 2). ok is false if the accumulator is
// empty.
func (e *Engine) Pop() (count int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inIdx == e.outIdx {
		return 0, false
	}
	v := e.buf[e.outIdx]
	e.outIdx = (e.outIdx + 1) % accumulatorSize
	return int(v), true
}

// Empty reports whether the accumulator currently has no unconsumed
// entries.
func (e *Engine) Empty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inIdx == e.outIdx
}

// AddUnderrun increments the underrun counter, called by the Playback
// Scheduler when it must fall back to silence (spec §4.3).
func (e *Engine) AddUnderrun() { e.underruns.Add(1) }

// Nominal returns the profile's nominal frames-per-packet value.
func (e *Engine) Nominal() int { return e.profile.NominalFramesPerPacket() }

// BresenhamPattern synthesizes the 8-count frame pattern for a feedback
// adjustment, implementing spec §4.2's normatively-chosen Bresenham
// strategy (see spec §9 Open Questions): the ±1 counts are distributed
// by an accumulator pre-loaded to the 8-step threshold so the first
// adjusted count lands on the first packet, matching the worked
// examples in spec §8 scenarios S2-S4.
func BresenhamPattern(nominal, adjustment int) [8]int {
	sign := 0
	absAdj := adjustment
	switch {
	case adjustment > 0:
		sign = 1
	case adjustment < 0:
		sign = -1
		absAdj = -adjustment
	}

	var pattern [8]int
	acc := 8
	for i := 0; i < 8; i++ {
		if acc >= 8 {
			acc -= 8
			pattern[i] = nominal + sign
		} else {
			pattern[i] = nominal
		}
		acc += absAdj
	}
	return pattern
}
