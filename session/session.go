// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session orchestrates one full device session: bring-up,
// opening the streaming endpoints, running the Feedback Engine,
// Playback Scheduler, Capture Decoder, and MIDI Framer concurrently,
// and cooperative shutdown (spec §5). Its ConfigFn/WithXYZ shape
// mirrors the original layout of this package.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/us144mkii/us144mkii-go/bringup"
	"github.com/us144mkii/us144mkii-go/capture"
	"github.com/us144mkii/us144mkii-go/feedback"
	"github.com/us144mkii/us144mkii-go/midi"
	"github.com/us144mkii/us144mkii-go/playback"
	"github.com/us144mkii/us144mkii-go/ringbuf"
	"github.com/us144mkii/us144mkii-go/transport"
	"github.com/us144mkii/us144mkii-go/usbproto"
	"github.com/us144mkii/us144mkii-go/variant"
)

// drainTimeout is the shutdown drain window from spec §5 Cancellation
// ("drain the event loop with a small timeout (≈200 ms)").
const drainTimeout = 200 * time.Millisecond

// defaultPacketsPerURB is the typical isochronous packet count per URB
// (spec §4.3 "typical N=8").
const defaultPacketsPerURB = 8

// ConfigFn configures a Session. NewSession applies each ConfigFn in
// order and returns the first error encountered.
type ConfigFn func(s *Session) error

// MIDIIn is called with each decoded inbound MIDI message.
type MIDIIn func(msg []byte)

// MIDIOut is polled for the next outbound MIDI message to frame and
// send; ok is false when there is nothing to send right now.
type MIDIOut func() (msg []byte, ok bool)

// Session holds everything needed to run one device session.
type Session struct {
	Transport  transport.Device
	ProductID  uint16
	RateHz     int
	SyncPolicy feedback.SyncPolicy

	PacketsPerPlaybackURB int
	PacketsPerFeedbackURB int

	PlaybackRing *ringbuf.FrameRing
	CaptureRing  *ringbuf.Ring

	MIDIInFn  MIDIIn
	MIDIOutFn MIDIOut

	running atomic.Bool

	profile   usbproto.RateProfile
	variant   variant.Variant
	engine    *feedback.Engine
	scheduler *playback.Scheduler
	decoder   *capture.Decoder
	release   *bringup.Release
}

// NewSession creates a Session by applying fns in order.
func NewSession(fns ...ConfigFn) (*Session, error) {
	s := &Session{
		ProductID:             usbproto.ProductID144MKII,
		PacketsPerPlaybackURB: defaultPacketsPerURB,
		PacketsPerFeedbackURB: defaultPacketsPerURB,
	}
	for _, fn := range fns {
		if err := fn(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithTransport sets the USB transport the session drives.
func WithTransport(dev transport.Device) ConfigFn {
	return func(s *Session) error {
		if s.Transport != nil {
			return errors.New("session: transport already set")
		}
		s.Transport = dev
		return nil
	}
}

// WithProductID selects which product variant to configure for.
func WithProductID(pid uint16) ConfigFn {
	return func(s *Session) error {
		s.ProductID = pid
		return nil
	}
}

// WithRate selects the sample rate; it must be one of the four
// supported rates (spec §3).
func WithRate(rateHz int) ConfigFn {
	return func(s *Session) error {
		s.RateHz = rateHz
		return nil
	}
}

// WithSyncPolicy selects the Feedback Engine's sync-loss policy (spec
// §9 Open Questions).
func WithSyncPolicy(p feedback.SyncPolicy) ConfigFn {
	return func(s *Session) error {
		s.SyncPolicy = p
		return nil
	}
}

// WithPlaybackRing sets the host-facing playback ring.
func WithPlaybackRing(r *ringbuf.FrameRing) ConfigFn {
	return func(s *Session) error {
		s.PlaybackRing = r
		return nil
	}
}

// WithCaptureRing sets the host-facing capture ring.
func WithCaptureRing(r *ringbuf.Ring) ConfigFn {
	return func(s *Session) error {
		s.CaptureRing = r
		return nil
	}
}

// WithMIDI sets the host-facing MIDI sink and source callbacks.
func WithMIDI(in MIDIIn, out MIDIOut) ConfigFn {
	return func(s *Session) error {
		s.MIDIInFn = in
		s.MIDIOutFn = out
		return nil
	}
}

// Stats is a point-in-time snapshot of session observability counters
// (spec §3 StreamState counters, §7 Propagation policy).
type Stats struct {
	Synced                 bool
	WarmedUp               bool
	LastFeedbackValue      byte
	Underruns              uint64
	Overruns               uint64
	SyncLosses             uint64
	ImplicitFeedbackFrames uint64
}

// Stats returns the current observability snapshot. It is safe to call
// concurrently with Run.
func (s *Session) Stats() Stats {
	var st Stats
	if s.engine != nil {
		st.Synced = s.engine.Synced()
		st.WarmedUp = s.engine.WarmedUp()
		st.LastFeedbackValue = s.engine.LastFeedbackValue()
		st.Underruns = s.engine.Underruns()
		st.Overruns = s.engine.Overruns()
		st.SyncLosses = s.engine.SyncLosses()
	}
	if s.decoder != nil {
		st.ImplicitFeedbackFrames = s.decoder.ImplicitFeedbackFrames()
	}
	return st
}

// Run performs bring-up, opens the streaming endpoints, and runs the
// session until ctx is cancelled or a fatal transport error occurs
// (spec §5). Once every stream is open, it performs the shutdown
// sequence (drain, close streams, release, reattach, close the
// transport) before returning. An error before that point returns
// early: a failure after bring-up releases the interfaces and
// reattaches kernel drivers, but neither closes streams already opened
// nor closes the transport.
func (s *Session) Run(ctx context.Context) error {
	if s.Transport == nil {
		return errors.New("session: no transport configured")
	}

	v, err := variant.ForProductID(s.ProductID)
	if err != nil {
		return err
	}
	s.variant = v

	profile, err := usbproto.ProfileForRate(s.RateHz)
	if err != nil {
		return err
	}
	s.profile = profile

	if s.PlaybackRing == nil {
		s.PlaybackRing, err = ringbuf.NewFrameRing(1 << 16)
		if err != nil {
			return err
		}
	}
	if s.CaptureRing == nil {
		s.CaptureRing, err = ringbuf.New(1 << 16)
		if err != nil {
			return err
		}
	}

	release, err := bringup.Run(ctx, s.Transport, profile)
	if err != nil {
		return fmt.Errorf("session: bring-up failed: %w", err)
	}
	s.release = release

	s.engine = feedback.New(profile, s.SyncPolicy, s.PacketsPerPlaybackURB)
	s.scheduler = playback.New(profile, s.engine, s.PlaybackRing)
	// Ghost mode (spec §4.3) starts engaged: until the host has written
	// any frames into the playback ring, capture runs with no active
	// playback client, so the scheduler emits nominal-frame silence to
	// keep the device's isochronous OUT pipe (and its clock) fed.
	// playbackLoop exits ghost mode the first time it observes real
	// frames in the ring.
	s.scheduler.SetGhost(true)
	s.decoder = capture.NewDecoder(s.CaptureRing, v.CaptureChannels)

	maxPacket := playback.MaxPacketBytes(profile)
	outStream, err := s.Transport.OutStream(usbproto.EndpointAudioOut, maxPacket, s.PacketsPerPlaybackURB)
	if err != nil {
		_ = s.release.Close()
		return fmt.Errorf("session: open audio out stream: %w", err)
	}
	feedbackStream, err := s.Transport.InStream(usbproto.EndpointFeedbackIn, 1, s.PacketsPerFeedbackURB)
	if err != nil {
		_ = s.release.Close()
		return fmt.Errorf("session: open feedback stream: %w", err)
	}
	captureStream, err := s.Transport.InStream(usbproto.EndpointCaptureIn, capture.ChunkBytes, 1)
	if err != nil {
		_ = s.release.Close()
		return fmt.Errorf("session: open capture stream: %w", err)
	}

	var midiInStream transport.InStream
	var midiOutStream transport.OutStream
	if v.HasMIDI {
		midiInStream, err = s.Transport.InStream(usbproto.EndpointMIDIIn, midi.PacketBytes, 1)
		if err != nil {
			_ = s.release.Close()
			return fmt.Errorf("session: open midi in stream: %w", err)
		}
		midiOutStream, err = s.Transport.OutStream(usbproto.EndpointMIDIOut, midi.PacketBytes, 2)
		if err != nil {
			_ = s.release.Close()
			return fmt.Errorf("session: open midi out stream: %w", err)
		}
	}

	s.running.Store(true)
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.feedbackLoop(gctx, feedbackStream) })
	g.Go(func() error { return s.playbackLoop(gctx, outStream) })
	g.Go(func() error { return s.captureLoop(gctx, captureStream) })
	if v.HasMIDI {
		g.Go(func() error { return s.midiInLoop(gctx, midiInStream) })
		g.Go(func() error { return s.midiOutLoop(gctx, midiOutStream) })
	}

	runErr := g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	<-drainCtx.Done()
	drainCancel()

	closers := []io_Closer{outStream, feedbackStream, captureStream}
	if v.HasMIDI {
		closers = append(closers, midiInStream, midiOutStream)
	}
	for _, c := range closers {
		if c == nil {
			continue
		}
		_ = c.Close()
	}
	_ = s.release.Close()
	_ = s.Transport.Close()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// io_Closer is the minimal surface shared by OutStream and InStream
// that shutdown needs; it avoids importing "io" for a single method.
type io_Closer interface {
	Close() error
}

func (s *Session) feedbackLoop(ctx context.Context, in transport.InStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		packets, err := in.Read(ctx)
		if err != nil {
			if transport.IsCancelled(err) {
				return nil
			}
			if transport.IsFatal(err) {
				return err
			}
			s.engine.ProcessURB([]feedback.Packet{{Bad: true}})
			continue
		}
		fp := make([]feedback.Packet, len(packets))
		for i, p := range packets {
			if p.Status != nil || len(p.Data) < 1 {
				fp[i] = feedback.Packet{Bad: true}
				continue
			}
			fp[i] = feedback.Packet{Value: p.Data[0]}
		}
		s.engine.ProcessURB(fp)
	}
}

func (s *Session) playbackLoop(ctx context.Context, out transport.OutStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		// Exit Ghost mode (spec §4.3) the first time the host has
		// placed real frames in the playback ring: playback has
		// started, so the scheduler switches from silence to the
		// feedback-driven schedule. There is no way back into Ghost
		// mode within a single Run; a session that wants ghost
		// playback again starts a fresh Run with no capture-only
		// mid-session toggle, matching capture and playback running
		// for the same lifetime in this architecture.
		if s.scheduler.Ghost() && s.PlaybackRing.UsedFrames() > 0 {
			s.scheduler.SetGhost(false)
		}
		payload, lengths := s.scheduler.BuildURB(s.PacketsPerPlaybackURB)
		if err := out.Submit(ctx, payload, lengths); err != nil {
			if transport.IsCancelled(err) {
				return nil
			}
			if transport.IsFatal(err) {
				return err
			}
		}
	}
}

func (s *Session) captureLoop(ctx context.Context, in transport.InStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		packets, err := in.Read(ctx)
		if err != nil {
			if transport.IsCancelled(err) {
				return nil
			}
			if transport.IsFatal(err) {
				return err
			}
			continue
		}
		for _, p := range packets {
			if p.Status != nil || len(p.Data) != capture.ChunkBytes {
				continue
			}
			var chunk [capture.ChunkBytes]byte
			copy(chunk[:], p.Data)
			s.decoder.DecodeAndWrite(chunk)
		}
	}
}

func (s *Session) midiInLoop(ctx context.Context, in transport.InStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		packets, err := in.Read(ctx)
		if err != nil {
			if transport.IsCancelled(err) {
				return nil
			}
			if transport.IsFatal(err) {
				return err
			}
			continue
		}
		for _, p := range packets {
			if p.Status != nil || len(p.Data) != midi.PacketBytes {
				continue
			}
			var packet [midi.PacketBytes]byte
			copy(packet[:], p.Data)
			if msg := midi.Unframe(packet); len(msg) > 0 && s.MIDIInFn != nil {
				s.MIDIInFn(msg)
			}
		}
	}
}

func (s *Session) midiOutLoop(ctx context.Context, out transport.OutStream) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.MIDIOutFn == nil {
			<-ctx.Done()
			return nil
		}
		msg, ok := s.MIDIOutFn()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
			continue
		}
		packets, err := midi.Frame(msg)
		if err != nil {
			continue
		}
		payload := append(append([]byte(nil), packets[0][:]...), packets[1][:]...)
		if err := out.Submit(ctx, payload, []int{midi.PacketBytes, midi.PacketBytes}); err != nil {
			if transport.IsCancelled(err) {
				return nil
			}
			if transport.IsFatal(err) {
				return err
			}
		}
	}
}
