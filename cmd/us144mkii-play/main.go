// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/us144mkii/us144mkii-go/feedback"
	"github.com/us144mkii/us144mkii-go/ringbuf"
	"github.com/us144mkii/us144mkii-go/session"
	"github.com/us144mkii/us144mkii-go/transport/gousbtransport"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

func main() {
	flags := flag.NewFlagSet("us144mkii-play", flag.ExitOnError)
	rate := flags.Int("rate", 48000, "Sample rate in Hz: one of 44100, 48000, 88200, 96000")
	tolerant := flags.Bool("tolerant-sync", false, "Use the kernel-style sync policy that tolerates transient feedback errors")
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), strings.TrimSpace(`
Usage: us144mkii-play [FLAGS]

us144mkii-play reads raw interleaved 4-channel 24-bit little-endian PCM
from stdin and plays it out the TASCAM US-144MKII. Capture data received
concurrently is discarded.

Flags:
`,
		))
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	dev, err := gousbtransport.Open(usbproto.VendorID, usbproto.ProductID144MKII)
	if err != nil {
		log.Fatal(err)
	}

	ring, err := ringbuf.NewFrameRing(1 << 18)
	if err != nil {
		log.Fatal(err)
	}

	policy := feedback.SyncPolicyStrict
	if *tolerant {
		policy = feedback.SyncPolicyTolerant
	}
	s, err := session.NewSession(
		session.WithTransport(dev),
		session.WithProductID(usbproto.ProductID144MKII),
		session.WithRate(*rate),
		session.WithSyncPolicy(policy),
		session.WithPlaybackRing(ring),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	go feedPlaybackRing(ctx, ring)

	if err := s.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

// feedPlaybackRing copies stdin into the playback ring in
// ringbuf.FrameBytes-sized chunks until ctx is done or stdin is
// exhausted. A partial frame at the end of a read is held back until
// the next read completes it.
func feedPlaybackRing(ctx context.Context, ring *ringbuf.FrameRing) {
	buf := make([]byte, 4096*ringbuf.FrameBytes)
	carry := 0
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := os.Stdin.Read(buf[carry:])
		n += carry
		whole := n - n%ringbuf.FrameBytes
		written := 0
		for written < whole {
			if ctx.Err() != nil {
				return
			}
			w := ring.WriteFrames(buf[written:whole])
			if w == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			written += w * ringbuf.FrameBytes
		}
		carry = copy(buf, buf[whole:n])
		if err != nil {
			if err != io.EOF {
				log.Printf("stdin read error: %v", err)
			}
			return
		}
	}
}
