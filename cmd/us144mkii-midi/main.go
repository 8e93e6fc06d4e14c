// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/us144mkii/us144mkii-go/session"
	"github.com/us144mkii/us144mkii-go/transport/gousbtransport"
	"github.com/us144mkii/us144mkii-go/usbproto"
)

func main() {
	flags := flag.NewFlagSet("us144mkii-midi", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), strings.TrimSpace(`
Usage: us144mkii-midi [FLAGS]

us144mkii-midi bridges the TASCAM US-144MKII's MIDI in/out ports to
stdin/stdout. Each inbound MIDI message is printed to stdout as one
hex-encoded line (e.g. "903c64"). Each line read from stdin is decoded
as hex and sent as one outbound MIDI message. The device is run at a
fixed audio rate for the duration of the bridge; no audio is exchanged.

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

	out := make(chan []byte, 64)
	go readOutboundMessages(out)

	s, err := session.NewSession(
		session.WithTransport(dev),
		session.WithProductID(usbproto.ProductID144MKII),
		session.WithRate(48000),
		session.WithMIDI(printInboundMessage, func() ([]byte, bool) {
			select {
			case msg := <-out:
				return msg, true
			default:
				return nil, false
			}
		}),
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

	if err := s.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func printInboundMessage(msg []byte) {
	fmt.Println(hex.EncodeToString(msg))
}

// readOutboundMessages decodes one hex-encoded MIDI message per line
// from stdin and forwards each to out until stdin is closed.
func readOutboundMessages(out chan<- []byte) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := hex.DecodeString(line)
		if err != nil {
			log.Printf("skipping malformed line %q: %v", line, err)
			continue
		}
		out <- msg
	}
}
