// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build cgo

package gousbtransport

import (
	"context"

	"github.com/google/gousb"

	"github.com/us144mkii/us144mkii-go/transport"
)

// outStream drives isochronous/bulk OUT transfers through a
// gousb.WriteStream, matching transport.OutStream.
type outStream struct {
	ep      *gousb.OutEndpoint
	stream  *gousb.WriteStream
	openErr error
}

func newOutStream(ep *gousb.OutEndpoint, packetSize, packetsPerURB int) *outStream {
	s, err := ep.NewStream(packetSize*packetsPerURB, 4)
	if err != nil {
		return &outStream{ep: ep, openErr: &transport.Error{Op: "out-stream", Kind: transport.KindFatal, Err: err}}
	}
	return &outStream{ep: ep, stream: s}
}

func (s *outStream) Submit(ctx context.Context, payload []byte, packetLengths []int) error {
	if s.stream == nil {
		return s.openErr
	}
	if _, err := s.stream.Write(payload); err != nil {
		return &transport.Error{Op: "out-submit", Endpoint: s.ep.Number, Kind: transport.KindRecoverable, Err: err}
	}
	return nil
}

func (s *outStream) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

// inStream drives isochronous/bulk IN transfers through a
// gousb.ReadStream, matching transport.InStream.
type inStream struct {
	ep         *gousb.InEndpoint
	stream     *gousb.ReadStream
	packetSize int
}

func newInStream(ep *gousb.InEndpoint, packetSize, packetsPerURB int) *inStream {
	s, _ := ep.NewStream(packetSize*packetsPerURB, 4)
	return &inStream{ep: ep, stream: s, packetSize: packetSize}
}

func (s *inStream) Read(ctx context.Context) ([]transport.Packet, error) {
	if s.stream == nil {
		return nil, &transport.Error{Op: "in-read", Endpoint: s.ep.Number, Kind: transport.KindFatal, Err: context.Canceled}
	}
	buf := make([]byte, s.packetSize)
	n, err := s.stream.Read(buf)
	if err != nil {
		return nil, &transport.Error{Op: "in-read", Endpoint: s.ep.Number, Kind: transport.KindRecoverable, Err: err}
	}
	if n == 0 {
		return []transport.Packet{{Status: &transport.Error{Op: "in-read", Endpoint: s.ep.Number, Kind: transport.KindRecoverable, Err: context.DeadlineExceeded}}}, nil
	}
	return []transport.Packet{{Data: buf[:n]}}, nil
}

func (s *inStream) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
