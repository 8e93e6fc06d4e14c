// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package midi implements the MIDI Framer: it wraps and unwraps 3-byte
// MIDI channel-voice messages inside the device's 9-byte bulk envelope
// (spec §4.5).
package midi

import "fmt"

// PacketBytes is the size of one USB MIDI envelope packet.
const PacketBytes = 9

// pad is the filler byte used for absent message bytes and the unused
// trailing bytes of each packet.
const pad = 0xFD

// cable is always 0 for this single-port device.
const cable = 0

// Frame encodes a 1-3 byte MIDI channel-voice message m into the two
// 9-byte USB packets the device expects on its MIDI OUT bulk endpoint
// (spec §4.5 Outbound, scenario S5). Running status is not supported;
// callers must expand it before calling Frame.
func Frame(m []byte) ([2][PacketBytes]byte, error) {
	if len(m) < 1 || len(m) > 3 {
		return [2][PacketBytes]byte{}, fmt.Errorf("midi: message length %d out of range [1,3]", len(m))
	}

	var packets [2][PacketBytes]byte

	packets[0][0] = cable<<4 | (m[0] >> 4)
	packets[0][1] = m[0]
	for i := 2; i < 8; i++ {
		packets[0][i] = pad
	}
	packets[0][8] = 0x00

	packets[1][0] = byteOr(m, 1, pad)
	packets[1][1] = byteOr(m, 2, pad)
	for i := 2; i < 8; i++ {
		packets[1][i] = pad
	}
	packets[1][8] = 0x00

	return packets, nil
}

func byteOr(m []byte, i int, def byte) byte {
	if i < len(m) {
		return m[i]
	}
	return def
}

// Unframe extracts the MIDI payload from one 9-byte envelope packet
// read from MIDI IN: the prefix up to (but not including) the first
// 0xFD byte, at most the first 8 bytes. Byte 8 is a status byte and is
// never part of the returned payload (spec §4.5 Inbound).
func Unframe(packet [PacketBytes]byte) []byte {
	for i := 0; i < 8; i++ {
		if packet[i] == pad {
			return append([]byte{}, packet[:i]...)
		}
	}
	return append([]byte(nil), packet[:8]...)
}
