// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package variant dispatches the per-product-ID behavior differences
// between the full US-144MKII (0x8020) and the 0x800F subset device
// that shares its bring-up and streaming protocol (spec §6, §9 Design
// Notes), the same role the teacher module's per-HWVer switches in
// rsp1a.go/rsp2.go/rspduo.go play for its device family.
package variant

import (
	"fmt"

	"github.com/us144mkii/us144mkii-go/usbproto"
)

// ID identifies a supported product variant by its USB product ID.
type ID uint16

const (
	ID144MKII ID = ID(usbproto.ProductID144MKII)
	ID800F    ID = ID(usbproto.ProductID800F)
)

func (id ID) String() string {
	switch id {
	case ID144MKII:
		return "US-144MKII"
	case ID800F:
		return "US-122MKII-class (0x800F)"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(id))
	}
}

// Variant captures the behavior that differs between product IDs:
// which capture channels are present and whether MIDI is wired up.
// Both variants share the identical bring-up sequence and feedback/
// playback algorithms (spec §9 Design Notes).
type Variant struct {
	ID ID

	// CaptureChannels is the number of transposed input channels the
	// capture decoder should produce per frame.
	CaptureChannels int

	// HasMIDI reports whether the MIDI in/out endpoints are present and
	// should be opened.
	HasMIDI bool
}

var (
	variant144MKII = Variant{ID: ID144MKII, CaptureChannels: 4, HasMIDI: true}
	variant800F    = Variant{ID: ID800F, CaptureChannels: 2, HasMIDI: false}
)

// ForProductID returns the Variant for the given USB product ID, or an
// error if it is not one of the two supported IDs.
func ForProductID(pid uint16) (Variant, error) {
	switch pid {
	case usbproto.ProductID144MKII:
		return variant144MKII, nil
	case usbproto.ProductID800F:
		return variant800F, nil
	default:
		return Variant{}, fmt.Errorf("variant: unsupported product id 0x%04x", pid)
	}
}
