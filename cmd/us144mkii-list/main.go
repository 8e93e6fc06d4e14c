// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/gousb"

	"github.com/us144mkii/us144mkii-go/usbproto"
	"github.com/us144mkii/us144mkii-go/variant"
)

func main() {
	flags := flag.NewFlagSet("us144mkii-list", flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintln(flags.Output(), strings.TrimSpace(`
Usage: us144mkii-list [FLAGS]

us144mkii-list prints every attached TASCAM US-144MKII-protocol device
(vendor 0x0644, product 0x8020 or 0x800F) along with its USB bus/address
and which variant it identifies as.

Flags:
`,
		))
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if flags.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "too many arguments provided")
		flags.Usage()
		os.Exit(1)
	}

	ctx := gousb.NewContext()
	defer func() {
		if err := ctx.Close(); err != nil {
			log.Fatalf("error on close: %v", err)
		}
	}()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == usbproto.VendorID &&
			(uint16(desc.Product) == usbproto.ProductID144MKII || uint16(desc.Product) == usbproto.ProductID800F)
	})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	if len(devs) == 0 {
		fmt.Println("no devices found")
		return
	}

	for _, d := range devs {
		v, err := variant.ForProductID(uint16(d.Desc.Product))
		if err != nil {
			fmt.Printf("%v,%v,unknown\n", d.Desc.Bus, d.Desc.Address)
			continue
		}
		fmt.Printf("%v,%v,%v\n", d.Desc.Bus, d.Desc.Address, v.ID)
	}
}
