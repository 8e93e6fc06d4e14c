// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

/*
Package us144mkii implements a native-Go USB driver for the TASCAM
US-144MKII audio/MIDI interface.

The root of the module has no exported API of its own. Start with
package session for a ready-to-run device session, or with the
bringup, feedback, playback, capture, and midi packages for the
individual protocol components session composes.
*/
package us144mkii
