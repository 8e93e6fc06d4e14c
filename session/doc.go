// Copyright 2021 Mark Siner. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

/*
Package session implements a high-level API on top of the bring-up,
feedback, playback, capture, and MIDI packages. The API is built on a
functional options pattern to wrap common configuration tasks in
composable functions for a highly declarative API.
*/
package session
