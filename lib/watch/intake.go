// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"fmt"
	"sync/atomic"

	"github.com/syncthing/fswatch/lib/fs"
)

// intake is the only way for a backend to hand events to its Watcher. It is
// created by the Watcher and given to the backend factory, so a backend can
// never deliver to anything but the Watcher that owns it.
type intake struct {
	active atomic.Bool
	sink   func(fs.Handle, Event)
}

func newIntake(sink func(fs.Handle, Event)) *intake {
	return &intake{sink: sink}
}

// deliver forwards one event synchronously. It must only be called from
// within Backend.Watch.
func (in *intake) deliver(h fs.Handle, ev Event) {
	if !in.active.Load() {
		panic(fmt.Sprintf("bug: %v event for %v delivered outside of Watch", ev, h))
	}
	if !ev.valid() {
		panic(fmt.Sprintf("bug: invalid event %d for %v", uint8(ev), h))
	}
	in.sink(h, ev)
}

func (in *intake) begin() {
	in.active.Store(true)
}

func (in *intake) end() {
	in.active.Store(false)
}
