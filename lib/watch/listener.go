// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"fmt"
	"path/filepath"

	"github.com/gobwas/glob"

	"github.com/syncthing/fswatch/lib/fs"
)

// A Listener receives the events delivered by a Watcher. It is called
// synchronously from within Watch, on the goroutine calling Watch.
type Listener interface {
	OnFileEvent(h fs.Handle, ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(h fs.Handle, ev Event)

func (f ListenerFunc) OnFileEvent(h fs.Handle, ev Event) {
	f(h, ev)
}

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type globListener struct {
	globs []glob.Glob
	next  Listener
}

// NewGlobListener returns a Listener forwarding to next only the events for
// paths matching at least one of patterns. Patterns use the separator of
// the platform, so "*" does not cross directory boundaries while "**" does.
func NewGlobListener(patterns []string, next Listener) (Listener, error) {
	gl := &globListener{next: next}
	for _, pat := range patterns {
		g, err := glob.Compile(pat, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", pat, err)
		}
		gl.globs = append(gl.globs, g)
	}
	return gl, nil
}

func (gl *globListener) OnFileEvent(h fs.Handle, ev Event) {
	path := h.Path()
	for _, g := range gl.globs {
		if g.Match(path) {
			gl.next.OnFileEvent(h, ev)
			return
		}
	}
}
