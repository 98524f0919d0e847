// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watch delivers typed change events for registered paths. A
// Watcher owns one platform specific Backend and dispatches what it observes
// to listeners, synchronously, from within Watch.
package watch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/syncthing/fswatch/lib/fs"
)

// State is the lifecycle state of a Watcher.
type State int32

const (
	StateUnregistered State = iota // nothing added yet
	StateRegistered
	StateWatching // inside Watch
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateWatching:
		return "watching"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// A Watcher dispatches the events observed by its backend to listeners.
//
// Only Watch blocks. Add, Watch and Close must not overlap; overlapping
// calls fail with ErrBusy rather than wait. Listeners may be added and
// removed at any time, including from within a listener.
type Watcher struct {
	fs          fs.Filesystem
	opts        Options
	backendType BackendType
	backend     Backend
	in          *intake

	mut       sync.Mutex
	state     State
	resources int

	listeners *xsync.MapOf[ListenerID, Listener]
	nextID    atomic.Uint64
}

// New creates a Watcher for filesystem using the backend selected by opts.
// Either a working Watcher or a *ConstructionError is returned.
func New(filesystem fs.Filesystem, opts Options) (*Watcher, error) {
	opts.setDefaults()
	if filesystem == nil {
		return nil, &ConstructionError{Backend: opts.Backend, Err: errors.New("no filesystem")}
	}
	bt := resolveBackend(opts.Backend, filesystem)
	opts.Backend = bt

	factory, ok := backends[bt]
	if !ok {
		return nil, &ConstructionError{Backend: bt, Err: ErrUnavailable}
	}

	w := &Watcher{
		fs:          filesystem,
		opts:        opts,
		backendType: bt,
		listeners:   xsync.NewMapOf[ListenerID, Listener](),
	}
	w.in = newIntake(w.dispatch)

	backend, err := factory(filesystem, w.in, opts)
	if err != nil {
		return nil, &ConstructionError{Backend: bt, Err: err}
	}
	w.backend = backend
	w.updateResources()

	l.Debugln("Created", w)
	return w, nil
}

func (w *Watcher) String() string {
	return fmt.Sprintf("watcher@%p(%v, %v)", w, w.backendType, w.fs.URI())
}

// FS returns the filesystem handles passed to Add must belong to.
func (w *Watcher) FS() fs.Filesystem {
	return w.fs
}

// Backend returns the concrete backend in use, never BackendAuto.
func (w *Watcher) Backend() BackendType {
	return w.backendType
}

func (w *Watcher) State() State {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.state
}

// Add registers interest in the events of mask on h. With Recursive and a
// directory handle, everything below h is covered, including directories
// created later.
func (w *Watcher) Add(h fs.Handle, mask EventMask, mode RecursiveMode) error {
	w.mut.Lock()
	defer w.mut.Unlock()

	switch w.state {
	case StateClosed:
		return ErrClosed
	case StateWatching:
		return ErrBusy
	}

	if err := w.backend.Add(h, mask, mode); err != nil {
		metricRegistrationsTotal.WithLabelValues(w.backendType.String(), metricResultFailure).Inc()
		var rerr *RegistrationError
		if !errors.As(err, &rerr) {
			err = &RegistrationError{Path: h.Path(), Err: err}
		}
		l.Debugln(w, "add failed:", err)
		return err
	}

	metricRegistrationsTotal.WithLabelValues(w.backendType.String(), metricResultSuccess).Inc()
	w.state = StateRegistered
	w.updateResources()
	l.Debugln(w, "added", h, mask, mode)
	return nil
}

// AddPath is Add for the handle of path on the watcher's filesystem.
func (w *Watcher) AddPath(path string, mask EventMask, mode RecursiveMode) error {
	h, err := w.fs.Handle(path)
	if err != nil {
		return &RegistrationError{Path: path, Err: err}
	}
	return w.Add(h, mask, mode)
}

// Watch delivers all pending events to the listeners, or waits for up to
// timeout for an event to arrive. A negative timeout waits without bound
// and is refused with ErrNoWatches when nothing has been added.
func (w *Watcher) Watch(timeout time.Duration) error {
	w.mut.Lock()
	switch w.state {
	case StateClosed:
		w.mut.Unlock()
		return ErrClosed
	case StateWatching:
		w.mut.Unlock()
		return ErrBusy
	case StateUnregistered:
		if timeout < 0 {
			w.mut.Unlock()
			return ErrNoWatches
		}
	}
	prev := w.state
	w.state = StateWatching
	w.mut.Unlock()

	t0 := time.Now()
	defer func() {
		w.in.end()
		metricWaitSeconds.WithLabelValues(w.backendType.String()).Add(time.Since(t0).Seconds())
		w.mut.Lock()
		w.state = prev
		w.updateResources()
		w.mut.Unlock()
	}()

	w.in.begin()
	if err := w.backend.Watch(timeout); err != nil {
		var werr *WaitError
		if !errors.As(err, &werr) {
			err = &WaitError{Backend: w.backendType, Err: err}
		}
		return err
	}
	return nil
}

// Close releases the backend and every native resource it holds. Closing a
// closed Watcher is a no-op.
func (w *Watcher) Close() error {
	w.mut.Lock()
	defer w.mut.Unlock()

	switch w.state {
	case StateClosed:
		return nil
	case StateWatching:
		return ErrBusy
	}

	w.state = StateClosed
	err := w.backend.Close()
	w.updateResources()
	l.Debugln("Closed", w)
	return err
}

// NativeResources returns the number of native resources (descriptors,
// kernel watches, subscriptions) the backend held when it was last idle,
// or -1 if the backend cannot tell.
func (w *Watcher) NativeResources() int {
	w.mut.Lock()
	defer w.mut.Unlock()
	return w.resources
}

// updateResources must be called with mut held and the backend idle.
func (w *Watcher) updateResources() {
	rc, ok := w.backend.(resourceCounter)
	if !ok {
		w.resources = -1
		return
	}
	n := rc.resourceCount()
	metricNativeResources.WithLabelValues(w.backendType.String()).Add(float64(n - max(w.resources, 0)))
	w.resources = n
}

// AddListener registers l to receive all subsequently delivered events.
func (w *Watcher) AddListener(l Listener) ListenerID {
	id := ListenerID(w.nextID.Add(1))
	w.listeners.Store(id, l)
	return id
}

// AddFunc is AddListener for a plain function.
func (w *Watcher) AddFunc(fn func(fs.Handle, Event)) ListenerID {
	return w.AddListener(ListenerFunc(fn))
}

func (w *Watcher) RemoveListener(id ListenerID) {
	w.listeners.Delete(id)
}

func (w *Watcher) dispatch(h fs.Handle, ev Event) {
	metricEventsTotal.WithLabelValues(w.backendType.String(), ev.String()).Inc()
	l.Debugln(w, ev, h)
	w.listeners.Range(func(_ ListenerID, lst Listener) bool {
		lst.OnFileEvent(h, ev)
		return true
	})
}
