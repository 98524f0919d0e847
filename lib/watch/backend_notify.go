// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !(solaris && !cgo) && !(darwin && !cgo) && !(android && amd64) && !ios

package watch

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/syncthing/notify"

	"github.com/syncthing/fswatch/lib/fs"
)

func init() {
	registerBackend(BackendNotify, newNotifyBackend)
}

const notifyEventMask = notify.Create | notify.Remove | notify.Write | notify.Rename | attrEventMask

// notifyBackend uses the native recursive watches of syncthing/notify
// (ReadDirectoryChangesW, FSEvents) and its emulation elsewhere. All
// registrations share one buffered channel; when it fills up events have
// been lost. notify reports a change once per subscription, so a
// registration covered by an existing subscription gets none of its own.
type notifyBackend struct {
	fs     fs.Filesystem
	in     *intake
	c      chan notify.EventInfo
	regs   registrationSet
	subs   []registration // registrations holding a notify subscription
	closed bool
	batch  []notifyEvent
}

type notifyEvent struct {
	h  fs.Handle
	ev Event
}

func newNotifyBackend(filesystem fs.Filesystem, in *intake, opts Options) (Backend, error) {
	if err := requireNative(filesystem); err != nil {
		return nil, err
	}
	return &notifyBackend{
		fs: filesystem,
		in: in,
		c:  make(chan notify.EventInfo, max(opts.EventBufferSize, 1)),
	}, nil
}

func (b *notifyBackend) FS() fs.Filesystem {
	return b.fs
}

func (b *notifyBackend) Add(h fs.Handle, mask EventMask, mode RecursiveMode) error {
	if err := checkRegistration(b.fs, h, mask); err != nil {
		return err
	}
	if b.closed {
		return &RegistrationError{Path: h.Path(), Err: ErrClosed}
	}
	info, err := b.fs.Stat(h.Path())
	if err != nil {
		return &RegistrationError{Path: h.Path(), Err: err}
	}
	reg := newRegistration(h, mask, mode, info.IsDir())

	for _, sub := range b.subs {
		if sub.covers(reg) {
			b.regs = append(b.regs, reg)
			l.Debugf("notify: watching %v (%v, %v) through %v", h, mask, mode, sub.handle)
			return nil
		}
	}

	var kept []registration
	for _, sub := range b.subs {
		if !reg.covers(sub) {
			kept = append(kept, sub)
		}
	}
	if len(kept) == len(b.subs) {
		// notify undoes a failed Watch itself; the channel is shared with
		// the earlier registrations so it must not be stopped here.
		if err := notifySubscribe(b.c, reg); err != nil {
			return notifyRegistrationError(h.Path(), err)
		}
	} else {
		// Subscriptions can only be stopped all at once, per channel.
		notify.Stop(b.c)
		if err := b.resubscribe(append(kept, reg)); err != nil {
			if rerr := b.resubscribe(b.subs); rerr != nil {
				l.Warnln("notify: restoring watches:", rerr)
			}
			return notifyRegistrationError(h.Path(), err)
		}
		l.Debugf("notify: %v replaces %d watches", h, len(b.subs)-len(kept))
	}

	b.regs = append(b.regs, reg)
	b.subs = append(kept, reg)
	l.Debugf("notify: watching %v (%v, %v)", h, mask, mode)
	return nil
}

func notifySubscribe(c chan notify.EventInfo, reg registration) error {
	watchPath := reg.handle.Path()
	if reg.recursive {
		watchPath = filepath.Join(watchPath, "...")
	}
	return notify.Watch(watchPath, c, notifyEventMask)
}

// resubscribe arms subs on the stopped channel, stopping it again if any
// of them fails.
func (b *notifyBackend) resubscribe(subs []registration) error {
	for _, sub := range subs {
		if err := notifySubscribe(b.c, sub); err != nil {
			notify.Stop(b.c)
			return err
		}
	}
	return nil
}

func notifyRegistrationError(path string, err error) error {
	if reachedWatchLimit(err) {
		err = fmt.Errorf("%w: %w", ErrWatchLimit, err)
	}
	return &RegistrationError{Path: path, Err: err}
}

func (b *notifyBackend) Watch(timeout time.Duration) error {
	if b.closed {
		return &WaitError{Backend: BackendNotify, Err: ErrClosed}
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	delivered := 0
	for {
		if len(b.c) == cap(b.c) {
			b.discard()
			l.Infoln("notify: event buffer overflowed, reporting watched roots as modified")
			delivered += deliverOverflow(b.in, b.regs)
		}

	drain:
		for {
			select {
			case ei := <-b.c:
				b.queue(ei)
			default:
				break drain
			}
		}
		delivered += b.flush()
		if delivered > 0 || timeout == 0 {
			return nil
		}

		select {
		case ei := <-b.c:
			b.queue(ei)
		case <-timer:
			return nil
		}
	}
}

func (b *notifyBackend) discard() {
	for {
		select {
		case <-b.c:
		default:
			return
		}
	}
}

func (b *notifyBackend) queue(ei notify.EventInfo) {
	path := ei.Path()
	h, err := b.fs.Handle(path)
	if err != nil {
		l.Debugln("notify: dropping event for", path, err)
		return
	}
	kind, ok := b.eventType(ei.Event(), path)
	if !ok || !b.regs.maskFor(h).Has(kind) {
		return
	}
	b.batch = append(b.batch, notifyEvent{h: h, ev: kind})
}

// flush delivers the queued events. The emulated recursive watches may
// report a file in a freshly watched directory as written before it is
// reported as created; such a creation is moved ahead of the changes to
// the same path queued before it.
func (b *notifyBackend) flush() int {
	b.batch = dropRepeatedRemovals(b.batch)
	createdFirst(b.batch)
	n := len(b.batch)
	for _, e := range b.batch {
		b.in.deliver(e.h, e.ev)
	}
	b.batch = b.batch[:0]
	return n
}

// dropRepeatedRemovals drops the removal of a path already removed earlier
// in the batch and not created since. A directory subscribed to itself is
// reported removed by its own watch and by its parent's.
func dropRepeatedRemovals(evs []notifyEvent) []notifyEvent {
	var kept []notifyEvent
	for _, e := range evs {
		if e.ev == Removed && removedIn(kept, e.h) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func removedIn(evs []notifyEvent, h fs.Handle) bool {
	for i := len(evs) - 1; i >= 0; i-- {
		if !evs[i].h.Equal(h) {
			continue
		}
		switch evs[i].ev {
		case Removed:
			return true
		case Created:
			return false
		}
	}
	return false
}

func createdFirst(evs []notifyEvent) {
	for i, e := range evs {
		if e.ev != Created {
			continue
		}
		to := i
		for j := i - 1; j >= 0; j-- {
			if !evs[j].h.Equal(e.h) {
				continue
			}
			if evs[j].ev != Modified && evs[j].ev != AttrChanged {
				break
			}
			to = j
		}
		copy(evs[to+1:i+1], evs[to:i])
		evs[to] = e
	}
}

// eventType maps a notify event. notify reports both halves of a rename as
// Rename, so which half this is is decided by whether the path exists now.
func (b *notifyBackend) eventType(e notify.Event, path string) (Event, bool) {
	switch {
	case e&notify.Create != 0:
		return Created, true
	case e&notify.Remove != 0:
		return Removed, true
	case e&notify.Rename != 0:
		if _, err := b.fs.Lstat(path); err == nil {
			return Created, true
		}
		return Removed, true
	case e&notify.Write != 0:
		return Modified, true
	case e&attrEventMask != 0:
		return AttrChanged, true
	}
	return 0, false
}

func (b *notifyBackend) Close() error {
	if b.closed {
		return nil
	}
	notify.Stop(b.c)
	b.closed = true
	b.regs = nil
	b.subs = nil
	b.batch = nil
	return nil
}

func (b *notifyBackend) resourceCount() int {
	return len(b.subs)
}
