// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syncthing/fswatch/lib/fs"
)

func init() {
	registerBackend(BackendFsnotify, newFsnotifyBackend)
}

// fsnotifyBackend watches through fsnotify, which provides inotify, kqueue,
// ReadDirectoryChangesW and FEN behind one API. fsnotify does not recurse,
// so directories below recursive registrations are armed one by one.
type fsnotifyBackend struct {
	fs      fs.Filesystem
	w       *fsnotify.Watcher
	in      *intake
	regs    registrationSet
	watched map[string]bool // path => registered explicitly
	twin    pathEvent       // second report expected next for the same change
}

// On linux a change to a watched entry within a watched directory is
// reported twice in a row, by the entry's own watch and by its parent's.
// Creations are only ever seen by the parent.
var fsnotifyReportsTwice = runtime.GOOS == "linux"

func newFsnotifyBackend(filesystem fs.Filesystem, in *intake, opts Options) (Backend, error) {
	if err := requireNative(filesystem); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewBufferedWatcher(uint(max(opts.EventBufferSize, 0)))
	if err != nil {
		return nil, err
	}
	return &fsnotifyBackend{
		fs:      filesystem,
		w:       w,
		in:      in,
		watched: make(map[string]bool),
	}, nil
}

func (b *fsnotifyBackend) FS() fs.Filesystem {
	return b.fs
}

func (b *fsnotifyBackend) Add(h fs.Handle, mask EventMask, mode RecursiveMode) error {
	if err := checkRegistration(b.fs, h, mask); err != nil {
		return err
	}
	if b.w == nil {
		return &RegistrationError{Path: h.Path(), Err: ErrClosed}
	}
	info, err := b.fs.Stat(h.Path())
	if err != nil {
		return &RegistrationError{Path: h.Path(), Err: err}
	}
	reg := newRegistration(h, mask, mode, info.IsDir())

	root := h.Path()
	wasWatched, wasRoot := b.watched[root]
	var added []string
	rollback := func() {
		for _, path := range added {
			_ = b.w.Remove(path)
			delete(b.watched, path)
		}
		if wasWatched {
			b.watched[root] = wasRoot
		}
	}

	isNew, err := b.arm(root)
	if err != nil {
		return fsnotifyRegistrationError(root, err)
	}
	if isNew {
		added = append(added, root)
	}
	b.watched[root] = true

	if reg.recursive {
		err := walkDirs(b.fs, root, func(path string) error {
			isNew, err := b.arm(path)
			if isNew {
				added = append(added, path)
			}
			return err
		})
		if err != nil {
			rollback()
			return fsnotifyRegistrationError(root, err)
		}
	}

	b.regs = append(b.regs, reg)
	l.Debugf("fsnotify: watching %v (%v, %v), %d new watches", h, mask, mode, len(added))
	return nil
}

func fsnotifyRegistrationError(path string, err error) error {
	if reachedWatchLimit(err) {
		err = fmt.Errorf("%w: %w", ErrWatchLimit, err)
	}
	return &RegistrationError{Path: path, Err: err}
}

func (b *fsnotifyBackend) arm(path string) (bool, error) {
	if _, ok := b.watched[path]; ok {
		return false, nil
	}
	if err := b.w.Add(path); err != nil {
		return false, err
	}
	b.watched[path] = false
	return true, nil
}

// disarmBelow forgets the recursion watches at and below a path that went
// away. fsnotify already dropped most of them; Remove reports those as
// nonexistent.
func (b *fsnotifyBackend) disarmBelow(path string) {
	prefix := path + string(filepath.Separator)
	for p, root := range b.watched {
		if root {
			continue
		}
		if p == path || strings.HasPrefix(p, prefix) {
			if err := b.w.Remove(p); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
				l.Debugln("fsnotify: removing watch:", err)
			}
			delete(b.watched, p)
		}
	}
}

func (b *fsnotifyBackend) armTree(path string) {
	if _, err := b.arm(path); err != nil {
		l.Infoln("fsnotify: watching new directory:", err)
		return
	}
	err := walkDirs(b.fs, path, func(path string) error {
		_, err := b.arm(path)
		return err
	})
	if err != nil && !fs.IsNotExist(err) {
		l.Infoln("fsnotify: watching new directory:", err)
		return
	}
	l.Debugln("fsnotify: armed", path)
}

func (b *fsnotifyBackend) Watch(timeout time.Duration) error {
	if b.w == nil {
		return &WaitError{Backend: BackendFsnotify, Err: ErrClosed}
	}
	b.twin = pathEvent{}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	delivered := 0
	for {
		// Everything already queued is delivered in one go.
	drain:
		for {
			select {
			case ev, ok := <-b.w.Events:
				if !ok {
					return &WaitError{Backend: BackendFsnotify, Err: ErrClosed}
				}
				delivered += b.handle(ev)
			case err, ok := <-b.w.Errors:
				if !ok {
					return &WaitError{Backend: BackendFsnotify, Err: ErrClosed}
				}
				n, err := b.handleError(err)
				if err != nil {
					return &WaitError{Backend: BackendFsnotify, Err: err}
				}
				delivered += n
			default:
				break drain
			}
		}
		if delivered > 0 || timeout == 0 {
			return nil
		}

		select {
		case ev, ok := <-b.w.Events:
			if !ok {
				return &WaitError{Backend: BackendFsnotify, Err: ErrClosed}
			}
			delivered += b.handle(ev)
		case err, ok := <-b.w.Errors:
			if !ok {
				return &WaitError{Backend: BackendFsnotify, Err: ErrClosed}
			}
			n, err := b.handleError(err)
			if err != nil {
				return &WaitError{Backend: BackendFsnotify, Err: err}
			}
			delivered += n
		case <-timer:
			return nil
		}
	}
}

func (b *fsnotifyBackend) handleError(err error) (int, error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		l.Infoln("fsnotify: event queue overflowed, reporting watched roots as modified")
		return deliverOverflow(b.in, b.regs), nil
	}
	return 0, err
}

func (b *fsnotifyBackend) handle(ev fsnotify.Event) int {
	h, err := b.fs.Handle(ev.Name)
	if err != nil {
		l.Debugln("fsnotify: dropping event for", ev.Name, err)
		return 0
	}
	mask := b.regs.maskFor(h)

	delivered := 0
	for _, kind := range fsnotifyEventTypes(ev.Op) {
		if kind == Removed {
			b.disarmBelow(ev.Name)
		}

		c := pathEvent{path: ev.Name, ev: kind}
		if c == b.twin {
			b.twin = pathEvent{}
			continue
		}
		b.twin = pathEvent{}
		if kind != Created && b.watchedTwice(ev.Name) {
			b.twin = c
		}

		if mask.Has(kind) {
			b.in.deliver(h, kind)
			delivered++
		}

		if kind == Created && b.regs.armsDescendant(h) {
			if info, err := b.fs.Lstat(ev.Name); err == nil && info.IsDir() && !info.IsSymlink() {
				b.armTree(ev.Name)
			}
		}
	}
	return delivered
}

func (b *fsnotifyBackend) watchedTwice(path string) bool {
	if !fsnotifyReportsTwice {
		return false
	}
	if _, ok := b.watched[path]; !ok {
		return false
	}
	_, ok := b.watched[filepath.Dir(path)]
	return ok && filepath.Dir(path) != path
}

// fsnotifyEventTypes maps fsnotify operations, in the order they are to be
// reported. A rename is the removal of the old name; the new name arrives
// as a separate Create.
func fsnotifyEventTypes(op fsnotify.Op) []Event {
	var evs []Event
	if op.Has(fsnotify.Create) {
		evs = append(evs, Created)
	}
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		evs = append(evs, Removed)
	}
	if op.Has(fsnotify.Write) {
		evs = append(evs, Modified)
	}
	if op.Has(fsnotify.Chmod) {
		evs = append(evs, AttrChanged)
	}
	return evs
}

func (b *fsnotifyBackend) Close() error {
	if b.w == nil {
		return nil
	}
	err := b.w.Close()
	b.w = nil
	b.regs = nil
	b.watched = make(map[string]bool)
	return err
}

func (b *fsnotifyBackend) resourceCount() int {
	return len(b.watched)
}
