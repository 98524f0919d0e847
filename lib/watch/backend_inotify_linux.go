// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package watch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/syncthing/fswatch/lib/fs"
)

func init() {
	registerBackend(BackendInotify, newInotifyBackend)
}

// Every watch is armed with the same mask; what a registration asked for is
// applied when delivering. IN_CREATE, IN_MOVED_* and IN_DELETE are needed
// for recursive bookkeeping regardless.
const inotifyMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MOVED_FROM |
	unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_MOVE_SELF |
	unix.IN_MODIFY | unix.IN_ATTRIB

const inotifyMaxEventSize = unix.SizeofInotifyEvent + unix.NAME_MAX + 1

type inotifyBackend struct {
	fs     fs.Filesystem
	in     *intake
	fd     int
	buf    []byte
	regs   registrationSet
	byWd   map[int]*inotifyWatch
	byPath map[string]*inotifyWatch
	prev   inotifyRaw // last event read, for pairing a parent's report with the child's
}

type inotifyRaw struct {
	wd   int
	mask uint32
	name string
}

type inotifyWatch struct {
	wd   int
	path string
	root bool // registered explicitly, as opposed to armed for recursion
}

func newInotifyBackend(filesystem fs.Filesystem, in *intake, opts Options) (Backend, error) {
	if err := requireNative(filesystem); err != nil {
		return nil, err
	}
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		if reachedWatchLimit(err) {
			return nil, fmt.Errorf("inotify_init1: %w: %w", ErrWatchLimit, err)
		}
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	return &inotifyBackend{
		fs:     filesystem,
		in:     in,
		fd:     fd,
		buf:    make([]byte, max(opts.EventBufferSize, 1)*inotifyMaxEventSize),
		byWd:   make(map[int]*inotifyWatch),
		byPath: make(map[string]*inotifyWatch),
	}, nil
}

func (b *inotifyBackend) FS() fs.Filesystem {
	return b.fs
}

func (b *inotifyBackend) Add(h fs.Handle, mask EventMask, mode RecursiveMode) error {
	if err := checkRegistration(b.fs, h, mask); err != nil {
		return err
	}
	if b.fd < 0 {
		return &RegistrationError{Path: h.Path(), Err: ErrClosed}
	}
	info, err := b.fs.Stat(h.Path())
	if err != nil {
		return &RegistrationError{Path: h.Path(), Err: err}
	}
	reg := newRegistration(h, mask, mode, info.IsDir())

	var armed []*inotifyWatch
	var promoted *inotifyWatch
	rollback := func() {
		for _, w := range armed {
			b.disarm(w)
		}
		if promoted != nil {
			promoted.root = false
		}
	}

	w, isNew, err := b.arm(h.Path())
	if err != nil {
		return inotifyRegistrationError(h.Path(), err)
	}
	if isNew {
		armed = append(armed, w)
	} else if !w.root {
		promoted = w
	}
	w.root = true

	if reg.recursive {
		err := walkDirs(b.fs, h.Path(), func(path string) error {
			w, isNew, err := b.arm(path)
			if err != nil {
				return err
			}
			if isNew {
				armed = append(armed, w)
			}
			return nil
		})
		if err != nil {
			rollback()
			return inotifyRegistrationError(h.Path(), err)
		}
	}

	b.regs = append(b.regs, reg)
	l.Debugf("inotify: watching %v (%v, %v), %d new watches", h, mask, mode, len(armed))
	return nil
}

func inotifyRegistrationError(path string, err error) error {
	if reachedWatchLimit(err) {
		err = fmt.Errorf("%w: %w", ErrWatchLimit, err)
	}
	return &RegistrationError{Path: path, Err: err}
}

// arm adds a watch for path, or finds the existing one for the same inode
// and updates its path.
func (b *inotifyBackend) arm(path string) (*inotifyWatch, bool, error) {
	wd, err := unix.InotifyAddWatch(b.fd, path, inotifyMask)
	if err != nil {
		return nil, false, &os.PathError{Op: "inotify_add_watch", Path: path, Err: err}
	}
	if w, ok := b.byWd[wd]; ok {
		if w.path != path {
			delete(b.byPath, w.path)
			w.path = path
			b.byPath[path] = w
		}
		return w, false, nil
	}
	w := &inotifyWatch{wd: wd, path: path}
	b.byWd[wd] = w
	b.byPath[path] = w
	return w, true, nil
}

func (b *inotifyBackend) disarm(w *inotifyWatch) {
	// Fails with EINVAL when the kernel already dropped the watch.
	_, _ = unix.InotifyRmWatch(b.fd, uint32(w.wd))
	b.forget(w)
}

func (b *inotifyBackend) forget(w *inotifyWatch) {
	delete(b.byWd, w.wd)
	if b.byPath[w.path] == w {
		delete(b.byPath, w.path)
	}
}

// disarmBelow drops the recursion watches of a directory that went away
// and of everything below it.
func (b *inotifyBackend) disarmBelow(path string) {
	prefix := path + string(filepath.Separator)
	for p, w := range b.byPath {
		if w.root {
			continue
		}
		if p == path || strings.HasPrefix(p, prefix) {
			b.disarm(w)
		}
	}
}

// armTree watches a directory that appeared below a recursive registration,
// and the directories already within it. Entries created before the watch
// was in place are not reported.
func (b *inotifyBackend) armTree(path string) {
	if _, _, err := b.arm(path); err != nil {
		l.Infoln("inotify: watching new directory:", err)
		return
	}
	err := walkDirs(b.fs, path, func(path string) error {
		_, _, err := b.arm(path)
		return err
	})
	if err != nil && !fs.IsNotExist(err) {
		l.Infoln("inotify: watching new directory:", err)
		return
	}
	l.Debugln("inotify: armed", path)
}

func (b *inotifyBackend) Watch(timeout time.Duration) error {
	if b.fd < 0 {
		return &WaitError{Backend: BackendInotify, Err: ErrClosed}
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		delivered, err := b.drain()
		if err != nil {
			return &WaitError{Backend: BackendInotify, Err: err}
		}
		if delivered > 0 {
			return nil
		}

		ms := -1
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
		if _, err := unix.Poll(fds, ms); err != nil && !errors.Is(err, unix.EINTR) {
			return &WaitError{Backend: BackendInotify, Err: fmt.Errorf("poll: %w", err)}
		}
	}
}

// drain reads and handles events until the queue is empty.
func (b *inotifyBackend) drain() (int, error) {
	delivered := 0
	for {
		n, err := unix.Read(b.fd, b.buf)
		switch {
		case errors.Is(err, unix.EAGAIN):
			return delivered, nil
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return delivered, fmt.Errorf("read: %w", err)
		case n < unix.SizeofInotifyEvent:
			return delivered, fmt.Errorf("short read from inotify (%d bytes)", n)
		}
		delivered += b.process(b.buf[:n])
	}
}

func (b *inotifyBackend) process(buf []byte) int {
	delivered := 0
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		start := offset + unix.SizeofInotifyEvent
		offset = start + int(raw.Len)

		var name string
		if raw.Len > 0 {
			nameBytes := buf[start:offset]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}
			name = string(nameBytes)
		}
		delivered += b.handle(int(raw.Wd), raw.Mask, name)
		b.prev = inotifyRaw{wd: int(raw.Wd), mask: raw.Mask, name: name}
	}
	return delivered
}

func (b *inotifyBackend) handle(wd int, mask uint32, name string) int {
	if mask&unix.IN_Q_OVERFLOW != 0 {
		l.Infoln("inotify: event queue overflowed, reporting watched roots as modified")
		return deliverOverflow(b.in, b.regs)
	}

	w, ok := b.byWd[wd]
	if !ok {
		// Late event for a watch removed by a rollback or disarm.
		return 0
	}
	if mask&unix.IN_IGNORED != 0 {
		b.forget(w)
		return 0
	}

	self := name == ""
	if self && (!w.root || b.reportedByParent(w, mask)) {
		return 0
	}
	ev, ok := inotifyEventType(mask)
	if !ok {
		return 0
	}
	path := w.path
	if !self {
		path = filepath.Join(w.path, name)
	}
	h, err := b.fs.Handle(path)
	if err != nil {
		l.Debugln("inotify: dropping event for", path, err)
		return 0
	}

	isDir := mask&unix.IN_ISDIR != 0
	if ev == Removed && isDir && !self {
		b.disarmBelow(path)
	}

	delivered := 0
	if b.regs.maskFor(h).Has(ev) {
		b.in.deliver(h, ev)
		delivered++
	}

	if ev == Created && isDir && b.regs.armsDescendant(h) {
		b.armTree(path)
	}
	return delivered
}

// reportedByParent is whether the watch on the parent directory reports
// this change to a watched entry as well, under the entry's name. The
// kernel queues the parent's event first. Removals of the entry itself
// are left to the parent whenever it is watched; they may arrive much
// later, when the last reference to the inode goes away.
func (b *inotifyBackend) reportedByParent(w *inotifyWatch, mask uint32) bool {
	parent, ok := b.byPath[filepath.Dir(w.path)]
	if !ok || parent == w {
		return false
	}
	if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		return true
	}
	return b.prev.wd == parent.wd && b.prev.name == filepath.Base(w.path) &&
		b.prev.mask&mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0
}

func inotifyEventType(mask uint32) (Event, bool) {
	switch {
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		return Created, true
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF|unix.IN_MOVED_FROM|unix.IN_MOVE_SELF) != 0:
		return Removed, true
	case mask&unix.IN_MODIFY != 0:
		return Modified, true
	case mask&unix.IN_ATTRIB != 0:
		return AttrChanged, true
	}
	return 0, false
}

func (b *inotifyBackend) Close() error {
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	b.regs = nil
	b.byWd = make(map[int]*inotifyWatch)
	b.byPath = make(map[string]*inotifyWatch)
	b.prev = inotifyRaw{}
	return err
}

// resourceCount is the inotify instance plus one per kernel watch.
func (b *inotifyBackend) resourceCount() int {
	if b.fd < 0 {
		return 0
	}
	return 1 + len(b.byWd)
}
