// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"path/filepath"

	"github.com/syncthing/fswatch/lib/fs"
)

type registration struct {
	handle    fs.Handle
	mask      EventMask
	recursive bool // only ever set for directories
	dir       bool
}

// pathEvent is an event not yet turned into a handle.
type pathEvent struct {
	path string
	ev   Event
}

// registrationSet is the bookkeeping shared by all backends for deciding
// which events a path is subscribed to. Backends arm native watches as
// coarsely as the platform allows and filter through maskFor.
type registrationSet []registration

func newRegistration(h fs.Handle, mask EventMask, mode RecursiveMode, dir bool) registration {
	return registration{
		handle:    h,
		mask:      mask & AllEvents,
		recursive: mode == Recursive && dir,
		dir:       dir,
	}
}

// maskFor returns the union of the masks of all registrations covering h:
// the registered entry itself, direct entries of a registered directory and
// anything below a recursively registered directory.
func (s registrationSet) maskFor(h fs.Handle) EventMask {
	var mask EventMask
	var parent fs.Handle
	parentDone := false
	for _, r := range s {
		switch {
		case r.handle.Equal(h):
			mask |= r.mask
		case r.recursive && r.handle.Contains(h):
			mask |= r.mask
		case r.dir:
			if !parentDone {
				parent, _ = h.Parent()
				parentDone = true
			}
			if !parent.IsZero() && r.handle.Equal(parent) {
				mask |= r.mask
			}
		}
	}
	return mask
}

// covers reports whether a native watch armed for r alone already reports
// every change a watch armed for o would: the same entry, anything below a
// recursive directory, or a file directly within a directory.
func (r registration) covers(o registration) bool {
	switch {
	case r.handle.Equal(o.handle):
		return r.recursive || !o.recursive
	case r.recursive:
		return r.handle.Contains(o.handle)
	case r.dir && !o.dir:
		parent, _ := o.handle.Parent()
		return !parent.IsZero() && r.handle.Equal(parent)
	}
	return false
}

// armsDescendant reports whether a directory appearing at h must be watched
// because it lies below a recursive registration.
func (s registrationSet) armsDescendant(h fs.Handle) bool {
	for _, r := range s {
		if r.recursive && r.handle.Contains(h) && !r.handle.Equal(h) {
			return true
		}
	}
	return false
}

// isRoot reports whether h was registered explicitly.
func (s registrationSet) isRoot(h fs.Handle) bool {
	for _, r := range s {
		if r.handle.Equal(h) {
			return true
		}
	}
	return false
}

// rootsFor returns the registrations interested in ev, for reporting
// overflows.
func (s registrationSet) rootsFor(ev Event) []fs.Handle {
	var roots []fs.Handle
	for _, r := range s {
		if r.mask.Has(ev) {
			roots = append(roots, r.handle)
		}
	}
	return roots
}

// deliverOverflow reports lost events as one Modified on the handle of every
// registration interested in modifications, so callers know to rescan.
func deliverOverflow(in *intake, regs registrationSet) int {
	delivered := 0
	roots := regs.rootsFor(Modified)
	for i, h := range roots {
		dup := false
		for _, prev := range roots[:i] {
			if prev.Equal(h) {
				dup = true
				break
			}
		}
		if !dup {
			in.deliver(h, Modified)
			delivered++
		}
	}
	return delivered
}

// walkDirs calls fn for every directory strictly below root, parents before
// children. Symlinks are not followed. Directories that vanish during the
// walk are skipped.
func walkDirs(filesystem fs.Filesystem, root string, fn func(path string) error) error {
	names, err := filesystem.DirNames(root)
	if err != nil {
		return err
	}
	for _, name := range names {
		path := filepath.Join(root, name)
		info, err := filesystem.Lstat(path)
		if fs.IsNotExist(err) {
			continue
		} else if err != nil {
			return err
		}
		if !info.IsDir() || info.IsSymlink() {
			continue
		}
		if err := fn(path); err != nil {
			return err
		}
		if err := walkDirs(filesystem, path, fn); err != nil && !fs.IsNotExist(err) {
			return err
		}
	}
	return nil
}
