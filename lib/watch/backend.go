// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"fmt"
	"sort"
	"time"

	"github.com/syncthing/fswatch/lib/fs"
)

// A Backend performs the platform specific part of watching: it arms native
// watches for registrations and blocks in Watch until the operating system
// reports changes, which it hands to the intake it was created with.
//
// Backends are not safe for concurrent use; the Watcher owning one makes
// sure it is driven from one call at a time.
type Backend interface {
	// FS returns the filesystem all handles passed to Add must belong to.
	FS() fs.Filesystem

	// Add arms native watches for h. On error nothing armed by the call is
	// left behind.
	Add(h fs.Handle, mask EventMask, mode RecursiveMode) error

	// Watch delivers every pending event, or waits up to timeout for one to
	// arrive and delivers it. A negative timeout waits forever; a zero
	// timeout only delivers what is already pending.
	Watch(timeout time.Duration) error

	// Close releases all native resources. Calling it again is a no-op.
	Close() error
}

// resourceCounter is implemented by backends that can tell how many native
// resources (descriptors, watch descriptors, subscriptions) they hold.
type resourceCounter interface {
	resourceCount() int
}

// BackendType names a backend implementation.
type BackendType int

const (
	BackendAuto BackendType = iota // platform default
	BackendInotify
	BackendFsnotify
	BackendNotify
	BackendPoll
)

func (t BackendType) String() string {
	switch t {
	case BackendAuto:
		return "auto"
	case BackendInotify:
		return "inotify"
	case BackendFsnotify:
		return "fsnotify"
	case BackendNotify:
		return "notify"
	case BackendPoll:
		return "poll"
	default:
		return "unknown"
	}
}

func (t BackendType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *BackendType) UnmarshalText(bs []byte) error {
	switch string(bs) {
	case "auto", "":
		*t = BackendAuto
	case "inotify":
		*t = BackendInotify
	case "fsnotify":
		*t = BackendFsnotify
	case "notify":
		*t = BackendNotify
	case "poll":
		*t = BackendPoll
	default:
		return fmt.Errorf("unknown watch backend %q", bs)
	}
	return nil
}

func (t *BackendType) ParseDefault(s string) error {
	return t.UnmarshalText([]byte(s))
}

// backendFactory creates a backend delivering into in. The factory must not
// retain in anywhere but the returned backend.
type backendFactory func(filesystem fs.Filesystem, in *intake, opts Options) (Backend, error)

var backends = map[BackendType]backendFactory{}

func registerBackend(t BackendType, factory backendFactory) {
	if _, ok := backends[t]; ok {
		panic(fmt.Sprintf("bug: backend %v registered twice", t))
	}
	backends[t] = factory
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []BackendType {
	types := make([]BackendType, 0, len(backends))
	for t := range backends {
		types = append(types, t)
	}
	sort.Slice(types, func(a, b int) bool { return types[a] < types[b] })
	return types
}

// resolveBackend turns BackendAuto into a concrete type. Native backends
// only understand real paths, so other filesystems are always polled.
func resolveBackend(t BackendType, filesystem fs.Filesystem) BackendType {
	if t != BackendAuto {
		return t
	}
	if filesystem.Type() != fs.FilesystemTypeBasic {
		return BackendPoll
	}
	if _, ok := backends[defaultBackend]; ok {
		return defaultBackend
	}
	return BackendPoll
}

// requireNative is used by factories of backends that pass paths to the
// operating system.
func requireNative(filesystem fs.Filesystem) error {
	if filesystem.Type() != fs.FilesystemTypeBasic {
		return fmt.Errorf("%v filesystem is not backed by native paths", filesystem.Type())
	}
	return nil
}

// checkRegistration holds the preconditions every backend applies to Add
// before touching native resources.
func checkRegistration(filesystem fs.Filesystem, h fs.Handle, mask EventMask) error {
	if h.IsZero() || h.FS() != filesystem {
		return &RegistrationError{Path: h.Path(), Err: ErrForeignHandle}
	}
	if mask&AllEvents == 0 {
		return &RegistrationError{Path: h.Path(), Err: ErrEmptyMask}
	}
	return nil
}
