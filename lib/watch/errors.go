// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMask     = errors.New("empty event mask")
	ErrForeignHandle = errors.New("handle does not belong to the watched filesystem")
	ErrWatchLimit    = errors.New("native watch limit reached, please increase inotify limits, see https://docs.syncthing.net/users/faq.html#inotify-limits")
	ErrBusy          = errors.New("watcher is inside Watch")
	ErrClosed        = errors.New("watcher is closed")
	ErrNoWatches     = errors.New("nothing is being watched")
	ErrUnavailable   = errors.New("backend not available on this platform")
)

// ConstructionError is returned by New when no backend could be created.
type ConstructionError struct {
	Backend BackendType
	Err     error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("creating %v watch backend: %v", e.Backend, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// RegistrationError is returned by Add. A failed Add leaves no trace in the
// backend.
type RegistrationError struct {
	Path string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("watching %s: %v", e.Path, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// WaitError is returned by Watch on a failure that retrying would not fix.
// Registrations made before it stay active.
type WaitError struct {
	Backend BackendType
	Err     error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for %v events: %v", e.Backend, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}
