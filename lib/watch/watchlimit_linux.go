// Copyright (C) 2019 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build linux

package watch

import (
	"errors"
	"syscall"
)

// reachedWatchLimit reports whether err is the kernel refusing another
// watch (EMFILE for inotify instances, ENOSPC for max_user_watches).
func reachedWatchLimit(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EMFILE || errno == syscall.ENOSPC
	}
	return false
}
