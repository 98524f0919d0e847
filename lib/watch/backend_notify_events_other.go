// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !linux && !ios && !(solaris && !cgo) && !(darwin && !cgo) && !(darwin && !kqueue)

package watch

import "github.com/syncthing/notify"

// Attribute changes are not portable beyond inotify and FSEvents.
const attrEventMask notify.Event = 0
