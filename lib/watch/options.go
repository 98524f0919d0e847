// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"time"

	"github.com/syncthing/fswatch/lib/util"
)

// Options configures a Watcher. Zero fields take the value of their default
// tag.
type Options struct {
	Backend         BackendType `default:"auto"`
	PollIntervalMS  int         `default:"250"`
	EventBufferSize int         `default:"500"`
	WatchTimeoutMS  int         `default:"1000"`
}

func (o *Options) setDefaults() {
	util.SetDefaults(o)
}

func (o Options) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// WatchTimeout is the bound on each Watch call made by a Loop. A negative
// value makes every call wait until there is something to deliver.
func (o Options) WatchTimeout() time.Duration {
	if o.WatchTimeoutMS < 0 {
		return -1
	}
	return time.Duration(o.WatchTimeoutMS) * time.Millisecond
}
