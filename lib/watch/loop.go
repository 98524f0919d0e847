// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syncthing/fswatch/lib/svcutil"
)

// Loop is a suture service driving a Watcher: it calls Watch with a bounded
// timeout until its context is cancelled, so cancellation is noticed within
// one timeout. With a negative WatchTimeoutMS it is only noticed after the
// next event; until then the watcher stays busy and cannot be closed.
type Loop struct {
	w       *Watcher
	timeout time.Duration
}

// NewLoop returns a Loop using the WatchTimeoutMS of the watcher's options.
func NewLoop(w *Watcher) *Loop {
	return &Loop{
		w:       w,
		timeout: w.opts.WatchTimeout(),
	}
}

func (lp *Loop) Serve(ctx context.Context) error {
	l.Debugln(lp, "starting")
	defer l.Debugln(lp, "exiting")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := lp.w.Watch(lp.timeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrClosed), errors.Is(err, ErrNoWatches):
			return svcutil.NoRestartErr(err)
		default:
			l.Infoln(lp, err)
			return err
		}
	}
}

func (lp *Loop) String() string {
	return fmt.Sprintf("watch loop for %v", lp.w)
}
