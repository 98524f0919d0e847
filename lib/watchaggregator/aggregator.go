// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watchaggregator collapses bursts of change events below a root
// into batches of changed paths, for consumers that rescan rather than act
// on every event.
package watchaggregator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syncthing/fswatch/lib/fs"
	"github.com/syncthing/fswatch/lib/watch"
)

// Not meant to be changed, but must be changeable for tests
var (
	maxFiles       = 512
	maxFilesPerDir = 128
)

// A Change is one aggregated path with the union of the events seen at or
// below it.
type Change struct {
	Path   string
	Events watch.EventMask
}

func (c Change) String() string {
	return c.Events.String() + " " + c.Path
}

// aggregatedEvent represents potentially multiple events at and/or recursively
// below one path until it times out and is reported.
type aggregatedEvent struct {
	firstModTime time.Time
	lastModTime  time.Time
	events       watch.EventMask
}

// removal reports whether the event involves a removal. Those are held back
// until they time out and are reported last.
func (ev *aggregatedEvent) removal() bool {
	return ev.events.Has(watch.Removed)
}

// Stores pointers to both aggregated events directly within this directory and
// child directories recursively containing aggregated events themselves.
type eventDir struct {
	events map[string]*aggregatedEvent
	dirs   map[string]*eventDir
}

func newEventDir() *eventDir {
	return &eventDir{
		events: make(map[string]*aggregatedEvent),
		dirs:   make(map[string]*eventDir),
	}
}

func (dir *eventDir) eventCount() int {
	count := len(dir.events)
	for _, dir := range dir.dirs {
		count += dir.eventCount()
	}
	return count
}

func (dir *eventDir) childCount() int {
	return len(dir.events) + len(dir.dirs)
}

func (dir *eventDir) firstModTime() time.Time {
	if dir.childCount() == 0 {
		panic("bug: firstModTime must not be used on empty eventDir")
	}
	firstModTime := time.Now()
	for _, childDir := range dir.dirs {
		dirTime := childDir.firstModTime()
		if dirTime.Before(firstModTime) {
			firstModTime = dirTime
		}
	}
	for _, event := range dir.events {
		if event.firstModTime.Before(firstModTime) {
			firstModTime = event.firstModTime
		}
	}
	return firstModTime
}

func (dir *eventDir) eventMask() watch.EventMask {
	if dir.childCount() == 0 {
		panic("bug: eventMask must not be used on empty eventDir")
	}
	var mask watch.EventMask
	for _, childDir := range dir.dirs {
		mask |= childDir.eventMask()
	}
	for _, event := range dir.events {
		mask |= event.events
	}
	return mask
}

// An Aggregator is a watch.Listener collecting the events below one root.
// Its Serve method reports the collected paths on the output channel once
// they have been quiet for the delay, or once they have been pending for
// the derived timeout. Changes without removals come first in a batch.
type Aggregator struct {
	root fs.Handle
	out  chan<- []Change

	// Time after which an event is reported when no modifications occur.
	notifyDelay time.Duration
	// Time after which an event is reported even though modifications occur.
	notifyTimeout time.Duration

	mut       sync.Mutex
	rootEvent *eventDir
}

// New returns an Aggregator for the events at or below root, reporting on
// out. Events elsewhere are dropped.
func New(root fs.Handle, delay time.Duration, out chan<- []Change) *Aggregator {
	return &Aggregator{
		root:          root,
		out:           out,
		notifyDelay:   delay,
		notifyTimeout: notifyTimeout(delay),
		rootEvent:     newEventDir(),
	}
}

func (a *Aggregator) OnFileEvent(h fs.Handle, ev watch.Event) {
	if !a.root.Contains(h) {
		l.Debugln(a, "Dropping event outside of root:", h)
		return
	}
	rel, err := filepath.Rel(a.root.Path(), h.Path())
	if err != nil {
		l.Debugln(a, "Dropping event:", err)
		return
	}

	a.mut.Lock()
	a.newEvent(rel, ev.Mask(), time.Now())
	a.mut.Unlock()
}

// newEvent records a change at the root relative name. Must be called with
// mut held.
func (a *Aggregator) newEvent(name string, mask watch.EventMask, evTime time.Time) {
	if _, ok := a.rootEvent.events["."]; ok {
		l.Debugln(a, "Will report entire root anyway; dropping:", name)
		return
	}
	a.aggregateEvent(name, mask, evTime)
}

func (a *Aggregator) aggregateEvent(name string, mask watch.EventMask, evTime time.Time) {
	rootEventDir := a.rootEvent
	if name == "." || rootEventDir.eventCount() == maxFiles {
		l.Debugln(a, "Report entire root")
		firstModTime := evTime
		if rootEventDir.childCount() != 0 {
			mask |= rootEventDir.eventMask()
			firstModTime = rootEventDir.firstModTime()
		}
		rootEventDir.dirs = make(map[string]*eventDir)
		rootEventDir.events = make(map[string]*aggregatedEvent)
		rootEventDir.events["."] = &aggregatedEvent{
			firstModTime: firstModTime,
			lastModTime:  evTime,
			events:       mask,
		}
		return
	}

	parentDir := rootEventDir

	// Check if any parent directory is already tracked or will exceed
	// events per directory limit bottom up
	pathSegments := strings.Split(filepath.ToSlash(name), "/")

	// As root dir cannot be further aggregated, allow up to maxFiles
	// children.
	localMaxFilesPerDir := maxFiles
	var currPath string
	for i, segment := range pathSegments[:len(pathSegments)-1] {
		currPath = filepath.Join(currPath, segment)

		if ev, ok := parentDir.events[segment]; ok {
			ev.lastModTime = evTime
			ev.events |= mask
			l.Debugf("%v Parent %s (%v) already tracked: %s", a, currPath, ev.events, name)
			return
		}

		if parentDir.childCount() == localMaxFilesPerDir {
			l.Debugf("%v Parent dir %s already has %d children, tracking it instead: %s", a, currPath, localMaxFilesPerDir, name)
			a.aggregateEvent(filepath.Dir(currPath), mask, evTime)
			return
		}

		// If there are no events below path, but we need to recurse
		// into that path, create eventDir at path.
		if newParent, ok := parentDir.dirs[segment]; ok {
			parentDir = newParent
		} else {
			l.Debugln(a, "Creating eventDir at:", currPath)
			newParent = newEventDir()
			parentDir.dirs[segment] = newParent
			parentDir = newParent
		}

		// Reset allowed children count to maxFilesPerDir for non-root
		if i == 0 {
			localMaxFilesPerDir = maxFilesPerDir
		}
	}

	base := pathSegments[len(pathSegments)-1]

	if ev, ok := parentDir.events[base]; ok {
		ev.lastModTime = evTime
		ev.events |= mask
		l.Debugf("%v Already tracked (%v): %s", a, ev.events, name)
		return
	}

	childDir, ok := parentDir.dirs[base]

	// If a dir existed at path, it would be removed from dirs, thus
	// childCount would not increase.
	if !ok && parentDir.childCount() == localMaxFilesPerDir {
		l.Debugf("%v Parent dir already has %d children, tracking it instead: %s", a, localMaxFilesPerDir, name)
		a.aggregateEvent(filepath.Dir(name), mask, evTime)
		return
	}

	firstModTime := evTime
	if ok {
		firstModTime = childDir.firstModTime()
		mask |= childDir.eventMask()
		delete(parentDir.dirs, base)
	}
	l.Debugf("%v Tracking (%v): %s", a, mask, name)
	parentDir.events[base] = &aggregatedEvent{
		firstModTime: firstModTime,
		lastModTime:  evTime,
		events:       mask,
	}
}

// Serve reports aggregated changes until ctx is cancelled.
func (a *Aggregator) Serve(ctx context.Context) error {
	l.Debugln(a, "Starting")
	defer l.Debugln(a, "Stopped")

	timer := time.NewTimer(a.notifyDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			timer.Reset(a.actOnTimer(ctx))
		case <-ctx.Done():
			return nil
		}
	}
}

// actOnTimer reports what is old enough and returns the delay until the
// next check.
func (a *Aggregator) actOnTimer(ctx context.Context) time.Duration {
	a.mut.Lock()
	batch := a.popOldEvents(time.Now())
	a.mut.Unlock()
	if len(batch) == 0 {
		return a.notifyDelay
	}

	timeBeforeSending := time.Now()
	l.Debugf("%v Notifying about %d changes", a, len(batch))
	select {
	case a.out <- batch:
	case <-ctx.Done():
		return a.notifyDelay
	}

	// If sending to channel blocked for a long time,
	// shorten next notifyDelay accordingly.
	duration := time.Since(timeBeforeSending)
	buffer := time.Millisecond
	switch {
	case duration < a.notifyDelay/10:
		return a.notifyDelay
	case duration+buffer > a.notifyDelay:
		return buffer
	default:
		return a.notifyDelay - duration
	}
}

// popOldEvents removes the events that are due and returns them as
// changes, those without removals first, each group sorted by path.
func (a *Aggregator) popOldEvents(currTime time.Time) []Change {
	old := make(map[string]*aggregatedEvent)
	a.popOldEventsIn(a.rootEvent, ".", currTime, old)

	batch := make([]Change, 0, len(old))
	for path, ev := range old {
		batch = append(batch, Change{Path: filepath.Join(a.root.Path(), path), Events: ev.events})
	}
	sort.Slice(batch, func(i, j int) bool {
		ri, rj := batch[i].Events.Has(watch.Removed), batch[j].Events.Has(watch.Removed)
		if ri != rj {
			return rj
		}
		return batch[i].Path < batch[j].Path
	})
	return batch
}

// popOldEventsIn finds events that should be reported recursively in dirs,
// removes those events and empty eventDirs and adds them to old, referenced
// by their path relative to the root.
func (a *Aggregator) popOldEventsIn(dir *eventDir, dirPath string, currTime time.Time, old map[string]*aggregatedEvent) {
	for childName, childDir := range dir.dirs {
		a.popOldEventsIn(childDir, filepath.Join(dirPath, childName), currTime, old)
		if childDir.childCount() == 0 {
			delete(dir.dirs, childName)
		}
	}
	for name, event := range dir.events {
		if a.isOld(event, currTime) {
			old[filepath.Join(dirPath, name)] = event
			delete(dir.events, name)
		}
	}
}

func (a *Aggregator) isOld(ev *aggregatedEvent, currTime time.Time) bool {
	// Removals should always be reported last, therefore they are always
	// delayed by letting them time out (see below).
	// An event that has not registered any new modifications recently is
	// reported. As checks happen at regular intervals of a.notifyDelay the
	// delay of a single event lies in the range of 0.5 to 1.5 times
	// a.notifyDelay.
	if !ev.removal() && 2*currTime.Sub(ev.lastModTime) > a.notifyDelay {
		return true
	}
	// When an event registers repeat modifications or involves removals it
	// is delayed, but after notifyTimeout it is reported anyway.
	return currTime.Sub(ev.firstModTime) > a.notifyTimeout
}

func (a *Aggregator) String() string {
	return fmt.Sprintf("aggregator/%s:", a.root.Path())
}

// Events that involve removals or continuously receive new modifications are
// delayed but must time out at some point. For short delays the timeout is 6
// times the delay, capped at 1 minute. For delays longer than 1 minute, the
// delay and timeout are equal.
func notifyTimeout(delay time.Duration) time.Duration {
	const (
		shortDelay              = 10 * time.Second
		shortDelayMultiplicator = 6
		longDelay               = time.Minute
	)
	if delay < shortDelay {
		return delay * shortDelayMultiplicator
	}
	if delay < longDelay {
		return longDelay
	}
	return delay
}
