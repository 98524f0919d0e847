// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watchaggregator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/syncthing/fswatch/lib/fs"
	"github.com/syncthing/fswatch/lib/watch"
)

func TestMain(m *testing.M) {
	maxFiles = 32
	maxFilesPerDir = 8

	ret := m.Run()

	maxFiles = 512
	maxFilesPerDir = 128

	os.Exit(ret)
}

const testNotifyDelay = time.Second

var (
	testFS   = fs.NewFakeFilesystem()
	rootPath = filepath.Join(string(fs.PathSeparator), "home", "someuser", "data")
)

func newTestAggregator(t *testing.T, out chan<- []Change) *Aggregator {
	t.Helper()
	root, err := testFS.Handle(rootPath)
	if err != nil {
		t.Fatal(err)
	}
	return New(root, testNotifyDelay, out)
}

// event records ev at the root relative name, at time at.
func event(a *Aggregator, name string, ev watch.Event, at time.Time) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.newEvent(filepath.Clean(name), ev.Mask(), at)
}

func getEventPaths(dir *eventDir, dirPath string) []string {
	var paths []string
	for childName, childDir := range dir.dirs {
		paths = append(paths, getEventPaths(childDir, filepath.Join(dirPath, childName))...)
	}
	for name := range dir.events {
		paths = append(paths, filepath.Join(dirPath, name))
	}
	sort.Strings(paths)
	return paths
}

func compareBatchToExpectedDirect(t *testing.T, batch []string, expectedPaths []string) {
	t.Helper()
	sort.Strings(expectedPaths)
	if len(batch) != len(expectedPaths) {
		t.Errorf("Received %v, expected %v", batch, expectedPaths)
		return
	}
	for i := range batch {
		if batch[i] != filepath.Clean(expectedPaths[i]) {
			t.Errorf("Received %v, expected %v", batch, expectedPaths)
			return
		}
	}
}

// TestAggregate checks whether maxFilesPerDir+1 events in one dir are
// aggregated to parent dir
func TestAggregate(t *testing.T) {
	now := time.Now()

	a := newTestAggregator(t, nil)
	// checks whether maxFilesPerDir events in one dir are kept as is
	for i := 0; i < maxFilesPerDir; i++ {
		event(a, filepath.Join("parent", strconv.Itoa(i)), watch.Created, now)
	}
	if l := len(getEventPaths(a.rootEvent, ".")); l != maxFilesPerDir {
		t.Errorf("Unexpected number of events stored, got %v, expected %v", l, maxFilesPerDir)
	}

	// checks whether maxFilesPerDir+1 events in one dir are aggregated to parent dir
	event(a, filepath.Join("parent", "new"), watch.Created, now)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"parent"})

	// checks that adding an event below "parent" does not change anything
	event(a, filepath.Join("parent", "extra"), watch.Modified, now)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"parent"})
	if mask := a.rootEvent.events["parent"].events; mask != watch.Mask(watch.Created, watch.Modified) {
		t.Errorf("Events below parent not merged, got %v", mask)
	}

	// again test aggregation in "parent" but with event in subdirs
	a = newTestAggregator(t, nil)
	for i := 0; i < maxFilesPerDir; i++ {
		event(a, filepath.Join("parent", strconv.Itoa(i)), watch.Created, now)
	}
	event(a, filepath.Join("parent", "sub", "new"), watch.Created, now)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"parent"})

	// test aggregation in root
	a = newTestAggregator(t, nil)
	for i := 0; i < maxFiles; i++ {
		event(a, strconv.Itoa(i), watch.Created, now)
	}
	if len(getEventPaths(a.rootEvent, ".")) != maxFiles {
		t.Errorf("Unexpected number of events stored in root")
	}
	event(a, filepath.Join("parent", "sub", "new"), watch.Created, now)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"."})

	// checks that events arriving when "." is already stored are dropped
	h, err := testFS.Handle(filepath.Join(rootPath, "anythingelse"))
	if err != nil {
		t.Fatal(err)
	}
	a.OnFileEvent(h, watch.Removed)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"."})

	a = newTestAggregator(t, nil)
	filesPerDir := maxFilesPerDir / 2
	for d := 0; d < maxFiles/filesPerDir+1; d++ {
		for i := 0; i < filesPerDir; i++ {
			event(a, filepath.Join("dir"+strconv.Itoa(d), strconv.Itoa(i)), watch.Created, now)
		}
	}
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"."})
}

func TestEventsOutsideRootDropped(t *testing.T) {
	a := newTestAggregator(t, nil)
	for _, path := range []string{
		filepath.Join(string(fs.PathSeparator), "home", "someuser", "other"),
		filepath.Join(string(fs.PathSeparator), "home", "someuser", "data2", "file"),
	} {
		h, err := testFS.Handle(path)
		if err != nil {
			t.Fatal(err)
		}
		a.OnFileEvent(h, watch.Created)
	}
	if paths := getEventPaths(a.rootEvent, "."); len(paths) != 0 {
		t.Errorf("Unexpected events %v", paths)
	}

	h, err := testFS.Handle(filepath.Join(rootPath, "inside"))
	if err != nil {
		t.Fatal(err)
	}
	a.OnFileEvent(h, watch.Created)
	compareBatchToExpectedDirect(t, getEventPaths(a.rootEvent, "."), []string{"inside"})
}

// TestDelay checks that recurring changes to the same path are delayed and
// that removals are held back and reported last.
func TestDelay(t *testing.T) {
	start := time.Now()
	at := func(ms int) time.Time {
		return start.Add(time.Duration(ms) * time.Millisecond)
	}

	a := newTestAggregator(t, nil)
	file := filepath.Join("parent", "file")
	event(a, file, watch.Created, at(0))
	event(a, "busy", watch.Modified, at(0))
	event(a, "deleted", watch.Removed, at(0))
	event(a, filepath.Join("parent", "sub", "both"), watch.Created, at(0))
	event(a, filepath.Join("parent", "sub", "both"), watch.Removed, at(0))

	// "busy" keeps changing, "parent/file" has been quiet for long enough.
	for ms := 200; ms <= 5800; ms += 200 {
		event(a, "busy", watch.Modified, at(ms))
	}
	batch := a.popOldEvents(at(600))
	expectChanges(t, batch, []Change{
		{Path: filepath.Join(rootPath, file), Events: watch.Mask(watch.Created)},
	})

	// After the timeout everything is reported, removals last.
	batch = a.popOldEvents(at(6001))
	expectChanges(t, batch, []Change{
		{Path: filepath.Join(rootPath, "busy"), Events: watch.Mask(watch.Modified)},
		{Path: filepath.Join(rootPath, "deleted"), Events: watch.Mask(watch.Removed)},
		{Path: filepath.Join(rootPath, "parent", "sub", "both"), Events: watch.Mask(watch.Created, watch.Removed)},
	})

	if paths := getEventPaths(a.rootEvent, "."); len(paths) != 0 {
		t.Errorf("Events left after reporting: %v", paths)
	}
}

func expectChanges(t *testing.T, got, exp []Change) {
	t.Helper()
	if len(got) != len(exp) {
		t.Fatalf("Received %v, expected %v", got, exp)
	}
	for i := range got {
		if got[i] != exp[i] {
			t.Errorf("Change %d is %v, expected %v", i, got[i], exp[i])
		}
	}
}

func TestServeReports(t *testing.T) {
	out := make(chan []Change)
	root, err := testFS.Handle(rootPath)
	if err != nil {
		t.Fatal(err)
	}
	a := New(root, 20*time.Millisecond, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	h, err := root.Join("file")
	if err != nil {
		t.Fatal(err)
	}
	a.OnFileEvent(h, watch.Created)
	a.OnFileEvent(h, watch.Modified)

	select {
	case batch := <-out:
		expectChanges(t, batch, []Change{
			{Path: h.Path(), Events: watch.Mask(watch.Created, watch.Modified)},
		})
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for batch")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
}

func TestNotifyTimeout(t *testing.T) {
	cases := []struct {
		delay, timeout time.Duration
	}{
		{time.Second, 6 * time.Second},
		{9 * time.Second, 54 * time.Second},
		{10 * time.Second, time.Minute},
		{2 * time.Minute, 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := notifyTimeout(tc.delay); got != tc.timeout {
			t.Errorf("notifyTimeout(%v) = %v, expected %v", tc.delay, got, tc.timeout)
		}
	}
}
