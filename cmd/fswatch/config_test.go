// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/syncthing/fswatch/lib/watch"
)

func writeWatchList(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "watches.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWatchList(t *testing.T) {
	dir := tempDir(t)
	path := writeWatchList(t, dir, `
watches:
  - path: /abs/data
    recursive: true
  - path: rel
    events: modified,attr
`)

	entries, err := loadWatchList(path, watch.Mask(watch.Created))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %v", entries)
	}

	if filepath.IsAbs("/abs/data") && entries[0].Path != "/abs/data" {
		t.Errorf("absolute path changed to %s", entries[0].Path)
	}
	if entries[0].Events != watch.Mask(watch.Created) {
		t.Errorf("missing events not defaulted, got %v", entries[0].Events)
	}
	if entries[0].mode() != watch.Recursive {
		t.Errorf("expected recursive, got %v", entries[0].mode())
	}

	if exp := filepath.Join(dir, "rel"); entries[1].Path != exp {
		t.Errorf("relative path resolved to %s, expected %s", entries[1].Path, exp)
	}
	if entries[1].Events != watch.Mask(watch.Modified, watch.AttrChanged) {
		t.Errorf("unexpected events %v", entries[1].Events)
	}
	if entries[1].mode() != watch.NonRecursive {
		t.Errorf("expected non-recursive, got %v", entries[1].mode())
	}
}

func TestLoadWatchListErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field": "watches:\n  - path: /x\n    recurse: true\n",
		"bad events":    "watches:\n  - path: /x\n    events: exploded\n",
		"no path":       "watches:\n  - recursive: true\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeWatchList(t, tempDir(t), content)
			if _, err := loadWatchList(path, watch.AllEvents); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWatchEntriesMergesArguments(t *testing.T) {
	dir := tempDir(t)
	params := cli{
		Paths:     []string{filepath.Join(dir, "arg")},
		Events:    watch.Mask(watch.Removed),
		Recursive: true,
		WatchList: writeWatchList(t, dir, "watches:\n  - path: listed\n"),
	}
	entries, err := params.watchEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %v", entries)
	}
	if entries[0].Path != params.Paths[0] || entries[0].mode() != watch.Recursive {
		t.Errorf("unexpected argument entry %+v", entries[0])
	}
	if entries[1].Path != filepath.Join(dir, "listed") || entries[1].Events != params.Events {
		t.Errorf("unexpected listed entry %+v", entries[1])
	}
}

func TestNothingToWatch(t *testing.T) {
	if _, err := (cli{Events: watch.AllEvents}).watchEntries(); !errors.Is(err, errNothingToWatch) {
		t.Errorf("expected errNothingToWatch, got %v", err)
	}
}
