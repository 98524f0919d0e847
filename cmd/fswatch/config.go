// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/syncthing/fswatch/lib/watch"
)

// A watchList file names the paths to watch, in YAML:
//
//	watches:
//	  - path: /srv/data
//	    recursive: true
//	  - path: /etc/app.conf
//	    events: modified,attr
type watchList struct {
	Watches []watchEntry `json:"watches"`
}

type watchEntry struct {
	Path      string          `json:"path"`
	Events    watch.EventMask `json:"events,omitempty"`
	Recursive bool            `json:"recursive,omitempty"`
}

func (e watchEntry) mode() watch.RecursiveMode {
	if e.Recursive {
		return watch.Recursive
	}
	return watch.NonRecursive
}

var errNothingToWatch = errors.New("no paths given on the command line or in a watch list")

// loadWatchList reads the watch list at path. Relative paths in it are
// relative to the directory of the file, and entries without events get
// defEvents.
func loadWatchList(path string, defEvents watch.EventMask) ([]watchEntry, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list watchList
	if err := yaml.UnmarshalStrict(bs, &list); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range list.Watches {
		e := &list.Watches[i]
		if e.Path == "" {
			return nil, fmt.Errorf("%s: watch %d has no path", path, i+1)
		}
		if !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(base, e.Path)
		}
		if e.Events == 0 {
			e.Events = defEvents
		}
	}
	return list.Watches, nil
}

// watchEntries merges the paths given as arguments with those of the watch
// list, if any.
func (params cli) watchEntries() ([]watchEntry, error) {
	var entries []watchEntry
	for _, path := range params.Paths {
		entries = append(entries, watchEntry{Path: path, Events: params.Events, Recursive: params.Recursive})
	}
	if params.WatchList != "" {
		listed, err := loadWatchList(params.WatchList, params.Events)
		if err != nil {
			return nil, err
		}
		entries = append(entries, listed...)
	}
	if len(entries) == 0 {
		return nil, errNothingToWatch
	}
	return entries, nil
}
