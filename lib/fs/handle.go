// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/unicode/norm"
)

const canonicalCacheSize = 4096

// canonicalCache maps cleaned paths to their comparison key. Watch backends
// construct a handle per delivered event, usually for the same few paths.
var canonicalCache *lru.Cache[string, string]

func init() {
	var err error
	canonicalCache, err = lru.New[string, string](canonicalCacheSize)
	if err != nil {
		panic("bug: " + err.Error())
	}
}

// A Handle identifies a path on a given Filesystem. The zero Handle
// identifies nothing. Handles are values; two handles are Equal when they
// belong to the same filesystem and their paths are the same after
// cleaning and Unicode normalization.
type Handle struct {
	fs   Filesystem
	path string
	key  string
}

// newHandle is used by Filesystem implementations once they have decided
// that they own path.
func newHandle(fs Filesystem, path string) Handle {
	path = filepath.Clean(path)
	return Handle{
		fs:   fs,
		path: path,
		key:  canonicalKey(path),
	}
}

func canonicalKey(path string) string {
	if key, ok := canonicalCache.Get(path); ok {
		return key
	}
	key := norm.NFC.String(path)
	canonicalCache.Add(path, key)
	return key
}

// FS returns the filesystem the handle belongs to.
func (h Handle) FS() Filesystem {
	return h.fs
}

// Path returns the native path, usable with the methods of FS().
func (h Handle) Path() string {
	return h.path
}

// Name returns the last element of the path.
func (h Handle) Name() string {
	return filepath.Base(h.path)
}

func (h Handle) IsZero() bool {
	return h.fs == nil
}

func (h Handle) Equal(other Handle) bool {
	return h.fs == other.fs && h.key == other.key
}

// IsDir is shorthand for h.FS().IsDir(h).
func (h Handle) IsDir() bool {
	if h.fs == nil {
		return false
	}
	return h.fs.IsDir(h)
}

// Join returns the handle for the named child of h.
func (h Handle) Join(name string) (Handle, error) {
	return h.fs.Handle(filepath.Join(h.path, name))
}

// Parent returns the handle of the containing directory. The parent of a
// filesystem root is ErrNotOwned.
func (h Handle) Parent() (Handle, error) {
	dir := filepath.Dir(h.path)
	if dir == h.path {
		return Handle{}, ErrNotOwned
	}
	return h.fs.Handle(dir)
}

// Contains reports whether other is h itself or lies below it.
func (h Handle) Contains(other Handle) bool {
	if h.fs != other.fs {
		return false
	}
	if h.key == other.key {
		return true
	}
	prefix := h.key
	if len(prefix) == 0 || prefix[len(prefix)-1] != PathSeparator {
		prefix += string(PathSeparator)
	}
	return len(other.key) > len(prefix) && other.key[:len(prefix)] == prefix
}

func (h Handle) String() string {
	if h.fs == nil {
		return "<none>"
	}
	return h.fs.Type().String() + ":" + h.path
}
