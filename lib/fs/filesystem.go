// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at http://mozilla.org/MPL/2.0/.

package fs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// The Filesystem interface abstracts access to the file system. All names
// are native paths; a Filesystem may restrict which of them it owns (see
// Handle).
type Filesystem interface {
	Chmod(name string, mode FileMode) error
	Chtimes(name string, atime time.Time, mtime time.Time) error
	Create(name string) (File, error)
	DirNames(name string) ([]string, error)
	Lstat(name string) (FileInfo, error)
	Mkdir(name string, perm FileMode) error
	MkdirAll(name string, perm FileMode) error
	OpenAppend(name string) (File, error)
	Remove(name string) error
	RemoveAll(name string) error
	Rename(oldname, newname string) error
	Stat(name string) (FileInfo, error)
	Type() FilesystemType
	URI() string

	// Handle returns the handle identifying name on this filesystem, or
	// ErrNotOwned if name lies outside of it.
	Handle(name string) (Handle, error)
	// IsDir reports whether h denotes an existing directory, following
	// symlinks. Handles of other filesystems are never directories.
	IsDir(h Handle) bool
}

// The File interface abstracts writing to a file.
type File interface {
	io.Closer
	io.Writer
	Name() string
	Truncate(size int64) error
}

// The FileInfo interface is almost the same as os.FileInfo, but with the
// Sys method removed (as we don't want to expose whatever is underlying)
// and with a couple of convenience methods added.
type FileInfo interface {
	Name() string
	Mode() FileMode
	Size() int64
	ModTime() time.Time
	IsDir() bool
	IsRegular() bool
	IsSymlink() bool
}

// FileMode is similar to os.FileMode
type FileMode uint32

func (fm FileMode) String() string {
	return os.FileMode(fm).String()
}

// ModePerm is the equivalent of os.ModePerm
const ModePerm = FileMode(os.ModePerm)

const PathSeparator = filepath.Separator

var (
	ErrNotExist = fs.ErrNotExist
	ErrExist    = fs.ErrExist

	// ErrNotOwned is returned when a path or handle does not belong to the
	// filesystem it is used with.
	ErrNotOwned = errors.New("path not owned by filesystem")
)

// IsExist is the equivalent of os.IsExist
func IsExist(err error) bool {
	return errors.Is(err, ErrExist)
}

// IsNotExist is the equivalent of os.IsNotExist
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
