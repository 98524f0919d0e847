// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// The BasicFilesystem implements all aspects by delegating to package os.
// A BasicFilesystem with an empty root owns every path; otherwise it owns
// the root and everything below it.
type BasicFilesystem struct {
	root string
}

func newBasicFilesystem(root string) *BasicFilesystem {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		// Make sure the root resolves the same way the kernel reports paths
		// for events below it.
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		root = filepath.Clean(root)
	}
	return &BasicFilesystem{root: root}
}

// rooted returns the absolute form of name and checks that it lies within
// the root.
func (f *BasicFilesystem) rooted(name string) (string, error) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", err
	}
	if f.root == "" || abs == f.root {
		return abs, nil
	}
	prefix := strings.TrimRight(f.root, string(PathSeparator)) + string(PathSeparator)
	if !strings.HasPrefix(abs, prefix) {
		return "", fmt.Errorf("%s: %w (root %s)", name, ErrNotOwned, f.root)
	}
	return abs, nil
}

func (f *BasicFilesystem) Chmod(name string, mode FileMode) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.Chmod(name, os.FileMode(mode))
}

func (f *BasicFilesystem) Chtimes(name string, atime time.Time, mtime time.Time) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.Chtimes(name, atime, mtime)
}

func (f *BasicFilesystem) Create(name string) (File, error) {
	name, err := f.rooted(name)
	if err != nil {
		return nil, err
	}
	fd, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return basicFile{fd}, nil
}

func (f *BasicFilesystem) OpenAppend(name string) (File, error) {
	name, err := f.rooted(name)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, err
	}
	return basicFile{fd}, nil
}

func (f *BasicFilesystem) DirNames(name string) ([]string, error) {
	name, err := f.rooted(name)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(name, os.O_RDONLY, 0o777)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	return names, nil
}

func (f *BasicFilesystem) Lstat(name string) (FileInfo, error) {
	name, err := f.rooted(name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(name)
	if err != nil {
		return nil, err
	}
	return basicFileInfo{fi}, nil
}

func (f *BasicFilesystem) Mkdir(name string, perm FileMode) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.Mkdir(name, os.FileMode(perm))
}

func (f *BasicFilesystem) MkdirAll(name string, perm FileMode) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.MkdirAll(name, os.FileMode(perm))
}

func (f *BasicFilesystem) Remove(name string) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.Remove(name)
}

func (f *BasicFilesystem) RemoveAll(name string) error {
	name, err := f.rooted(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(name)
}

func (f *BasicFilesystem) Rename(oldname, newname string) error {
	oldname, err := f.rooted(oldname)
	if err != nil {
		return err
	}
	newname, err = f.rooted(newname)
	if err != nil {
		return err
	}
	return os.Rename(oldname, newname)
}

func (f *BasicFilesystem) Stat(name string) (FileInfo, error) {
	name, err := f.rooted(name)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(name)
	if err != nil {
		return nil, err
	}
	return basicFileInfo{fi}, nil
}

func (*BasicFilesystem) Type() FilesystemType {
	return FilesystemTypeBasic
}

func (f *BasicFilesystem) URI() string {
	return f.root
}

func (f *BasicFilesystem) Handle(name string) (Handle, error) {
	abs, err := f.rooted(name)
	if err != nil {
		return Handle{}, err
	}
	return newHandle(f, abs), nil
}

func (f *BasicFilesystem) IsDir(h Handle) bool {
	if h.fs != Filesystem(f) {
		return false
	}
	fi, err := os.Stat(h.path)
	return err == nil && fi.IsDir()
}

// basicFile implements the fs.File interface on top of an os.File
type basicFile struct {
	*os.File
}

// basicFileInfo implements the fs.FileInfo interface on top of an os.FileInfo.
type basicFileInfo struct {
	os.FileInfo
}

func (e basicFileInfo) Mode() FileMode {
	return FileMode(e.FileInfo.Mode())
}

func (e basicFileInfo) IsRegular() bool {
	return e.FileInfo.Mode().IsRegular()
}

func (e basicFileInfo) IsSymlink() bool {
	return e.FileInfo.Mode()&os.ModeSymlink == os.ModeSymlink
}
