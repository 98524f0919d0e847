// Copyright (C) 2018 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// fakeFS is an in-memory filesystem for testing. It has the following
// properties:
//
//   - Paths are absolute and use the native separator; the root is the
//     separator itself.
//
//   - Only metadata is kept: which entries exist, their mode, size and
//     modification time. Writes only grow the size.
//
//   - Modification times come from a logical clock that advances by one
//     nanosecond per mutation, so every change is observable by comparing
//     metadata.
//
//   - Two fakeFS:s with the same URI see the same files.
//
// - Symlinks are not supported.
type fakeFS struct {
	uri   string
	mut   sync.Mutex
	root  *fakeEntry
	clock time.Time
}

type fakeEntry struct {
	name     string
	dir      bool
	mode     FileMode
	size     int64
	mtime    time.Time
	children map[string]*fakeEntry
}

var (
	fakeFSMut   sync.Mutex
	fakeFSCache = make(map[string]*fakeFS)
)

func newFakeFilesystem(uri string) *fakeFS {
	fakeFSMut.Lock()
	defer fakeFSMut.Unlock()

	if fs, ok := fakeFSCache[uri]; ok {
		return fs
	}

	clock := time.Unix(1500000000, 0)
	fs := &fakeFS{
		uri:   "fake://" + uri,
		clock: clock,
		root: &fakeEntry{
			name:     string(PathSeparator),
			dir:      true,
			mode:     0o700,
			mtime:    clock,
			children: make(map[string]*fakeEntry),
		},
	}
	if uri != "" {
		fakeFSCache[uri] = fs
	}
	return fs
}

// NewFakeFilesystem returns a fresh, unshared in-memory filesystem.
func NewFakeFilesystem() Filesystem {
	return newFakeFilesystem("")
}

func (fs *fakeFS) tick() time.Time {
	fs.clock = fs.clock.Add(time.Nanosecond)
	return fs.clock
}

func splitFake(name string) ([]string, error) {
	if !filepath.IsAbs(name) && !strings.HasPrefix(name, string(PathSeparator)) {
		return nil, fmt.Errorf("%s: %w (fake filesystem paths are absolute)", name, ErrNotOwned)
	}
	name = filepath.ToSlash(filepath.Clean(name))
	if vol := filepath.VolumeName(name); vol != "" {
		name = name[len(vol):]
	}
	name = strings.Trim(name, "/")
	if name == "" {
		return nil, nil
	}
	return strings.Split(name, "/"), nil
}

// entryForName returns the entry and its parent, either of which may be nil.
func (fs *fakeFS) entryForName(name string) (entry, parent *fakeEntry, base string, err error) {
	comps, err := splitFake(name)
	if err != nil {
		return nil, nil, "", err
	}
	if len(comps) == 0 {
		return fs.root, nil, "", nil
	}
	cur := fs.root
	for _, comp := range comps[:len(comps)-1] {
		next, ok := cur.children[comp]
		if !ok || !next.dir {
			return nil, nil, "", &os.PathError{Op: "lookup", Path: name, Err: ErrNotExist}
		}
		cur = next
	}
	base = comps[len(comps)-1]
	return cur.children[base], cur, base, nil
}

func (fs *fakeFS) Chmod(name string, mode FileMode) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, _, _, err := fs.entryForName(name)
	if err != nil {
		return err
	}
	if entry == nil {
		return &os.PathError{Op: "chmod", Path: name, Err: ErrNotExist}
	}
	entry.mode = mode & ModePerm
	fs.tick()
	return nil
}

func (fs *fakeFS) Chtimes(name string, _ time.Time, mtime time.Time) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, _, _, err := fs.entryForName(name)
	if err != nil {
		return err
	}
	if entry == nil {
		return &os.PathError{Op: "chtimes", Path: name, Err: ErrNotExist}
	}
	entry.mtime = mtime
	return nil
}

func (fs *fakeFS) Create(name string) (File, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, parent, base, err := fs.entryForName(name)
	if err != nil {
		return nil, err
	}
	if parent == nil && entry == nil {
		return nil, &os.PathError{Op: "create", Path: name, Err: ErrNotExist}
	}
	if entry != nil && entry.dir {
		return nil, &os.PathError{Op: "create", Path: name, Err: ErrExist}
	}
	now := fs.tick()
	if entry == nil {
		entry = &fakeEntry{name: base, mode: 0o644}
		parent.children[base] = entry
		parent.mtime = now
	}
	entry.size = 0
	entry.mtime = now
	return &fakeFile{fs: fs, entry: entry, name: name}, nil
}

func (fs *fakeFS) OpenAppend(name string) (File, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, _, _, err := fs.entryForName(name)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.dir {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrNotExist}
	}
	return &fakeFile{fs: fs, entry: entry, name: name}, nil
}

func (fs *fakeFS) DirNames(name string) ([]string, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, _, _, err := fs.entryForName(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: ErrNotExist}
	}
	if !entry.dir {
		return nil, &os.PathError{Op: "readdir", Path: name, Err: fmt.Errorf("not a directory")}
	}
	names := make([]string, 0, len(entry.children))
	for child := range entry.children {
		names = append(names, child)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *fakeFS) Lstat(name string) (FileInfo, error) {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, _, _, err := fs.entryForName(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &os.PathError{Op: "lstat", Path: name, Err: ErrNotExist}
	}
	return entry.info(), nil
}

func (fs *fakeFS) Stat(name string) (FileInfo, error) {
	return fs.Lstat(name)
}

func (fs *fakeFS) Mkdir(name string, perm FileMode) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, parent, base, err := fs.entryForName(name)
	if err != nil {
		return err
	}
	if entry != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: ErrExist}
	}
	if parent == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: ErrNotExist}
	}
	now := fs.tick()
	parent.children[base] = &fakeEntry{
		name:     base,
		dir:      true,
		mode:     perm & ModePerm,
		mtime:    now,
		children: make(map[string]*fakeEntry),
	}
	parent.mtime = now
	return nil
}

func (fs *fakeFS) MkdirAll(name string, perm FileMode) error {
	comps, err := splitFake(name)
	if err != nil {
		return err
	}
	cur := string(PathSeparator)
	for _, comp := range comps {
		cur = filepath.Join(cur, comp)
		err := fs.Mkdir(cur, perm)
		if err == nil || IsExist(err) {
			if fi, err := fs.Lstat(cur); err != nil {
				return err
			} else if !fi.IsDir() {
				return &os.PathError{Op: "mkdir", Path: cur, Err: ErrExist}
			}
			continue
		}
		return err
	}
	return nil
}

func (fs *fakeFS) Remove(name string) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, parent, base, err := fs.entryForName(name)
	if err != nil {
		return err
	}
	if entry == nil || parent == nil {
		return &os.PathError{Op: "remove", Path: name, Err: ErrNotExist}
	}
	if len(entry.children) > 0 {
		return &os.PathError{Op: "remove", Path: name, Err: fmt.Errorf("directory not empty")}
	}
	delete(parent.children, base)
	parent.mtime = fs.tick()
	return nil
}

func (fs *fakeFS) RemoveAll(name string) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	entry, parent, base, err := fs.entryForName(name)
	if err != nil {
		return err
	}
	if entry == nil || parent == nil {
		return nil
	}
	delete(parent.children, base)
	parent.mtime = fs.tick()
	return nil
}

func (fs *fakeFS) Rename(oldname, newname string) error {
	fs.mut.Lock()
	defer fs.mut.Unlock()
	from, fromParent, fromBase, err := fs.entryForName(oldname)
	if err != nil {
		return err
	}
	if from == nil || fromParent == nil {
		return &os.PathError{Op: "rename", Path: oldname, Err: ErrNotExist}
	}
	to, toParent, toBase, err := fs.entryForName(newname)
	if err != nil {
		return err
	}
	if toParent == nil {
		return &os.PathError{Op: "rename", Path: newname, Err: ErrNotExist}
	}
	if to != nil && to.dir {
		return &os.PathError{Op: "rename", Path: newname, Err: ErrExist}
	}
	now := fs.tick()
	delete(fromParent.children, fromBase)
	from.name = toBase
	toParent.children[toBase] = from
	fromParent.mtime = now
	toParent.mtime = now
	return nil
}

func (*fakeFS) Type() FilesystemType {
	return FilesystemTypeFake
}

func (fs *fakeFS) URI() string {
	return fs.uri
}

func (fs *fakeFS) Handle(name string) (Handle, error) {
	if _, err := splitFake(name); err != nil {
		return Handle{}, err
	}
	return newHandle(fs, name), nil
}

func (fs *fakeFS) IsDir(h Handle) bool {
	if h.fs != Filesystem(fs) {
		return false
	}
	fi, err := fs.Stat(h.path)
	return err == nil && fi.IsDir()
}

func (e *fakeEntry) info() *fakeFileInfo {
	return &fakeFileInfo{
		name:  e.name,
		dir:   e.dir,
		mode:  e.mode,
		size:  e.size,
		mtime: e.mtime,
	}
}

type fakeFile struct {
	fs    *fakeFS
	entry *fakeEntry
	name  string
}

func (f *fakeFile) Close() error {
	return nil
}

func (f *fakeFile) Write(p []byte) (int, error) {
	f.fs.mut.Lock()
	defer f.fs.mut.Unlock()
	f.entry.size += int64(len(p))
	f.entry.mtime = f.fs.tick()
	return len(p), nil
}

func (f *fakeFile) Truncate(size int64) error {
	f.fs.mut.Lock()
	defer f.fs.mut.Unlock()
	f.entry.size = size
	f.entry.mtime = f.fs.tick()
	return nil
}

func (f *fakeFile) Name() string {
	return f.name
}

type fakeFileInfo struct {
	name  string
	dir   bool
	mode  FileMode
	size  int64
	mtime time.Time
}

func (f *fakeFileInfo) Name() string {
	return f.name
}

func (f *fakeFileInfo) Mode() FileMode {
	if f.dir {
		return f.mode | FileMode(os.ModeDir)
	}
	return f.mode
}

func (f *fakeFileInfo) Size() int64 {
	return f.size
}

func (f *fakeFileInfo) ModTime() time.Time {
	return f.mtime
}

func (f *fakeFileInfo) IsDir() bool {
	return f.dir
}

func (f *fakeFileInfo) IsRegular() bool {
	return !f.dir
}

func (*fakeFileInfo) IsSymlink() bool {
	return false
}
