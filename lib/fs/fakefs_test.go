// Copyright (C) 2018 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"path/filepath"
	"testing"
)

func fakePath(comps ...string) string {
	return filepath.Join(append([]string{string(PathSeparator)}, comps...)...)
}

func TestFakeFSMetadata(t *testing.T) {
	fs := NewFakeFilesystem()

	if err := fs.MkdirAll(fakePath("a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	fd, err := fs.Create(fakePath("a", "b", "file"))
	if err != nil {
		t.Fatal(err)
	}
	fi0, err := fs.Lstat(fakePath("a", "b", "file"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fd.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	fd.Close()

	fi1, err := fs.Lstat(fakePath("a", "b", "file"))
	if err != nil {
		t.Fatal(err)
	}
	if fi1.Size() != 5 {
		t.Errorf("size %d != 5", fi1.Size())
	}
	if !fi1.ModTime().After(fi0.ModTime()) {
		t.Error("write did not advance mtime")
	}
	if !fi1.IsRegular() || fi1.IsDir() {
		t.Error("file is not regular")
	}

	names, err := fs.DirNames(fakePath("a"))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("unexpected names %v", names)
	}

	h, _ := fs.Handle(fakePath("a", "b"))
	if !fs.IsDir(h) {
		t.Error("a/b should be a directory")
	}
	h, _ = fs.Handle(fakePath("a", "b", "file"))
	if fs.IsDir(h) {
		t.Error("a/b/file should not be a directory")
	}
}

func TestFakeFSRemoveRename(t *testing.T) {
	fs := NewFakeFilesystem()

	if err := fs.Mkdir(fakePath("dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mkdir(fakePath("dir"), 0o755); !IsExist(err) {
		t.Errorf("expected exist error, got %v", err)
	}
	if fd, err := fs.Create(fakePath("dir", "f")); err != nil {
		t.Fatal(err)
	} else {
		fd.Close()
	}
	if err := fs.Remove(fakePath("dir")); err == nil {
		t.Error("removing non-empty directory should fail")
	}
	if err := fs.Rename(fakePath("dir", "f"), fakePath("g")); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Lstat(fakePath("dir", "f")); !IsNotExist(err) {
		t.Errorf("old name still exists: %v", err)
	}
	if fi, err := fs.Lstat(fakePath("g")); err != nil || fi.Name() != "g" {
		t.Errorf("new name missing: %v %v", fi, err)
	}
	if err := fs.Remove(fakePath("dir")); err != nil {
		t.Error(err)
	}
	if err := fs.RemoveAll(fakePath("nonexistent")); err != nil {
		t.Error(err)
	}
}

func TestFakeFSSharedByURI(t *testing.T) {
	fs0, err := NewFilesystem(FilesystemTypeFake, "TestFakeFSSharedByURI")
	if err != nil {
		t.Fatal(err)
	}
	fs1, err := NewFilesystem(FilesystemTypeFake, "TestFakeFSSharedByURI")
	if err != nil {
		t.Fatal(err)
	}
	if err := fs0.Mkdir(fakePath("x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := fs1.Lstat(fakePath("x")); err != nil {
		t.Error("filesystems with the same URI should share contents:", err)
	}
}

func TestFakeFSRelativePath(t *testing.T) {
	fs := NewFakeFilesystem()
	if _, err := fs.Handle("relative"); err == nil {
		t.Error("relative paths should not be owned by the fake filesystem")
	}
}
