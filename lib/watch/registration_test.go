// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/syncthing/fswatch/lib/fs"
)

func TestRegistrationMasks(t *testing.T) {
	ffs := fs.NewFakeFilesystem()
	handle := func(comps ...string) fs.Handle {
		t.Helper()
		h, err := ffs.Handle(fakePath(comps...))
		if err != nil {
			t.Fatal(err)
		}
		return h
	}

	regs := registrationSet{
		newRegistration(handle("rec"), Mask(Created), Recursive, true),
		newRegistration(handle("flat"), Mask(Removed), Recursive, true),
		newRegistration(handle("flat"), Mask(Modified), NonRecursive, true),
		newRegistration(handle("file"), Mask(AttrChanged), Recursive, false),
	}
	// Recursive on a file is dropped.
	if regs[3].recursive {
		t.Error("file registration should not be recursive")
	}

	cases := []struct {
		h    fs.Handle
		want EventMask
	}{
		{handle("rec"), Mask(Created)},
		{handle("rec", "a", "b", "c"), Mask(Created)},
		{handle("flat"), Mask(Removed, Modified)},
		{handle("flat", "child"), Mask(Removed, Modified)},
		{handle("flat", "child", "grandchild"), Mask(Removed)},
		{handle("file"), Mask(AttrChanged)},
		{handle("file", "x"), 0},
		{handle("recursive"), 0},
		{handle(), 0},
	}
	for _, tc := range cases {
		if got := regs.maskFor(tc.h); got != tc.want {
			t.Errorf("%v: got %v, expected %v", tc.h, got, tc.want)
		}
	}

	if regs.armsDescendant(handle("rec")) {
		t.Error("a registration root is not its own descendant")
	}
	if !regs.armsDescendant(handle("rec", "new")) {
		t.Error("directory below recursive registration should be armed")
	}
	if regs.armsDescendant(handle("file", "new")) {
		t.Error("nothing below a file is armed")
	}
	if !regs.isRoot(handle("flat")) || regs.isRoot(handle("flat", "child")) {
		t.Error("wrong roots")
	}
}

func TestWalkDirs(t *testing.T) {
	ffs := fs.NewFakeFilesystem()
	for _, dir := range []string{"a/b/c", "a/d", "e"} {
		if err := ffs.MkdirAll(fakePath(filepath.FromSlash(dir)), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	fd, err := ffs.Create(fakePath("a", "file"))
	if err != nil {
		t.Fatal(err)
	}
	fd.Close()

	var got []string
	err = walkDirs(ffs, fakePath("a"), func(path string) error {
		got = append(got, path)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	want := []string{fakePath("a", "b"), fakePath("a", "b", "c"), fakePath("a", "d")}
	if len(got) != len(want) {
		t.Fatalf("got %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, expected %v", got, want)
			break
		}
	}
}

func TestRegistrationCovers(t *testing.T) {
	ffs := fs.NewFakeFilesystem()
	reg := func(mode RecursiveMode, dir bool, comps ...string) registration {
		t.Helper()
		h, err := ffs.Handle(fakePath(comps...))
		if err != nil {
			t.Fatal(err)
		}
		return newRegistration(h, AllEvents, mode, dir)
	}

	tree := reg(Recursive, true, "tree")
	flat := reg(NonRecursive, true, "tree")
	sub := reg(NonRecursive, true, "tree", "sub")
	file := reg(NonRecursive, false, "tree", "file")
	deep := reg(NonRecursive, false, "tree", "sub", "file")
	other := reg(Recursive, true, "treehouse")

	cases := []struct {
		name string
		r, o registration
		want bool
	}{
		{"tree covers itself", tree, tree, true},
		{"tree covers flat", tree, flat, true},
		{"flat does not cover tree", flat, tree, false},
		{"tree covers deep file", tree, deep, true},
		{"flat covers direct file", flat, file, true},
		{"flat does not cover deep file", flat, deep, false},
		{"flat does not cover subdirectory", flat, sub, false},
		{"file does not cover directory", file, flat, false},
		{"no prefix match", tree, other, false},
	}
	for _, tc := range cases {
		if got := tc.r.covers(tc.o); got != tc.want {
			t.Errorf("%s: got %v", tc.name, got)
		}
	}
}
