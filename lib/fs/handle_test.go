// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestHandleEquality(t *testing.T) {
	fs := NewFakeFilesystem()
	other := NewFakeFilesystem()

	root := string(PathSeparator)
	a := filepath.Join(root, "a", "b")

	cases := []struct {
		name  string
		x, y  func() (Handle, error)
		equal bool
	}{
		{"same path", func() (Handle, error) { return fs.Handle(a) }, func() (Handle, error) { return fs.Handle(a) }, true},
		{"uncleaned path", func() (Handle, error) { return fs.Handle(a) }, func() (Handle, error) { return fs.Handle(a + string(PathSeparator) + "." + string(PathSeparator)) }, true},
		{"different path", func() (Handle, error) { return fs.Handle(a) }, func() (Handle, error) { return fs.Handle(filepath.Join(root, "a")) }, false},
		{"other filesystem", func() (Handle, error) { return fs.Handle(a) }, func() (Handle, error) { return other.Handle(a) }, false},
		// U+00E5 vs "a" + U+030A (combining ring above)
		{"normalization", func() (Handle, error) { return fs.Handle(filepath.Join(root, "\u00e5")) }, func() (Handle, error) { return fs.Handle(filepath.Join(root, "a\u030a")) }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, err := tc.x()
			if err != nil {
				t.Fatal(err)
			}
			y, err := tc.y()
			if err != nil {
				t.Fatal(err)
			}
			if got := x.Equal(y); got != tc.equal {
				t.Errorf("%v.Equal(%v) = %v, expected %v", x, y, got, tc.equal)
			}
		})
	}
}

func TestHandleContains(t *testing.T) {
	fs := NewFakeFilesystem()
	root := string(PathSeparator)

	parent, _ := fs.Handle(filepath.Join(root, "a"))
	child, _ := fs.Handle(filepath.Join(root, "a", "b", "c"))
	sibling, _ := fs.Handle(filepath.Join(root, "ab"))
	top, _ := fs.Handle(root)

	if !parent.Contains(child) {
		t.Error("parent should contain child")
	}
	if !parent.Contains(parent) {
		t.Error("handle should contain itself")
	}
	if parent.Contains(sibling) {
		t.Error("parent should not contain sibling with common prefix")
	}
	if child.Contains(parent) {
		t.Error("child should not contain parent")
	}
	if !top.Contains(child) {
		t.Error("root should contain everything")
	}
}

func TestHandleNavigation(t *testing.T) {
	fs := NewFakeFilesystem()
	root := string(PathSeparator)

	h, err := fs.Handle(filepath.Join(root, "a"))
	if err != nil {
		t.Fatal(err)
	}
	c, err := h.Join("b")
	if err != nil {
		t.Fatal(err)
	}
	if c.Path() != filepath.Join(root, "a", "b") || c.Name() != "b" {
		t.Errorf("unexpected child %v", c)
	}
	p, err := c.Parent()
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equal(h) {
		t.Errorf("parent %v != %v", p, h)
	}

	top, _ := fs.Handle(root)
	if _, err := top.Parent(); !errors.Is(err, ErrNotOwned) {
		t.Errorf("parent of root should be ErrNotOwned, got %v", err)
	}

	var zero Handle
	if !zero.IsZero() || zero.IsDir() {
		t.Error("zero handle misbehaves")
	}
}
