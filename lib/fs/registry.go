// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import "fmt"

func init() {
	registry[FilesystemTypeBasic] = func(root string) Filesystem {
		return newBasicFilesystem(root)
	}
	registry[FilesystemTypeFake] = func(uri string) Filesystem {
		return newFakeFilesystem(uri)
	}
}

type filesystemFactory func(string) Filesystem

var registry = map[FilesystemType]filesystemFactory{}

// NewFilesystem returns the filesystem of the given type rooted at uri. For
// the basic filesystem an empty uri means the whole native namespace.
func NewFilesystem(fsType FilesystemType, uri string) (Filesystem, error) {
	factory, ok := registry[fsType]
	if !ok {
		l.Debugln("Unknown filesystem", fsType, uri)
		return nil, fmt.Errorf("filesystem with type %v does not exist", fsType)
	}
	fs := factory(uri)
	l.Debugln("Opened filesystem", fsType, fs.URI())
	return fs, nil
}
