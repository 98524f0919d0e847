// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsFSAccounting(t *testing.T) {
	next := newFakeFilesystem("metricsfs")
	mfs := NewMetricsFilesystem(next)
	root := next.URI()
	creates := testutil.ToFloat64(metricTotalOperationsCount.WithLabelValues(root, "Create"))
	written := testutil.ToFloat64(metricTotalBytesCount.WithLabelValues(root, "Write"))

	fd, err := mfs.Create(fakePath("file"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fd.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	fd.Close()

	if n := testutil.ToFloat64(metricTotalOperationsCount.WithLabelValues(root, "Create")) - creates; n != 1 {
		t.Errorf("expected one Create, got %v", n)
	}
	if n := testutil.ToFloat64(metricTotalBytesCount.WithLabelValues(root, "Write")) - written; n != 5 {
		t.Errorf("expected five bytes written, got %v", n)
	}
	if fi, err := next.Stat(fakePath("file")); err != nil || fi.Size() != 5 {
		t.Errorf("write did not reach the wrapped filesystem: %v, %v", fi, err)
	}
}

func TestMetricsFSHandles(t *testing.T) {
	next := newFakeFilesystem("metricsfs-handles")
	mfs := NewMetricsFilesystem(next)
	if err := mfs.Mkdir(fakePath("dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	h, err := mfs.Handle(fakePath("dir"))
	if err != nil {
		t.Fatal(err)
	}
	if h.FS() != mfs {
		t.Error("handle not issued by the wrapper")
	}
	if !mfs.IsDir(h) {
		t.Error("wrapper does not see directory")
	}

	nh, err := next.Handle(fakePath("dir"))
	if err != nil {
		t.Fatal(err)
	}
	if mfs.IsDir(nh) {
		t.Error("wrapper accepted a handle of the wrapped filesystem")
	}
	if h.Equal(nh) {
		t.Error("handles of different filesystems compare equal")
	}
	if mfs.Type() != next.Type() {
		t.Errorf("type %v != %v", mfs.Type(), next.Type())
	}
}
