// Copyright (C) 2023 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTotalOperationSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "fs",
		Name:      "operation_seconds_total",
		Help:      "Total time spent in FS operations",
	}, []string{"root", "operation"})
	metricTotalOperationsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "fs",
		Name:      "operations_total",
		Help:      "Total number of FS operations",
	}, []string{"root", "operation"})
	metricTotalBytesCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "fs",
		Name:      "operation_bytes_total",
		Help:      "Total number of FS bytes",
	}, []string{"root", "operation"})
)

// NewMetricsFilesystem wraps next so that every operation is counted and
// timed. Handles are issued by the wrapper, so a watcher on the wrapper
// treats handles from next as foreign.
func NewMetricsFilesystem(next Filesystem) Filesystem {
	return &metricsFS{next: next}
}

type metricsFS struct {
	next Filesystem
}

var _ Filesystem = (*metricsFS)(nil)

func (m *metricsFS) account(op string) func(bytes int) {
	t0 := time.Now()
	root := m.next.URI()
	return func(bytes int) {
		metricTotalOperationSeconds.WithLabelValues(root, op).Add(time.Since(t0).Seconds())
		metricTotalOperationsCount.WithLabelValues(root, op).Inc()
		if bytes >= 0 {
			metricTotalBytesCount.WithLabelValues(root, op).Add(float64(bytes))
		}
	}
}

func (m *metricsFS) Chmod(name string, mode FileMode) error {
	defer m.account("Chmod")(-1)
	return m.next.Chmod(name, mode)
}

func (m *metricsFS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	defer m.account("Chtimes")(-1)
	return m.next.Chtimes(name, atime, mtime)
}

func (m *metricsFS) Create(name string) (File, error) {
	defer m.account("Create")(-1)
	f, err := m.next.Create(name)
	if err != nil {
		return nil, err
	}
	return &metricsFile{next: f, fs: m}, nil
}

func (m *metricsFS) DirNames(name string) ([]string, error) {
	defer m.account("DirNames")(-1)
	return m.next.DirNames(name)
}

func (m *metricsFS) Lstat(name string) (FileInfo, error) {
	defer m.account("Lstat")(-1)
	return m.next.Lstat(name)
}

func (m *metricsFS) Mkdir(name string, perm FileMode) error {
	defer m.account("Mkdir")(-1)
	return m.next.Mkdir(name, perm)
}

func (m *metricsFS) MkdirAll(name string, perm FileMode) error {
	defer m.account("MkdirAll")(-1)
	return m.next.MkdirAll(name, perm)
}

func (m *metricsFS) OpenAppend(name string) (File, error) {
	defer m.account("OpenAppend")(-1)
	f, err := m.next.OpenAppend(name)
	if err != nil {
		return nil, err
	}
	return &metricsFile{next: f, fs: m}, nil
}

func (m *metricsFS) Remove(name string) error {
	defer m.account("Remove")(-1)
	return m.next.Remove(name)
}

func (m *metricsFS) RemoveAll(name string) error {
	defer m.account("RemoveAll")(-1)
	return m.next.RemoveAll(name)
}

func (m *metricsFS) Rename(oldname, newname string) error {
	defer m.account("Rename")(-1)
	return m.next.Rename(oldname, newname)
}

func (m *metricsFS) Stat(name string) (FileInfo, error) {
	defer m.account("Stat")(-1)
	return m.next.Stat(name)
}

// Type and URI are not accounted; watch backends call them per event.
func (m *metricsFS) Type() FilesystemType {
	return m.next.Type()
}

func (m *metricsFS) URI() string {
	return m.next.URI()
}

func (m *metricsFS) Handle(name string) (Handle, error) {
	defer m.account("Handle")(-1)
	h, err := m.next.Handle(name)
	if err != nil {
		return Handle{}, err
	}
	return newHandle(m, h.path), nil
}

func (m *metricsFS) IsDir(h Handle) bool {
	defer m.account("IsDir")(-1)
	if h.fs != Filesystem(m) {
		return false
	}
	nh, err := m.next.Handle(h.path)
	if err != nil {
		return false
	}
	return m.next.IsDir(nh)
}

type metricsFile struct {
	fs   *metricsFS
	next File
}

func (m *metricsFile) Truncate(size int64) error {
	defer m.fs.account("Truncate")(-1)
	return m.next.Truncate(size)
}

func (m *metricsFile) Write(p []byte) (n int, err error) {
	acc := m.fs.account("Write")
	defer func() { acc(n) }()
	return m.next.Write(p)
}

func (m *metricsFile) Close() error {
	defer m.fs.account("Close")(-1)
	return m.next.Close()
}

func (m *metricsFile) Name() string {
	return m.next.Name()
}
