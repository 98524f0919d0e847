// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncthing/fswatch/lib/fs"
)

func init() {
	registerBackend(BackendPoll, newPollBackend)
}

// pollBackend detects changes by periodically comparing metadata snapshots
// taken through the Filesystem interface. It works on every platform and
// filesystem, at the price of latency and missing changes that cancel out
// between two scans. Scans are at least PollInterval apart, across Watch
// calls.
type pollBackend struct {
	fs      fs.Filesystem
	in      *intake
	limiter *rate.Limiter
	regs    registrationSet
	trees   []pollTree
	closed  bool
}

// pollTree is the snapshot of one registration, keyed by path.
type pollTree map[string]pollEntry

type pollEntry struct {
	dir   bool
	size  int64
	mode  fs.FileMode
	mtime time.Time
}

func newPollBackend(filesystem fs.Filesystem, in *intake, opts Options) (Backend, error) {
	interval := opts.PollInterval()
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &pollBackend{
		fs:      filesystem,
		in:      in,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

func (b *pollBackend) FS() fs.Filesystem {
	return b.fs
}

func (b *pollBackend) Add(h fs.Handle, mask EventMask, mode RecursiveMode) error {
	if err := checkRegistration(b.fs, h, mask); err != nil {
		return err
	}
	if b.closed {
		return &RegistrationError{Path: h.Path(), Err: ErrClosed}
	}
	info, err := b.fs.Stat(h.Path())
	if err != nil {
		return &RegistrationError{Path: h.Path(), Err: err}
	}

	reg := newRegistration(h, mask, mode, info.IsDir())
	tree, err := b.snapshot(reg)
	if err != nil {
		return &RegistrationError{Path: h.Path(), Err: err}
	}
	b.regs = append(b.regs, reg)
	b.trees = append(b.trees, tree)
	l.Debugf("poll: watching %v (%v, %v), %d entries", h, mask, mode, len(tree))
	return nil
}

func (b *pollBackend) Watch(timeout time.Duration) error {
	if b.closed {
		return &WaitError{Backend: BackendPoll, Err: ErrClosed}
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		r := b.limiter.Reserve()
		delay := r.Delay()
		if timeout >= 0 {
			if remaining := time.Until(deadline); delay > remaining {
				r.Cancel()
				if remaining > 0 {
					time.Sleep(remaining)
				}
				return nil
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		if b.scan() > 0 {
			return nil
		}
		if timeout >= 0 && !time.Now().Before(deadline) {
			return nil
		}
	}
}

func (b *pollBackend) Close() error {
	b.closed = true
	b.regs = nil
	b.trees = nil
	return nil
}

func (b *pollBackend) resourceCount() int {
	return len(b.trees)
}

// snapshot records the registered entry and, for directories, what the
// registration covers below it. A missing root gives an empty snapshot.
func (b *pollBackend) snapshot(reg registration) (pollTree, error) {
	tree := make(pollTree)
	root := reg.handle.Path()
	info, err := b.fs.Stat(root)
	if fs.IsNotExist(err) {
		return tree, nil
	} else if err != nil {
		return nil, err
	}
	tree[root] = newPollEntry(info)
	if !reg.dir || !info.IsDir() {
		return tree, nil
	}
	err = b.snapshotDir(tree, root, reg.recursive)
	return tree, err
}

func (b *pollBackend) snapshotDir(tree pollTree, dir string, recursive bool) error {
	names, err := b.fs.DirNames(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := b.fs.Lstat(path)
		if fs.IsNotExist(err) {
			continue
		} else if err != nil {
			return err
		}
		tree[path] = newPollEntry(info)
		if recursive && info.IsDir() && !info.IsSymlink() {
			if err := b.snapshotDir(tree, path, true); err != nil && !fs.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func newPollEntry(info fs.FileInfo) pollEntry {
	return pollEntry{
		dir:   info.IsDir(),
		size:  info.Size(),
		mode:  info.Mode(),
		mtime: info.ModTime(),
	}
}

// scan takes a fresh snapshot of every registration, delivers the
// differences and returns the number of delivered events. A change seen by
// several overlapping registrations is delivered once.
func (b *pollBackend) scan() int {
	var changes []pathEvent
	for i, reg := range b.regs {
		cur, err := b.snapshot(reg)
		if err != nil {
			// Keep the previous snapshot; the next scan retries.
			l.Debugf("poll: scanning %v: %v", reg.handle, err)
			continue
		}
		changes = append(changes, diffPollTrees(b.trees[i], cur)...)
		b.trees[i] = cur
	}
	if len(b.regs) > 1 {
		sort.SliceStable(changes, func(a, b int) bool {
			return changes[a].path < changes[b].path
		})
	}

	delivered := 0
	seen := make(map[pathEvent]struct{}, len(changes))
	for _, c := range changes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		h, err := b.fs.Handle(c.path)
		if err != nil {
			l.Debugln("poll: dropping event for", c.path, err)
			continue
		}
		if !b.regs.maskFor(h).Has(c.ev) {
			continue
		}
		b.in.deliver(h, c.ev)
		delivered++
	}
	return delivered
}

// diffPollTrees returns the changes from prev to cur ordered by path, so a
// directory is reported before the entries within it.
func diffPollTrees(prev, cur pollTree) []pathEvent {
	var changes []pathEvent
	for path, old := range prev {
		now, ok := cur[path]
		switch {
		case !ok:
			changes = append(changes, pathEvent{path, Removed})
		case old.dir != now.dir:
			changes = append(changes, pathEvent{path, Removed}, pathEvent{path, Created})
		default:
			if !old.dir && (old.size != now.size || !old.mtime.Equal(now.mtime)) {
				changes = append(changes, pathEvent{path, Modified})
			}
			if old.mode != now.mode {
				changes = append(changes, pathEvent{path, AttrChanged})
			}
		}
	}
	for path := range cur {
		if _, ok := prev[path]; !ok {
			changes = append(changes, pathEvent{path, Created})
		}
	}
	sort.SliceStable(changes, func(a, b int) bool {
		return changes[a].path < changes[b].path
	})
	return changes
}
