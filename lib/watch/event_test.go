// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"errors"
	"testing"
)

func TestEventMaskString(t *testing.T) {
	cases := []struct {
		mask EventMask
		want string
	}{
		{0, "none"},
		{Mask(Created), "created"},
		{Mask(Modified, Created), "created|modified"},
		{AllEvents, "created|removed|modified|attr"},
	}
	for _, tc := range cases {
		if got := tc.mask.String(); got != tc.want {
			t.Errorf("%d: got %q, expected %q", tc.mask, got, tc.want)
		}
	}
}

func TestParseEventMask(t *testing.T) {
	cases := []struct {
		in   string
		want EventMask
		err  bool
	}{
		{"created", Mask(Created), false},
		{"created,modified", Mask(Created, Modified), false},
		{" Removed | attr ", Mask(Removed, AttrChanged), false},
		{"all", AllEvents, false},
		{"created|removed|modified|attr", AllEvents, false},
		{"", 0, true},
		{"renamed", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseEventMask(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("%q: unexpected error state %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v, expected %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseEventMask(""); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("empty input should be ErrEmptyMask, got %v", err)
	}
}

func TestEventValid(t *testing.T) {
	for _, ev := range AllEvents.Events() {
		if !ev.valid() {
			t.Errorf("%v should be valid", ev)
		}
	}
	for _, ev := range []Event{0, Created | Removed, 1 << 6} {
		if ev.valid() {
			t.Errorf("%d should not be valid", ev)
		}
	}
}

func TestBackendTypeText(t *testing.T) {
	for _, bt := range []BackendType{BackendAuto, BackendInotify, BackendFsnotify, BackendNotify, BackendPoll} {
		bs, err := bt.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var parsed BackendType
		if err := parsed.UnmarshalText(bs); err != nil {
			t.Fatal(err)
		}
		if parsed != bt {
			t.Errorf("%v became %v", bt, parsed)
		}
	}

	var bt BackendType
	if err := bt.UnmarshalText([]byte("kqueue")); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestAvailableBackends(t *testing.T) {
	avail := AvailableBackends()
	found := false
	for _, bt := range avail {
		if bt == BackendAuto {
			t.Error("auto is not a backend")
		}
		if bt == BackendPoll {
			found = true
		}
	}
	if !found {
		t.Errorf("poll backend missing from %v", avail)
	}
}
