// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"fmt"
	"strings"
)

// Event is a single kind of change observed on a watched entry.
//
// Every backend reports the same four kinds. A rename is never a kind of its
// own: the old name is reported as Removed and the new name as Created, in
// that order when the platform reports both.
type Event uint8

const (
	Created Event = 1 << iota
	Removed
	Modified
	AttrChanged
)

var eventNames = []struct {
	ev   Event
	name string
}{
	{Created, "created"},
	{Removed, "removed"},
	{Modified, "modified"},
	{AttrChanged, "attr"},
}

func (e Event) String() string {
	for _, en := range eventNames {
		if en.ev == e {
			return en.name
		}
	}
	return fmt.Sprintf("unknown(%d)", uint8(e))
}

// Mask returns the mask containing only e.
func (e Event) Mask() EventMask {
	return EventMask(e)
}

func (e Event) valid() bool {
	return e != 0 && e&(e-1) == 0 && EventMask(e)&^AllEvents == 0
}

// EventMask is a set of Events.
type EventMask uint8

// AllEvents is the union of every Event.
const AllEvents = EventMask(Created | Removed | Modified | AttrChanged)

// Mask returns the union of the given events.
func Mask(events ...Event) EventMask {
	var m EventMask
	for _, ev := range events {
		m |= EventMask(ev)
	}
	return m
}

func (m EventMask) Has(e Event) bool {
	return m&EventMask(e) != 0
}

func (m EventMask) Events() []Event {
	var evs []Event
	for _, en := range eventNames {
		if m.Has(en.ev) {
			evs = append(evs, en.ev)
		}
	}
	return evs
}

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	var names []string
	for _, ev := range m.Events() {
		names = append(names, ev.String())
	}
	return strings.Join(names, "|")
}

// ParseEventMask parses a list of event names separated by commas or pipes,
// as produced by EventMask.String. "all" stands for AllEvents.
func ParseEventMask(s string) (EventMask, error) {
	var m EventMask
	for _, name := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' }) {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			continue
		case "all":
			m |= AllEvents
			continue
		}
		found := false
		for _, en := range eventNames {
			if en.name == name {
				m |= EventMask(en.ev)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown event %q", name)
		}
	}
	if m == 0 {
		return 0, ErrEmptyMask
	}
	return m, nil
}

func (m EventMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *EventMask) UnmarshalText(bs []byte) error {
	parsed, err := ParseEventMask(string(bs))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// RecursiveMode decides whether a directory watch covers only the directory
// and its direct entries, or the whole tree below it.
type RecursiveMode int

const (
	NonRecursive RecursiveMode = iota
	Recursive
)

func (r RecursiveMode) String() string {
	switch r {
	case NonRecursive:
		return "non-recursive"
	case Recursive:
		return "recursive"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}
