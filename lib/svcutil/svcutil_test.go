// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package svcutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/thejerf/suture/v4"
)

func TestNoRestartErr(t *testing.T) {
	if err := NoRestartErr(nil); err != suture.ErrDoNotRestart {
		t.Errorf("nil should map to ErrDoNotRestart, got %v", err)
	}

	cause := errors.New("cause")
	err := NoRestartErr(cause)
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Error("wrapped error does not prevent restarts")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if err.Error() != "cause" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestAsFatalErr(t *testing.T) {
	cause := errors.New("cause")
	ferr := AsFatalErr(cause, ExitUsage)
	if ferr.Status != ExitUsage || ferr.Status.AsInt() != 2 {
		t.Errorf("unexpected status %v", ferr.Status)
	}
	if !errors.Is(ferr, suture.ErrTerminateSupervisorTree) {
		t.Error("fatal error does not terminate the tree")
	}
	if !errors.Is(ferr, cause) {
		t.Error("fatal error lost its cause")
	}
	if again := AsFatalErr(ferr, ExitError); again != ferr {
		t.Error("fatal error was wrapped twice")
	}
}

func TestExitStatusOf(t *testing.T) {
	cause := errors.New("cause")
	cases := []struct {
		err  error
		want ExitStatus
	}{
		{nil, ExitSuccess},
		{cause, ExitError},
		{AsFatalErr(cause, ExitUsage), ExitUsage},
		{fmt.Errorf("starting: %w", AsFatalErr(cause, ExitUsage)), ExitUsage},
	}
	for _, tc := range cases {
		if got := ExitStatusOf(tc.err); got != tc.want {
			t.Errorf("ExitStatusOf(%v) = %v, expected %v", tc.err, got, tc.want)
		}
	}
}

func TestAsService(t *testing.T) {
	cause := errors.New("cause")
	svc := AsService(func(context.Context) error { return cause }, "printer")
	if err := svc.Serve(context.Background()); err != cause {
		t.Errorf("unexpected return %v", err)
	}
	if s := fmt.Sprint(svc); s != "printer" {
		t.Errorf("unexpected name %q", s)
	}
}
