// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package svcutil connects the watch loop and the command line services to
// suture, and maps their failures to process exit statuses.
package svcutil

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/syncthing/fswatch/lib/logger"
)

// ServiceTimeout is how long a supervisor waits for a service to return
// after its context was cancelled.
const ServiceTimeout = 10 * time.Second

type ExitStatus int

const (
	ExitSuccess ExitStatus = 0
	ExitError   ExitStatus = 1
	ExitUsage   ExitStatus = 2
)

func (s ExitStatus) AsInt() int {
	return int(s)
}

// ExitStatusOf returns the status to exit with after err: the one carried
// by a FatalErr, ExitError for other errors and ExitSuccess for nil.
func ExitStatusOf(err error) ExitStatus {
	if err == nil {
		return ExitSuccess
	}
	var ferr *FatalErr
	if errors.As(err, &ferr) {
		return ferr.Status
	}
	return ExitError
}

// FatalErr ends the supervisor tree it is returned into, and the process
// with Status.
type FatalErr struct {
	Err    error
	Status ExitStatus
}

// AsFatalErr attaches status to err. An err that already carries a status
// keeps it.
func AsFatalErr(err error, status ExitStatus) *FatalErr {
	var ferr *FatalErr
	if errors.As(err, &ferr) {
		return ferr
	}
	return &FatalErr{Err: err, Status: status}
}

func (e *FatalErr) Error() string {
	return e.Err.Error()
}

func (e *FatalErr) Unwrap() error {
	return e.Err
}

func (e *FatalErr) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}

// NoRestartErr marks err, which may be nil, as the final result of a
// service: the supervisor removes the service instead of restarting it.
func NoRestartErr(err error) error {
	if err == nil {
		return suture.ErrDoNotRestart
	}
	return &noRestartErr{err}
}

type noRestartErr struct {
	err error
}

func (e *noRestartErr) Error() string {
	return e.err.Error()
}

func (e *noRestartErr) Unwrap() error {
	return e.err
}

func (e *noRestartErr) Is(target error) bool {
	return target == suture.ErrDoNotRestart
}

// AsService turns fn into a suture service named name.
func AsService(fn func(ctx context.Context) error, name string) suture.Service {
	return &service{name: name, serve: fn}
}

type service struct {
	name  string
	serve func(ctx context.Context) error
}

func (s *service) Serve(ctx context.Context) error {
	return s.serve(ctx)
}

func (s *service) String() string {
	return s.name
}

// SupervisorSpec returns the spec for a supervisor logging its events,
// such as service failures and restarts, to l.
func SupervisorSpec(l logger.Logger) suture.Spec {
	return suture.Spec{
		EventHook:         func(e suture.Event) { l.Infoln(e) },
		Timeout:           ServiceTimeout,
		PassThroughPanics: true,
	}
}
