// Copyright (C) 2024 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "watch",
		Name:      "events_total",
		Help:      "Total number of delivered events",
	}, []string{"backend", "event"})
	metricRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "watch",
		Name:      "registrations_total",
		Help:      "Total number of registrations by result",
	}, []string{"backend", "result"})
	metricWaitSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fswatch",
		Subsystem: "watch",
		Name:      "wait_seconds_total",
		Help:      "Total time spent inside Watch",
	}, []string{"backend"})
	metricNativeResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fswatch",
		Subsystem: "watch",
		Name:      "native_resources",
		Help:      "Number of native watch resources currently held",
	}, []string{"backend"})
)

const (
	metricResultSuccess = "success"
	metricResultFailure = "failure"
)
