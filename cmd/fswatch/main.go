// Copyright (C) 2015 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command fswatch prints a line per change event on the given paths, in the
// form "<event> <path>".
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	_ "github.com/syncthing/fswatch/lib/automaxprocs"
	"github.com/syncthing/fswatch/lib/fs"
	"github.com/syncthing/fswatch/lib/logger"
	"github.com/syncthing/fswatch/lib/svcutil"
	"github.com/syncthing/fswatch/lib/util"
	"github.com/syncthing/fswatch/lib/watch"
	"github.com/syncthing/fswatch/lib/watchaggregator"
)

var l = logger.DefaultLogger.NewFacility("main", "Main package")

type cli struct {
	Paths         []string          `arg:"" optional:"" name:"path" type:"path" help:"Files or directories to watch"`
	WatchList     string            `name:"watch-list" type:"existingfile" placeholder:"FILE" help:"YAML file listing further paths to watch" env:"FSWATCH_WATCH_LIST"`
	Recursive     bool              `short:"r" help:"Also watch everything below the given directories" env:"FSWATCH_RECURSIVE"`
	Events        watch.EventMask   `help:"Events to report: created, removed, modified, attr or all" default:"all" env:"FSWATCH_EVENTS"`
	Backend       watch.BackendType `help:"Backend to use: auto, inotify, fsnotify, notify or poll" default:"auto" env:"FSWATCH_BACKEND"`
	Timeout       time.Duration     `help:"Upper bound for a single wait, which is also how long stopping may take" default:"1s" env:"FSWATCH_TIMEOUT"`
	PollInterval  time.Duration     `help:"Minimum time between scans of the poll backend" default:"250ms" env:"FSWATCH_POLL_INTERVAL"`
	BufferSize    int               `help:"Number of native events buffered between waits" default:"500" env:"FSWATCH_BUFFER_SIZE"`
	Include       []string          `help:"Only print paths matching one of these glob patterns" env:"FSWATCH_INCLUDE"`
	Aggregate     time.Duration     `help:"Collect changes for this long and print them in batches, one line per changed path" placeholder:"DELAY" env:"FSWATCH_AGGREGATE"`
	MetricsListen string            `help:"Serve Prometheus metrics on this address" placeholder:"ADDR" env:"FSWATCH_METRICS_LISTEN"`
	Once          bool              `help:"Exit after the first printed event or batch" env:"FSWATCH_ONCE"`
	Verbose       bool              `short:"v" help:"Print debug output" env:"FSWATCH_VERBOSE"`
}

func main() {
	var params cli
	kong.Parse(&params,
		kong.Name("fswatch"),
		kong.Description("Print file system change events for the given paths."),
	)

	if params.Verbose {
		for _, facility := range []string{"main", "watch", "fs"} {
			logger.DefaultLogger.SetDebug(facility, true)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(params, os.Stdout)
	if err == nil {
		err = a.serve(ctx)
	}
	if err != nil {
		l.Warnln(err)
		os.Exit(svcutil.ExitStatusOf(err).AsInt())
	}
}

type app struct {
	params      cli
	w           *watch.Watcher
	out         io.Writer
	aggregators []*watchaggregator.Aggregator
	changes     chan []watchaggregator.Change

	mut    sync.Mutex
	cancel context.CancelFunc
	done   atomic.Bool // output finished, with --once
}

var errNegativeTimeout = errors.New("timeout must not be negative")

// newApp sets up the watcher and its listeners. Errors in the parameters
// carry svcutil.ExitUsage.
func newApp(params cli, out io.Writer) (*app, error) {
	if params.Timeout < 0 {
		return nil, svcutil.AsFatalErr(errNegativeTimeout, svcutil.ExitUsage)
	}
	basic, err := fs.NewFilesystem(fs.FilesystemTypeBasic, "")
	if err != nil {
		return nil, err
	}
	filesystem := basic
	if params.MetricsListen != "" {
		filesystem = fs.NewMetricsFilesystem(basic)
	}

	w, err := watch.New(filesystem, watch.Options{
		Backend:         params.Backend,
		PollIntervalMS:  int(params.PollInterval / time.Millisecond),
		EventBufferSize: params.BufferSize,
		WatchTimeoutMS:  timeoutMS(params.Timeout),
	})
	if err != nil {
		return nil, err
	}

	entries, err := params.watchEntries()
	if err != nil {
		w.Close()
		return nil, svcutil.AsFatalErr(err, svcutil.ExitUsage)
	}
	for _, e := range entries {
		if err := w.AddPath(e.Path, e.Events, e.mode()); err != nil {
			w.Close()
			return nil, err
		}
	}

	a := &app{
		params: params,
		w:      w,
		out:    out,
	}
	if err := a.addListeners(entries); err != nil {
		w.Close()
		return nil, err
	}

	l.Infof("Watching %d paths using %v", len(entries), w.Backend())
	return a, nil
}

// addListeners hooks up either the printer or, when aggregating, one
// aggregator per watched path.
func (a *app) addListeners(entries []watchEntry) error {
	if a.params.Aggregate <= 0 {
		return a.addListener(watch.ListenerFunc(a.print))
	}

	a.changes = make(chan []watchaggregator.Change)
	for _, e := range entries {
		root, err := a.w.FS().Handle(e.Path)
		if err != nil {
			return err
		}
		agg := watchaggregator.New(root, a.params.Aggregate, a.changes)
		a.aggregators = append(a.aggregators, agg)
		if err := a.addListener(agg); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) addListener(lst watch.Listener) error {
	if len(a.params.Include) > 0 {
		var err error
		lst, err = watch.NewGlobListener(util.UniqueTrimmedStrings(a.params.Include), lst)
		if err != nil {
			return svcutil.AsFatalErr(err, svcutil.ExitUsage)
		}
	}
	a.w.AddListener(lst)
	return nil
}

// timeoutMS converts a non-negative d for Options, where zero means the
// default.
func timeoutMS(d time.Duration) int {
	if d < time.Millisecond {
		return 1
	}
	return int(d / time.Millisecond)
}

func (a *app) print(h fs.Handle, ev watch.Event) {
	if !a.claimOutput() {
		return
	}
	fmt.Fprintf(a.out, "%v %s\n", ev, h.Path())
	a.printed()
}

func (a *app) printChanges(ctx context.Context) error {
	for {
		select {
		case batch := <-a.changes:
			if !a.claimOutput() {
				continue
			}
			for _, c := range batch {
				fmt.Fprintln(a.out, c)
			}
			a.printed()
		case <-ctx.Done():
			return nil
		}
	}
}

// claimOutput reports whether an event or batch may still be printed. With
// --once only the first one is.
func (a *app) claimOutput() bool {
	return !a.params.Once || a.done.CompareAndSwap(false, true)
}

func (a *app) printed() {
	if !a.params.Once {
		return
	}
	a.mut.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	a.mut.Unlock()
}

// serve runs the watch loop, and the metrics server if configured, until
// ctx is cancelled. The watcher is closed on return.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.mut.Lock()
	a.cancel = cancel
	a.mut.Unlock()

	sup := suture.New("fswatch", svcutil.SupervisorSpec(l))
	sup.Add(watch.NewLoop(a.w))
	for _, agg := range a.aggregators {
		sup.Add(agg)
	}
	if a.changes != nil {
		sup.Add(svcutil.AsService(a.printChanges, "printer"))
	}
	if a.params.MetricsListen != "" {
		sup.Add(svcutil.AsService(a.serveMetrics, "metrics"))
	}

	err := sup.Serve(ctx)
	if closeErr := a.w.Close(); closeErr != nil {
		l.Warnln("Closing watcher:", closeErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (a *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              a.params.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	l.Infoln("Serving metrics on", a.params.MetricsListen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
