// cmd/dronesync/main.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// dronesync connects to a drone flight simulation backend, optionally
// launches a naive vs. optimized route comparison, and reports the
// progress and results of the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aerowind/dronesync/client"
	"github.com/aerowind/dronesync/log"
	"github.com/aerowind/dronesync/replay"
	"github.com/aerowind/dronesync/sim"

	"github.com/goforj/godump"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	serverURL         = flag.String("server", client.DefaultURL, "websocket URL of the simulation server")
	reconnectInterval = flag.Duration("reconnect-interval", client.DefaultReconnectInterval, "delay before reconnecting after the connection is lost")
	maxReconnects     = flag.Int("max-reconnects", client.DefaultMaxReconnectAttempts, "number of consecutive reconnect attempts")
	healthInterval    = flag.Duration("health-interval", 0, "connection health check period (0: same as -reconnect-interval, negative: disabled)")
	logLevel          = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir            = flag.String("logdir", "", "log file directory")
	startPos          = flag.String("start", "", "start position \"x,y,z\"; launches a run once connected")
	endPos            = flag.String("end", "", "end position \"x,y,z\"")
	routeType         = flag.String("route", "both", "routes to simulate: naive, optimized, or both")
	downsample        = flag.Int("downsample", 0, "wind field downsample factor requested when not launching a run")
	recordPath        = flag.String("record", "", "record received messages to this file")
	replayPath        = flag.String("replay", "", "replay a recording instead of connecting to a server")
	replaySpeed       = flag.Float64("replay-speed", 1, "replay speed multiplier (0: as fast as possible)")
	statusInterval    = flag.Duration("status", 5*time.Second, "period for status reports")
	dump              = flag.Bool("dump", false, "print the final simulation state on exit")
)

var errRunComplete = errors.New("run complete")

func main() {
	flag.Parse()

	lg := log.New(*logLevel, *logDir)
	defer lg.CatchAndReportCrash()

	if err := run(lg); err != nil {
		lg.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "dronesync: %v\n", err)
		os.Exit(1)
	}
}

func run(lg *log.Logger) error {
	launch, err := parseLaunch(*startPos, *endPos, *routeType)
	if err != nil {
		return err
	}

	config := client.DefaultConfig()
	config.URL = *serverURL
	config.ReconnectInterval = *reconnectInterval
	config.MaxReconnectAttempts = *maxReconnects
	config.HealthCheckInterval = *healthInterval

	var opts []client.Option
	if *replayPath != "" {
		opts = append(opts, client.WithTransport(replay.OpenPlayer(*replayPath, *replaySpeed, nil, lg)))
		config.MaxReconnectAttempts = 0
		config.HealthCheckInterval = -1
	}
	if *recordPath != "" {
		rec, err := replay.Create(*recordPath, nil)
		if err != nil {
			return err
		}
		// Closed by SimClient.Close.
		opts = append(opts, client.WithRecorder(rec))
	}

	connected := make(chan struct{}, 1)
	opts = append(opts, client.WithConnectionCallback(func(ch client.StateChange) {
		if ch.State == client.Connected {
			select {
			case connected <- struct{}{}:
			default:
			}
		} else if ch.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", ch.State, ch.Err)
		}
	}))

	c, err := client.NewSimClient(config, lg, opts...)
	if err != nil {
		return err
	}

	complete := make(chan struct{})
	var once sync.Once
	w := c.Watch(func(st sim.State) {
		if st.Phase == sim.PhaseComplete {
			once.Do(func() { close(complete) })
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return drive(ctx, c, launch, connected, complete, lg)
	})
	eg.Go(func() error {
		return reportStatus(ctx, c, *statusInterval)
	})

	err = eg.Wait()
	w.Unsubscribe()
	closeErr := c.Close()

	st := c.State()
	if st.Phase == sim.PhaseComplete {
		printResults(st)
	}
	if *dump {
		godump.Dump(st)
	}

	if errors.Is(err, errRunComplete) {
		err = nil
	}
	return multierr.Append(err, closeErr)
}

// drive issues the initial requests each time the connection is
// established and returns once a launched run has completed.
func drive(ctx context.Context, c *client.SimClient, launch *launchRequest, connected <-chan struct{},
	complete <-chan struct{}, lg *log.Logger) error {
	started := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-connected:
			if launch == nil {
				if err := c.RequestAll(*downsample); err != nil {
					lg.Warn("initial request failed", slog.Any("error", err))
				}
			} else if !started {
				if err := c.StartSimulation(launch.Start, launch.End, launch.RouteType); err != nil {
					lg.Warn("unable to start simulation", slog.Any("error", err))
				} else {
					started = true
				}
			}

		case <-complete:
			if launch != nil {
				return errRunComplete
			}
			// Only report the first run when observing.
			complete = nil
		}
	}
}

func reportStatus(ctx context.Context, c *client.SimClient, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cs := c.ConnectionState()
			if cs == client.Connected {
				_ = c.Ping()
			}
			fmt.Println(statusLine(cs, c.State(), c.GetSnapshot(), c.LastRoundTrip(), c.Error()))
		}
	}
}
