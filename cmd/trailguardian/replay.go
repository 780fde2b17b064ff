package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"trailguardian/internal/replay"
	"trailguardian/internal/session"
	"trailguardian/internal/store"
)

// logClock stamps trip start/end with log time rather than wall time.
type logClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *logClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *logClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// noSleep plays a log as fast as it can be read.
type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

type replayOptions struct {
	speed  float64
	origin time.Time
	title  string
}

// replayTrip feeds records through a fresh session and finishes the trip.
func replayTrip(ctx context.Context, sc session.Config, recs []replay.Record, opt replayOptions, configure func(*session.Session)) (session.Trip, error) {
	clk := &logClock{now: opt.origin}
	sc.Now = clk.Now
	sess := session.New(sc)
	sess.Start(opt.title)
	if configure != nil {
		configure(sess)
	}

	var sleeper replay.Sleeper = noSleep{}
	speed := opt.speed
	if speed > 0 {
		sleeper = nil
	} else {
		speed = 1
	}
	err := replay.Play(recs, speed, false, sleeper, func(r replay.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clk.Set(opt.origin.Add(r.At))
		return replay.Apply(sess, opt.origin, r)
	})
	if err != nil {
		return session.Trip{}, err
	}
	return sess.Finish(), nil
}

func runReplay(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("replay")
	speed := fs.Float64("speed", 0, "Playback speed multiplier (0 = as fast as possible)")
	originStr := fs.String("origin", "", "RFC3339 wall time of the log's first record (defaults to now)")
	title := fs.String("title", "", "Trip title")
	save := fs.Bool("save", false, "Save the trip to the configured store")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("replay takes one log path: %w", errUsage)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	origin := time.Now().UTC()
	if *originStr != "" {
		if origin, err = time.Parse(time.RFC3339, *originStr); err != nil {
			return fmt.Errorf("invalid -origin: %w", err)
		}
		origin = origin.UTC()
	}

	recs, err := readLog(fs.Arg(0))
	if err != nil {
		return err
	}
	trip, err := replayTrip(ctx, cfg.Session(), recs, replayOptions{speed: *speed, origin: origin, title: *title}, func(s *session.Session) {
		s.SetVehicle(cfg.Vehicle)
	})
	if err != nil {
		return err
	}

	if *save {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Save(ctx, trip); err != nil {
			return err
		}
		fmt.Fprintf(out, "saved: %s\n", cfg.Store.Path)
	}
	printTrip(out, trip)
	return nil
}
