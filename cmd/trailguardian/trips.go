package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"trailguardian/internal/difficulty"
	"trailguardian/internal/session"
	"trailguardian/internal/store"
)

func printTrip(out io.Writer, t session.Trip) {
	fmt.Fprintf(out, "trip: %s\n", t.ID)
	fmt.Fprintf(out, "title: %s\n", t.Title)
	fmt.Fprintf(out, "started: %s\n", t.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "duration: %s\n", t.Duration().Round(time.Second))
	fmt.Fprintf(out, "points: %s\n", humanize.Comma(int64(len(t.Points))))
	fmt.Fprintf(out, "distance: %s km\n", humanize.CommafWithDigits(t.TotalDistanceKm(), 2))
	fmt.Fprintf(out, "max_pitch: %.1f°  max_roll: %.1f°  max_g: %.2f  airtime: %s\n",
		t.Stats.MaxPitchDeg, t.Stats.MaxRollDeg, t.Stats.MaxGForce, t.Stats.TotalAirtime)
	printRatings(out, t.Ratings)
	if t.HundredClub() {
		fmt.Fprintln(out, "100 club!")
	}
}

func printRatings(out io.Writer, r difficulty.Ratings) {
	fmt.Fprintf(out, "score: %d (%s)\n", r.SuttonScore, difficulty.Band(r.SuttonScore))
	fmt.Fprintf(out, "jeep_badge: %d\n", r.JeepBadge)
	fmt.Fprintf(out, "wells: %s  usfs: %s  international: %s\n", r.WellsRating, r.USFSRating, r.InternationalRating)
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	trips, err := st.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range trips {
		fmt.Fprintf(out, "%s  %-28s  %3d  %8s km  %s pts  %s\n",
			t.ID, t.Title, t.Ratings.SuttonScore, humanize.CommafWithDigits(t.DistanceM/1000, 2),
			humanize.Comma(int64(t.Points)), humanize.Time(t.StartedAt))
	}
	return nil
}

// runRescore recomputes a stored trip's ratings with the current scoring
// configuration and saves them.
func runRescore(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("rescore")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("rescore takes one trip id: %w", errUsage)
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid trip id %q: %w", fs.Arg(0), err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	trip, err := st.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("trip %s: %w", id, err)
	}
	before := trip.Ratings
	trip = session.Rescore(trip, difficulty.NewScorer(cfg.Scoring()))
	if err := st.Save(ctx, trip); err != nil {
		return err
	}
	fmt.Fprintf(out, "trip: %s\n", id)
	fmt.Fprintf(out, "before: %d  after: %d\n", before.SuttonScore, trip.Ratings.SuttonScore)
	printRatings(out, trip.Ratings)
	return nil
}
