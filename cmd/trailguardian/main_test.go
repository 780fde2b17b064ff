package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trailguardian/internal/config"
	"trailguardian/internal/monitoring"
	"trailguardian/internal/replay"
	"trailguardian/internal/store"
)

func init() {
	monitoring.SetLogger(nil)
}

var origin = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// writeTrailLog writes n seconds of a climb heading north with motion data.
func writeTrailLog(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("# test trail\nSTART\n")
	for i := 0; i < n; i++ {
		ns := int64(i) * int64(time.Second)
		fmt.Fprintf(&b, "%d,racc,0.05,0.1,1.02\n", ns)
		fmt.Fprintf(&b, "%d,uacc,0.2,0.1,0\n", ns)
		fmt.Fprintf(&b, "%d,att,0.15,-0.05\n", ns)
		fmt.Fprintf(&b, "%d,baro,%g\n", ns, 1+float64(i)*4)
		fmt.Fprintf(&b, "%d,fix,%.6f,-109.55,%g,4,0,5\n", ns, 38.5+float64(i)*0.0005, 1300+float64(i)*5)
	}
	fmt.Fprintf(&b, "%d,wx,0.3,55,8,showers\n", int64(n-1)*int64(time.Second))
	path := filepath.Join(dir, "trail.log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func writeConfig(t *testing.T, dir string) (string, string) {
	t.Helper()
	dbPath := filepath.Join(dir, "trips.db")
	cfgPath := filepath.Join(dir, "cfg.yaml")
	contents := fmt.Sprintf("store:\n  path: %s\nvehicle:\n  type: Ford Bronco\n  winch_used: true\n", dbPath)
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return cfgPath, dbPath
}

func TestDispatch_Usage(t *testing.T) {
	var out bytes.Buffer
	if err := dispatch(context.Background(), nil, &out); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v want usage", err)
	}
	if err := dispatch(context.Background(), []string{"fly"}, &out); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v want usage", err)
	}
	if err := dispatch(context.Background(), []string{"summary"}, &out); !errors.Is(err, errUsage) {
		t.Fatalf("err=%v want usage", err)
	}
	if err := dispatch(context.Background(), []string{"help"}, &out); err != nil {
		t.Fatalf("help err=%v", err)
	}
	if !strings.Contains(out.String(), "rescore") {
		t.Fatalf("help output=%q", out.String())
	}
}

func TestSummary(t *testing.T) {
	path := writeTrailLog(t, t.TempDir(), 10)
	var out bytes.Buffer
	if err := dispatch(context.Background(), []string{"summary", path}, &out); err != nil {
		t.Fatalf("summary error: %v", err)
	}
	for _, want := range []string{"segments: 1", "records: 51", "max_duration: 9s", "  fix: 10", "  wx: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestReplayTrip_UsesLogClock(t *testing.T) {
	path := writeTrailLog(t, t.TempDir(), 10)
	recs, err := readLog(path)
	if err != nil {
		t.Fatalf("readLog() error: %v", err)
	}
	trip, err := replayTrip(context.Background(), config.Default().Session(), recs, replayOptions{origin: origin}, nil)
	if err != nil {
		t.Fatalf("replayTrip() error: %v", err)
	}
	if !trip.StartedAt.Equal(origin) {
		t.Fatalf("started=%s want %s", trip.StartedAt, origin)
	}
	if got := trip.Duration(); got != 9*time.Second {
		t.Fatalf("duration=%s want 9s", got)
	}
	if len(trip.Points) != 10 {
		t.Fatalf("points=%d want 10", len(trip.Points))
	}
	if len(trip.Weather) != 1 || trip.Weather[0].Condition != "showers" {
		t.Fatalf("weather=%+v", trip.Weather)
	}
	if trip.Title != "Trail – 2024-06-01" {
		t.Fatalf("title=%q", trip.Title)
	}
	if trip.Ratings.SuttonScore <= 0 {
		t.Fatalf("score=%d want > 0", trip.Ratings.SuttonScore)
	}
	// Points after the first carry a positive grade on a steady climb.
	if trip.Points[5].GradePercent <= 0 {
		t.Fatalf("grade=%v want > 0", trip.Points[5].GradePercent)
	}
}

func TestReplayTrip_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs := []replay.Record{{Kind: replay.KindBaro, Values: []float64{1}}}
	if _, err := replayTrip(ctx, config.Default().Session(), recs, replayOptions{origin: origin}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestReplaySaveListRescore(t *testing.T) {
	dir := t.TempDir()
	logPath := writeTrailLog(t, dir, 10)
	cfgPath, dbPath := writeConfig(t, dir)
	ctx := context.Background()

	var out bytes.Buffer
	err := dispatch(ctx, []string{"replay", "-config", cfgPath, "-origin", "2024-06-01T12:00:00Z", "-title", "Fins", "-save", logPath}, &out)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	for _, want := range []string{"saved: " + dbPath, "title: Fins", "points: 10", "duration: 9s"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("replay output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := dispatch(ctx, []string{"list", "-config", cfgPath}, &out); err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(out.String(), "Fins") {
		t.Fatalf("list output=%q", out.String())
	}

	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	trips, err := st.List(ctx)
	_ = st.Close()
	if err != nil || len(trips) != 1 {
		t.Fatalf("trips=%v err=%v", trips, err)
	}
	if trips[0].Points != 10 {
		t.Fatalf("stored points=%d want 10", trips[0].Points)
	}
	score := trips[0].Ratings.SuttonScore

	out.Reset()
	if err := dispatch(ctx, []string{"rescore", "-config", cfgPath, trips[0].ID.String()}, &out); err != nil {
		t.Fatalf("rescore error: %v", err)
	}
	if want := fmt.Sprintf("before: %d  after: %d", score, score); !strings.Contains(out.String(), want) {
		t.Fatalf("rescore output missing %q:\n%s", want, out.String())
	}
}

func TestRescore_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgPath, _ := writeConfig(t, dir)
	var out bytes.Buffer
	if err := dispatch(context.Background(), []string{"rescore", "-config", cfgPath, "nope"}, &out); err == nil {
		t.Fatalf("expected invalid id error")
	}
	err := dispatch(context.Background(), []string{"rescore", "-config", cfgPath, "6f1c1c5e-8a3b-4a8e-9a55-0d2b1f0f4e11"}, &out)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("altitude:\n  window: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := loadConfig(bad); err == nil || !strings.Contains(err.Error(), "altitude.window must be > 0") {
		t.Fatalf("err=%v", err)
	}
	if _, err := loadConfig(""); err != nil {
		t.Fatalf("defaults err=%v", err)
	}
}
