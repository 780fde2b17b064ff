package altitude

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"trailguardian/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpdate_GPSOnlyIsMovingAverage(t *testing.T) {
	e := New(DefaultConfig())
	var vals []float64
	for i := 0; i < 25; i++ {
		v := 1000 + float64(i)*3
		vals = append(vals, v)
		e.Update(v, 0, t0.Add(time.Duration(i)*time.Second))

		start := len(vals) - 10
		if start < 0 {
			start = 0
		}
		sum := 0.0
		for _, x := range vals[start:] {
			sum += x
		}
		want := sum / float64(len(vals)-start)
		if got := e.FusedAltitude(); !approx(got, want) {
			t.Fatalf("step=%d got=%v want=%v", i, got, want)
		}
	}
}

func TestUpdate_BothStreamsWeighted(t *testing.T) {
	e := New(DefaultConfig())
	// First non-zero baro sets the baseline to 50, so the absolute candidate is 100.
	e.Update(1000, 50, t0)
	want := 0.3*1000 + 0.7*100
	if got := e.FusedAltitude(); !approx(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}

	e.Update(1010, 60, t0.Add(time.Second))
	gpsMean := (1000.0 + 1010.0) / 2
	baroMean := (100.0 + 110.0) / 2
	want = 0.3*gpsMean + 0.7*baroMean
	if got := e.FusedAltitude(); !approx(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestUpdate_ZeroBaroNeverCalibrates(t *testing.T) {
	e := New(DefaultConfig())
	for i := 0; i < 50; i++ {
		e.Update(800, 0, t0)
	}
	snap := e.Snapshot()
	if snap.Calibration.State != Uncalibrated {
		t.Fatalf("calibration=%v want uncalibrated", snap.Calibration.State)
	}
	if snap.BaroSamples != 0 {
		t.Fatalf("baroSamples=%d want 0", snap.BaroSamples)
	}

	e.Update(800, 12, t0)
	e.Update(800, 0, t0)
	e.Update(800, 40, t0)
	snap = e.Snapshot()
	if snap.Calibration.State != Calibrated || snap.Calibration.Baseline != 12 {
		t.Fatalf("calibration=%+v want baseline 12", snap.Calibration)
	}
	if snap.BaroSamples != 2 {
		t.Fatalf("baroSamples=%d want 2", snap.BaroSamples)
	}
}

func TestUpdate_NonFiniteDropped(t *testing.T) {
	e := New(DefaultConfig())
	e.Update(500, 0, t0)
	before := e.Snapshot()

	e.Update(math.NaN(), 10, t0)
	e.Update(600, math.Inf(1), t0)
	after := e.Snapshot()
	if after != before {
		t.Fatalf("state changed: before=%+v after=%+v", before, after)
	}
}

func TestUpdate_OutOfRangeRejected(t *testing.T) {
	e := New(DefaultConfig())
	e.Update(9000, 0, t0)
	e.Update(-500, 0, t0)
	if got := e.FusedAltitude(); got != 0 {
		t.Fatalf("got=%v want unchanged 0", got)
	}
	if n := e.Snapshot().GPSSamples; n != 0 {
		t.Fatalf("gpsSamples=%d want 0", n)
	}

	e.Update(8999.9, 0, t0)
	if got := e.FusedAltitude(); !approx(got, 8999.9) {
		t.Fatalf("got=%v want 8999.9", got)
	}
	// Invalid GPS after data exists keeps the previous published value.
	e.Update(12000, 0, t0)
	if got := e.FusedAltitude(); !approx(got, 8999.9) {
		t.Fatalf("got=%v want 8999.9", got)
	}
}

func TestUpdate_BaroOnlyWhenGPSInvalid(t *testing.T) {
	e := New(DefaultConfig())
	e.Update(99999, 100, t0)
	if got := e.FusedAltitude(); !approx(got, 200) {
		t.Fatalf("got=%v want 200", got)
	}
}

func TestReset_MatchesFreshEngine(t *testing.T) {
	used := New(DefaultConfig())
	for i := 0; i < 30; i++ {
		used.Update(1200+float64(i), float64(i+1), t0)
	}
	used.Reset()
	used.Update(700, 5, t0)

	fresh := New(DefaultConfig())
	fresh.Update(700, 5, t0)

	if got, want := used.Snapshot(), fresh.Snapshot(); got != want {
		t.Fatalf("after reset got=%+v want=%+v", got, want)
	}
}

func TestUpdate_BuffersNeverExceedWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		window := 1 + rng.Intn(15)
		cfg := DefaultConfig()
		cfg.Window = window
		e := New(cfg)
		n := rng.Intn(200)
		for i := 0; i < n; i++ {
			e.Update(rng.Float64()*3000, rng.Float64()*20-10, t0)
			snap := e.Snapshot()
			if snap.GPSSamples > window || snap.BaroSamples > window {
				t.Fatalf("window=%d gps=%d baro=%d", window, snap.GPSSamples, snap.BaroSamples)
			}
		}
	}
}

func TestEngine_ConcurrentUpdatesAndReset(t *testing.T) {
	e := New(DefaultConfig())
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				e.Update(1000+float64(w), float64(i%7), t0)
				_ = e.FusedAltitude()
				if i%97 == 0 {
					e.Reset()
				}
			}
		}(w)
	}
	wg.Wait()

	e.Reset()
	snap := e.Snapshot()
	if snap.GPSSamples != 0 || snap.BaroSamples != 0 || snap.FusedM != 0 || snap.Calibration.State != Uncalibrated {
		t.Fatalf("reset left state behind: %+v", snap)
	}
}

func TestPush_EvictsOldestFirst(t *testing.T) {
	buf := make([]float64, 0, 3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		buf = push(buf, v, 3)
	}
	want := []float64{3, 4, 5}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("buf=%v want=%v", buf, want)
		}
	}
}
