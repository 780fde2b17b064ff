package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"trailguardian/internal/ahrs"
	"trailguardian/internal/config"
	"trailguardian/internal/gps"
	"trailguardian/internal/replay"
	"trailguardian/internal/session"
	"trailguardian/internal/store"
	"trailguardian/internal/trail"
	"trailguardian/internal/web"
)

// liveRuntime owns the collaborators of a live tracking run.
type liveRuntime struct {
	cfg   config.Config
	sess  *session.Session
	store *store.Store
	gps   *gps.Service
	imu   *ahrs.Service
	logs  *web.LogBuffer

	recMu    sync.Mutex
	recorder *replay.Writer
}

var _ ahrs.Sink = (*liveRuntime)(nil)

func newLiveRuntime(ctx context.Context, cfg config.Config, logs *web.LogBuffer) (*liveRuntime, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("store open failed path=%s: %w", cfg.Store.Path, err)
	}
	r := &liveRuntime{
		cfg:   cfg,
		sess:  session.New(cfg.Session()),
		store: st,
		gps:   gps.New(cfg.GPSService()),
		imu:   ahrs.New(cfg.IMUService()),
		logs:  logs,
	}

	if err := r.resumeOrStart(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	r.sess.SetVehicle(cfg.Vehicle)

	if p := cfg.Record.Path; p != "" {
		w, err := replay.CreateWriter(p)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("record log create failed path=%s: %w", p, err)
		}
		r.recorder = w
		log.Printf("recording fixes path=%s", p)
	}
	return r, nil
}

// resumeOrStart continues an autosaved trip left by a crash, or starts fresh.
func (r *liveRuntime) resumeOrStart(ctx context.Context) error {
	t, err := r.store.LoadTemp(ctx)
	switch {
	case err == nil:
		r.sess.Resume(t)
		log.Printf("recovered in-progress trip id=%s points=%d", t.ID, len(t.Points))
		return nil
	case errors.Is(err, store.ErrNotFound):
		r.sess.Start("")
		return nil
	default:
		return fmt.Errorf("load autosaved trip: %w", err)
	}
}

func (r *liveRuntime) record(rec replay.Record) {
	r.recMu.Lock()
	defer r.recMu.Unlock()
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Write(time.Now(), rec); err != nil {
		log.Printf("record write failed kind=%s: %v", rec.Kind, err)
	}
}

func (r *liveRuntime) onFix(f trail.Fix) {
	r.record(replay.FixRecord(f))
	r.sess.OnFix(f)
}

// The On* methods tee IMU callbacks into the record log before the session.

func (r *liveRuntime) OnBarometer(relAltM float64) {
	r.record(replay.Record{Kind: replay.KindBaro, Values: []float64{relAltM}})
	r.sess.OnBarometer(relAltM)
}

func (r *liveRuntime) OnAttitude(pitchRad, rollRad float64) {
	r.record(replay.Record{Kind: replay.KindAtt, Values: []float64{pitchRad, rollRad}})
	r.sess.OnAttitude(pitchRad, rollRad)
}

func (r *liveRuntime) OnUserAcceleration(ax, ay, az float64) {
	r.record(replay.Record{Kind: replay.KindUAcc, Values: []float64{ax, ay, az}})
	r.sess.OnUserAcceleration(ax, ay, az)
}

func (r *liveRuntime) OnRawAcceleration(at time.Time, ax, ay, az float64) {
	r.record(replay.Record{Kind: replay.KindRAcc, Values: []float64{ax, ay, az}})
	r.sess.OnRawAcceleration(at, ax, ay, az)
}

// Run blocks until ctx is done, then finishes and saves the trip.
func (r *liveRuntime) Run(ctx context.Context) error {
	if err := r.gps.Start(ctx, r.onFix); err != nil {
		// The receiver may come up later; keep tracking sensors and the API.
		log.Printf("gps start failed: %v", err)
	}
	if err := r.imu.Start(ctx, r); err != nil {
		log.Printf("imu start failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.sess.Run(ctx, r.store)
	}()

	if addr := r.cfg.Web.Listen; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("web listening addr=%s", addr)
			src := web.Sources{Status: r.sess, Trips: r.store, GPS: r.gps, IMU: r.imu, Logs: r.logs}
			if err := web.Serve(ctx, addr, src); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("web server stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	r.gps.Close()
	r.imu.Close()
	wg.Wait()
	return r.finish()
}

func (r *liveRuntime) finish() error {
	trip := r.sess.Finish()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, trip); err != nil {
		return fmt.Errorf("save trip %s: %w", trip.ID, err)
	}
	if err := r.store.ClearTemp(ctx); err != nil {
		log.Printf("clear autosave failed: %v", err)
	}
	log.Printf("saved trip id=%s score=%d", trip.ID, trip.Ratings.SuttonScore)
	return nil
}

func (r *liveRuntime) Close() {
	r.recMu.Lock()
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			log.Printf("record log close failed: %v", err)
		}
		r.recorder = nil
	}
	r.recMu.Unlock()
	if err := r.store.Close(); err != nil {
		log.Printf("store close failed: %v", err)
	}
}

func runLive(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("run")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, errUsage)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	rt, err := newLiveRuntime(ctx, cfg, logs)
	if err != nil {
		return err
	}
	defer rt.Close()

	log.Printf("trailguardian starting")
	err = rt.Run(ctx)
	log.Printf("trailguardian stopping")
	return err
}
