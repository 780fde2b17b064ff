// Package web serves the live session status and stored trips as JSON.
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"trailguardian/internal/ahrs"
	"trailguardian/internal/gps"
	"trailguardian/internal/session"
	"trailguardian/internal/store"
)

type StatusSource interface {
	Status() session.Status
}

type TripStore interface {
	List(ctx context.Context) ([]store.Summary, error)
	Get(ctx context.Context, id uuid.UUID) (session.Trip, error)
}

type GPSSource interface {
	Snapshot() gps.Snapshot
}

type IMUSource interface {
	Snapshot() ahrs.Snapshot
}

// Sources are the collaborators behind the API. Any of them may be nil.
type Sources struct {
	Status StatusSource
	Trips  TripStore
	GPS    GPSSource
	IMU    IMUSource
	Logs   *LogBuffer
}

type StatusSnapshot struct {
	Service string          `json:"service"`
	NowUTC  string          `json:"now_utc"`
	Session *session.Status `json:"session,omitempty"`
	GPS     *gps.Snapshot   `json:"gps,omitempty"`
	IMU     *ahrs.Snapshot  `json:"imu,omitempty"`
}

func Handler(src Sources) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		snap := StatusSnapshot{Service: "trailguardian", NowUTC: time.Now().UTC().Format(time.RFC3339Nano)}
		if src.Status != nil {
			st := src.Status.Status()
			snap.Session = &st
		}
		if src.GPS != nil {
			g := src.GPS.Snapshot()
			snap.GPS = &g
		}
		if src.IMU != nil {
			m := src.IMU.Snapshot()
			snap.IMU = &m
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, snap)
	})

	mux.HandleFunc("/api/trips", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if src.Trips == nil {
			http.Error(w, "trip store unavailable", http.StatusNotFound)
			return
		}
		list, err := src.Trips.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	mux.HandleFunc("/api/trips/", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}
		if src.Trips == nil {
			http.Error(w, "trip store unavailable", http.StatusNotFound)
			return
		}
		raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/trips/"), "/")
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid trip id", http.StatusBadRequest)
			return
		}
		trip, err := src.Trips.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "trip not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, trip)
	})

	if src.Logs != nil {
		mux.Handle("/api/logs", src.Logs.Handler())
	}
	return mux
}

// Serve runs the API on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, src Sources) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(src),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
