package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"trailguardian/internal/trail"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

func dialGPSD(ctx context.Context, addr string) (net.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		addr = gpsdDefaultAddr
	}
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports in SI units.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Mode *int   `json:"mode"`
	Time string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	Alt     *float64 `json:"alt"`
	AltMSL  *float64 `json:"altMSL"`
	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSKY struct {
	HDOP       *float64 `json:"hdop"`
	Satellites []struct {
		Used bool `json:"used"`
	} `json:"satellites"`
}

type gpsdState struct {
	addr  string
	uereM float64

	hdop   float64
	hdopOK bool
	sats   int

	last    trail.Fix
	gpsTime time.Time
	fixes   int
	lastErr string
}

func newGPSDState(addr string, uereM float64) *gpsdState {
	return &gpsdState{addr: addr, uereM: uereM}
}

// applyLine folds one gpsd report into the state. TPV reports with a 2D/3D
// fix and an altitude return a fix.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (trail.Fix, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return trail.Fix{}, false, fmt.Errorf("gpsd json parse failed: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return trail.Fix{}, false, fmt.Errorf("gpsd tpv parse failed: %w", err)
		}
		fix, ok := s.applyTPV(nowUTC, tpv)
		return fix, ok, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return trail.Fix{}, false, fmt.Errorf("gpsd sky parse failed: %w", err)
		}
		s.applySKY(sky)
	}
	return trail.Fix{}, false, nil
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) (trail.Fix, bool) {
	if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return trail.Fix{}, false
	}
	alt := tpv.AltMSL
	if alt == nil {
		alt = tpv.Alt
	}
	if alt == nil {
		return trail.Fix{}, false
	}

	fix := trail.Fix{
		Timestamp:           nowUTC,
		Lat:                 *tpv.Lat,
		Lng:                 *tpv.Lon,
		AltitudeM:           *alt,
		HeadingDeg:          -1,
		HorizontalAccuracyM: -1,
	}
	s.gpsTime = time.Time{}
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			s.gpsTime = t.UTC()
		}
	}
	if tpv.SpeedMS != nil {
		fix.SpeedMps = *tpv.SpeedMS
	}
	if tpv.Track != nil {
		fix.HeadingDeg = *tpv.Track
	}
	switch {
	case tpv.Eph != nil:
		fix.HorizontalAccuracyM = *tpv.Eph
	case tpv.Epx != nil && tpv.Epy != nil:
		fix.HorizontalAccuracyM = math.Hypot(*tpv.Epx, *tpv.Epy)
	case s.hdopOK:
		fix.HorizontalAccuracyM = s.hdop * s.uereM
	}

	s.last = fix
	s.fixes++
	return fix, true
}

func (s *gpsdState) applySKY(sky gpsdSKY) {
	if sky.HDOP != nil {
		s.hdop, s.hdopOK = *sky.HDOP, true
	}
	if len(sky.Satellites) > 0 {
		used := 0
		for _, sat := range sky.Satellites {
			if sat.Used {
				used++
			}
		}
		s.sats = used
	}
}

func (s *gpsdState) snapshot() Snapshot {
	out := Snapshot{
		Enabled:  true,
		Valid:    s.fixes > 0,
		Source:   "gpsd",
		GPSDAddr: s.addr,
		Fixes:    s.fixes,
	}
	if s.fixes > 0 {
		f := s.last
		out.LatDeg, out.LonDeg = f.Lat, f.Lng
		out.AltitudeM = &f.AltitudeM
		out.SpeedMps = &f.SpeedMps
		if f.HeadingDeg >= 0 {
			out.CourseDeg = &f.HeadingDeg
		}
		if f.HorizontalAccuracyM >= 0 {
			out.HorizAccM = &f.HorizontalAccuracyM
		}
		out.LastFixUTC = f.Timestamp.Format(time.RFC3339Nano)
		if !s.gpsTime.IsZero() {
			out.GPSTimeUTC = s.gpsTime.Format(time.RFC3339Nano)
		}
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if s.sats > 0 {
		v := s.sats
		out.Satellites = &v
	}
	out.LastError = s.lastErr
	return out
}
