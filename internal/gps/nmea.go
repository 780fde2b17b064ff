package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"trailguardian/internal/trail"
)

const knotsToMps = 0.514444444

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	var got byte
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPRMC, GNRMC, ... all normalize to RMC.
	typ := parts[0][len(parts[0])-3:]
	return nmeaSentence{Type: strings.ToUpper(typ), Fields: parts}, nil
}

// nmeaState accumulates RMC and GGA sentences into fixes.
type nmeaState struct {
	uereM float64

	latDeg, lonDeg float64
	posOK          bool

	speedMps float64
	courseOK bool
	course   float64

	altM  float64
	altOK bool

	fixQuality int
	satellites int
	hdop       float64
	hdopOK     bool

	fixes   int
	lastFix time.Time
	gpsTime time.Time
}

// apply folds one sentence into the state. It returns a fix and true when the
// sentence completes one.
func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) (trail.Fix, bool) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		s.applyGGA(sent.Fields)
	}
	return trail.Fix{}, false
}

// RMC: Recommended Minimum Specific GNSS Data
//
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3,4: latitude, N/S
//	5,6: longitude, E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) (trail.Fix, bool) {
	if len(f) < 10 {
		return trail.Fix{}, false
	}
	if strings.TrimSpace(f[2]) != "A" {
		return trail.Fix{}, false
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return trail.Fix{}, false
	}
	s.latDeg, s.lonDeg, s.posOK = lat, lon, true

	s.speedMps = 0
	if kt, ok := parseFloat(f[7]); ok {
		s.speedMps = kt * knotsToMps
	}
	s.course, s.courseOK = 0, false
	if c, ok := parseFloat(f[8]); ok {
		s.course = math.Mod(c+360.0, 360.0)
		s.courseOK = true
	}

	if !s.altOK {
		return trail.Fix{}, false
	}

	// Fixes carry the host receive time so they pair with motion snapshots
	// stamped by the same clock.
	s.gpsTime = time.Time{}
	if ts, ok := parseNMEATime(f[9], f[1]); ok {
		s.gpsTime = ts
	}
	fix := trail.Fix{
		Timestamp:           nowUTC,
		Lat:                 s.latDeg,
		Lng:                 s.lonDeg,
		AltitudeM:           s.altM,
		SpeedMps:            s.speedMps,
		HeadingDeg:          -1,
		HorizontalAccuracyM: -1,
	}
	if s.courseOK {
		fix.HeadingDeg = s.course
	}
	if s.hdopOK {
		fix.HorizontalAccuracyM = s.hdop * s.uereM
	}
	s.fixes++
	s.lastFix = nowUTC
	return fix, true
}

// GGA: Global Positioning System Fix Data
//
//	2-5: lat, N/S, lon, E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9,10: altitude, units (M)
func (s *nmeaState) applyGGA(f []string) {
	if len(f) < 11 {
		return
	}
	q, err := strconv.Atoi(strings.TrimSpace(f[6]))
	if err != nil || q == 0 {
		return
	}
	s.fixQuality = q
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.satellites = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop, s.hdopOK = hdop, true
	}
	if alt, ok := parseFloat(f[9]); ok {
		s.altM, s.altOK = alt, true
	}
}

func (s *nmeaState) snapshot() Snapshot {
	out := Snapshot{
		Enabled: true,
		Valid:   s.posOK && s.altOK,
		Source:  "nmea",
		LatDeg:  s.latDeg,
		LonDeg:  s.lonDeg,
		Fixes:   s.fixes,
	}
	if s.altOK {
		v := s.altM
		out.AltitudeM = &v
	}
	if s.posOK {
		v := s.speedMps
		out.SpeedMps = &v
	}
	if s.courseOK {
		v := s.course
		out.CourseDeg = &v
	}
	if s.fixQuality > 0 {
		q, n := s.fixQuality, s.satellites
		out.FixQuality = &q
		out.Satellites = &n
	}
	if s.hdopOK {
		v := s.hdop
		out.HDOP = &v
	}
	if !s.lastFix.IsZero() {
		out.LastFixUTC = s.lastFix.UTC().Format(time.RFC3339Nano)
	}
	if !s.gpsTime.IsZero() {
		out.GPSTimeUTC = s.gpsTime.Format(time.RFC3339Nano)
	}
	return out
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines RMC ddmmyy and hhmmss[.sss] into a UTC time.
func parseNMEATime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	d, err := time.Parse("020106", date)
	if err != nil {
		return time.Time{}, false
	}
	c, err := time.Parse("150405", clock[:6])
	if err != nil {
		return time.Time{}, false
	}
	var frac time.Duration
	if len(clock) > 7 && clock[6] == '.' {
		f, err := strconv.ParseFloat("0"+clock[6:], 64)
		if err != nil {
			return time.Time{}, false
		}
		frac = time.Duration(math.Round(f * 1e3)) * time.Millisecond
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, time.UTC).Add(frac), true
}

// parseNMEALatLon parses ddmm.mmmm (lat) or dddmm.mmmm (lon) plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	intPart := v
	if dot := strings.IndexByte(v, '.'); dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
