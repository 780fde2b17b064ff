package gps

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

const (
	rmcPayload = "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"
	ggaPayload = "GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

var now = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, payload string) nmeaSentence {
	t.Helper()
	s, err := parseNMEASentence(nmeaLine(payload))
	if err != nil {
		t.Fatalf("parse %q: %v", payload, err)
	}
	return s
}

func TestParseNMEASentence_ChecksumOK(t *testing.T) {
	s := mustParse(t, rmcPayload)
	if s.Type != "RMC" {
		t.Fatalf("expected type RMC, got %q", s.Type)
	}
	if g := mustParse(t, ggaPayload); g.Type != "GGA" {
		t.Fatalf("expected GN talker normalized to GGA, got %q", g.Type)
	}
}

func TestParseNMEASentence_Errors(t *testing.T) {
	good := nmeaLine(rmcPayload)
	cases := map[string]string{
		"NoDollar":   good[1:],
		"NoChecksum": "$" + rmcPayload,
		"Short":      "$" + rmcPayload + "*0",
		"BadHex":     "$" + rmcPayload + "*ZZ",
		"Mismatch":   good[:len(good)-2] + "00",
		"ShortType":  nmeaLine("GP"),
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseNMEASentence(line); err == nil {
				t.Fatalf("expected error for %q", line)
			}
		})
	}
}

func TestNMEAState_RMCWithoutAltitudeNoFix(t *testing.T) {
	st := nmeaState{uereM: 5}
	if _, ok := st.apply(now, mustParse(t, rmcPayload)); ok {
		t.Fatalf("expected no fix before GGA altitude")
	}
	snap := st.snapshot()
	if snap.Valid {
		t.Fatalf("expected invalid snapshot without altitude")
	}
	if snap.SpeedMps == nil || snap.CourseDeg == nil {
		t.Fatalf("expected speed and course recorded")
	}
}

func TestNMEAState_GGAThenRMCEmitsFix(t *testing.T) {
	st := nmeaState{uereM: 5}
	if _, ok := st.apply(now, mustParse(t, ggaPayload)); ok {
		t.Fatalf("GGA alone must not emit")
	}
	fix, ok := st.apply(now, mustParse(t, rmcPayload))
	if !ok {
		t.Fatalf("expected fix")
	}

	if !fix.Timestamp.Equal(now) {
		t.Fatalf("timestamp=%s want receive time %s", fix.Timestamp, now)
	}
	if math.Abs(fix.Lat-(48+7.038/60)) > 1e-9 || math.Abs(fix.Lng-(11+31.0/60)) > 1e-9 {
		t.Fatalf("lat/lng=%v,%v", fix.Lat, fix.Lng)
	}
	if math.Abs(fix.AltitudeM-545.4) > 1e-9 {
		t.Fatalf("alt=%v want 545.4", fix.AltitudeM)
	}
	if math.Abs(fix.SpeedMps-22.4*knotsToMps) > 1e-9 {
		t.Fatalf("speed=%v", fix.SpeedMps)
	}
	if math.Abs(fix.HeadingDeg-84.4) > 1e-9 {
		t.Fatalf("heading=%v want 84.4", fix.HeadingDeg)
	}
	if math.Abs(fix.HorizontalAccuracyM-4.5) > 1e-9 {
		t.Fatalf("accuracy=%v want 0.9*5", fix.HorizontalAccuracyM)
	}

	snap := st.snapshot()
	if !snap.Valid || snap.Fixes != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.FixQuality == nil || *snap.FixQuality != 1 || snap.Satellites == nil || *snap.Satellites != 8 {
		t.Fatalf("quality/sats=%v/%v", snap.FixQuality, snap.Satellites)
	}
	if snap.GPSTimeUTC != "1994-03-23T12:35:19Z" || snap.LastFixUTC != "2020-01-01T00:00:00Z" {
		t.Fatalf("gps_time=%q last_fix=%q", snap.GPSTimeUTC, snap.LastFixUTC)
	}
}

func TestNMEAState_MissingCourseAndHDOP(t *testing.T) {
	st := nmeaState{uereM: 5}
	st.apply(now, mustParse(t, "GPGGA,123519,4807.038,N,01131.000,E,1,08,,545.4,M,46.9,M,,"))
	fix, ok := st.apply(now, mustParse(t, "GPRMC,123520,A,4807.038,N,01131.000,E,000.0,,230394,003.1,W"))
	if !ok {
		t.Fatalf("expected fix")
	}
	if fix.HeadingDeg != -1 {
		t.Fatalf("heading=%v want -1", fix.HeadingDeg)
	}
	if fix.HorizontalAccuracyM != -1 {
		t.Fatalf("accuracy=%v want -1", fix.HorizontalAccuracyM)
	}
}

func TestNMEAState_VoidAndNoFixIgnored(t *testing.T) {
	st := nmeaState{uereM: 5}
	st.apply(now, mustParse(t, "GPGGA,123519,4807.038,N,01131.000,E,0,00,,,M,,M,,"))
	if st.altOK {
		t.Fatalf("quality 0 GGA must not set altitude")
	}
	st.apply(now, mustParse(t, ggaPayload))
	if _, ok := st.apply(now, mustParse(t, "GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")); ok {
		t.Fatalf("void RMC must not emit")
	}
}

func TestNMEAState_BadDateStillEmits(t *testing.T) {
	st := nmeaState{uereM: 5}
	st.apply(now, mustParse(t, ggaPayload))
	fix, ok := st.apply(now, mustParse(t, "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,,003.1,W"))
	if !ok {
		t.Fatalf("expected fix")
	}
	if !fix.Timestamp.Equal(now) {
		t.Fatalf("timestamp=%s want %s", fix.Timestamp, now)
	}
	if snap := st.snapshot(); snap.GPSTimeUTC != "" {
		t.Fatalf("gps_time=%q want empty", snap.GPSTimeUTC)
	}
}

func TestNMEAState_ReceiverClockSkewIgnored(t *testing.T) {
	st := nmeaState{uereM: 5}
	recv := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	st.apply(recv, mustParse(t, ggaPayload))
	// Receiver reports 1994 while the host reads 2024.
	first, _ := st.apply(recv, mustParse(t, rmcPayload))
	second, ok := st.apply(recv.Add(time.Second), mustParse(t, "GPRMC,113519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	if !ok {
		t.Fatalf("expected fix")
	}
	if !first.Timestamp.Equal(recv) || !second.Timestamp.Equal(recv.Add(time.Second)) {
		t.Fatalf("timestamps=%s,%s want receive times", first.Timestamp, second.Timestamp)
	}
}

func TestParseNMEATime_Fraction(t *testing.T) {
	got, ok := parseNMEATime("010124", "235959.25")
	if !ok {
		t.Fatalf("expected ok")
	}
	want := time.Date(2024, 1, 1, 23, 59, 59, 250*int(time.Millisecond), time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got=%s want=%s", got, want)
	}
}

func TestParseNMEALatLon(t *testing.T) {
	cases := []struct {
		v, hemi string
		want    float64
		ok      bool
	}{
		{"4807.038", "N", 48.1173, true},
		{"4807.038", "S", -48.1173, true},
		{"01131.000", "W", -(11 + 31.0/60), true},
		{"", "N", 0, false},
		{"4807.038", "X", 0, false},
		{"07", "N", 0, false},
		{"4870.000", "N", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseNMEALatLon(tc.v, tc.hemi)
		if ok != tc.ok || math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("parseNMEALatLon(%q,%q)=%v,%v want %v,%v", tc.v, tc.hemi, got, ok, tc.want, tc.ok)
		}
	}
}
