package replay

import (
	"fmt"
	"time"

	"trailguardian/internal/difficulty"
	"trailguardian/internal/trail"
)

// Sink receives decoded sensor records. *session.Session implements it.
type Sink interface {
	OnFix(trail.Fix) bool
	OnBarometer(relAltM float64)
	OnAttitude(pitchRad, rollRad float64)
	OnUserAcceleration(ax, ay, az float64)
	OnRawAcceleration(at time.Time, ax, ay, az float64)
	AddWeather(difficulty.WeatherSnapshot)
}

// Apply dispatches one record to sink, stamped at origin+rec.At. START markers
// are ignored.
func Apply(sink Sink, origin time.Time, rec Record) error {
	at := origin.Add(rec.At)
	v := rec.Values
	if want, ok := numValues[rec.Kind]; ok && len(v) != want {
		return fmt.Errorf("%s wants %d values, got %d", rec.Kind, want, len(v))
	}
	switch rec.Kind {
	case KindStart:
	case KindFix:
		sink.OnFix(trail.Fix{
			Timestamp:           at,
			Lat:                 v[0],
			Lng:                 v[1],
			AltitudeM:           v[2],
			SpeedMps:            v[3],
			HeadingDeg:          v[4],
			HorizontalAccuracyM: v[5],
		})
	case KindBaro:
		sink.OnBarometer(v[0])
	case KindAtt:
		sink.OnAttitude(v[0], v[1])
	case KindUAcc:
		sink.OnUserAcceleration(v[0], v[1], v[2])
	case KindRAcc:
		sink.OnRawAcceleration(at, v[0], v[1], v[2])
	case KindWx:
		sink.AddWeather(difficulty.WeatherSnapshot{
			Timestamp:       at,
			PrecipitationIn: v[0],
			TemperatureF:    v[1],
			WindSpeedMph:    v[2],
			Condition:       rec.Text,
		})
	default:
		return fmt.Errorf("unknown kind %q", rec.Kind)
	}
	return nil
}

// FixRecord encodes a fix for a Writer.
func FixRecord(f trail.Fix) Record {
	return Record{Kind: KindFix, Values: []float64{f.Lat, f.Lng, f.AltitudeM, f.SpeedMps, f.HeadingDeg, f.HorizontalAccuracyM}}
}

// Summary counts the records of a log.
type Summary struct {
	Segments    int
	Records     int
	MaxDuration time.Duration
	Counts      map[Kind]int
}

func Summarize(records []Record) Summary {
	s := Summary{Counts: map[Kind]int{}}
	hasData := false
	for _, r := range records {
		if r.IsStart() {
			s.Segments++
			continue
		}
		hasData = true
		s.Records++
		s.Counts[r.Kind]++
		if r.At > s.MaxDuration {
			s.MaxDuration = r.At
		}
	}
	if s.Segments == 0 && hasData {
		s.Segments = 1
	}
	return s
}
