package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Log format: line-oriented text.
//
//   - Blank lines and lines starting with '#' are ignored.
//   - Line "START" begins a segment (next record time is relative to 0 again).
//   - Data lines are <t_ns>,<kind>,<v1>,<v2>,... where t_ns is nanoseconds
//     since START and kind is one of fix, baro, att, uacc, racc, wx.
//
// Values per kind:
//
//	fix   lat,lng,alt_m,speed_mps,heading_deg,accuracy_m
//	baro  rel_alt_m
//	att   pitch_rad,roll_rad
//	uacc  ax,ay,az (g, gravity removed)
//	racc  ax,ay,az (g, gravity included)
//	wx    precip_in,temp_f,wind_mph,condition

type Kind string

const (
	KindStart Kind = "START"
	KindFix   Kind = "fix"
	KindBaro  Kind = "baro"
	KindAtt   Kind = "att"
	KindUAcc  Kind = "uacc"
	KindRAcc  Kind = "racc"
	KindWx    Kind = "wx"
)

// numValues is the count of numeric fields per kind. wx carries one extra
// free-text condition.
var numValues = map[Kind]int{
	KindFix:  6,
	KindBaro: 1,
	KindAtt:  2,
	KindUAcc: 3,
	KindRAcc: 3,
	KindWx:   3,
}

// Kinds lists the data kinds.
var Kinds = []Kind{KindFix, KindBaro, KindAtt, KindUAcc, KindRAcc, KindWx}

type Record struct {
	At     time.Duration
	Kind   Kind
	Values []float64
	// Text is the wx condition.
	Text string
}

func (r Record) IsStart() bool { return r.Kind == KindStart }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == string(KindStart) {
			recs = append(recs, Record{Kind: KindStart})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return Record{}, fmt.Errorf("invalid line (want <t_ns>,<kind>,<values>): %q", line)
	}
	tsStr := strings.TrimSpace(parts[0])
	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid timestamp (negative): %d", tsNs)
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(parts[1])))
	want, ok := numValues[kind]
	if !ok {
		return Record{}, fmt.Errorf("unknown kind %q", parts[1])
	}
	fields := parts[2:]
	rec := Record{At: time.Duration(tsNs), Kind: kind}
	if kind == KindWx {
		if len(fields) != want+1 {
			return Record{}, fmt.Errorf("%s wants %d values, got %d", kind, want+1, len(fields))
		}
		rec.Text = strings.TrimSpace(fields[want])
		fields = fields[:want]
	} else if len(fields) != want {
		return Record{}, fmt.Errorf("%s wants %d values, got %d", kind, want, len(fields))
	}

	rec.Values = make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Record{}, fmt.Errorf("%s value %d: %w", kind, i, err)
		}
		rec.Values[i] = v
	}
	return rec, nil
}

type Writer struct {
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

// CreateWriter truncates path and writes a START marker. Record times are
// measured from the call.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString(string(KindStart) + "\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

// Write appends one record stamped at now. rec.At is ignored.
func (ww *Writer) Write(now time.Time, rec Record) error {
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	want, ok := numValues[rec.Kind]
	if !ok {
		return fmt.Errorf("unknown kind %q", rec.Kind)
	}
	if len(rec.Values) != want {
		return fmt.Errorf("%s wants %d values, got %d", rec.Kind, want, len(rec.Values))
	}

	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	var b strings.Builder
	b.WriteString(strconv.FormatInt(d.Nanoseconds(), 10))
	b.WriteByte(',')
	b.WriteString(string(rec.Kind))
	for _, v := range rec.Values {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	if rec.Kind == KindWx {
		b.WriteByte(',')
		b.WriteString(strings.ReplaceAll(rec.Text, ",", " "))
	}
	b.WriteByte('\n')
	_, err := ww.w.WriteString(b.String())
	return err
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// cb is invoked for each data record. The At it receives is the elapsed log
// time since the first record: START markers continue from where the previous
// segment ended, so At never decreases.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	var base time.Duration
	for {
		var lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if r.IsStart() {
				base += lastAt
				lastAt = 0
				haveLast = false
				continue
			}

			if haveLast {
				wait := r.At - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			at := r.At
			if haveLast && at < lastAt {
				at = lastAt
			}
			out := r
			out.At = base + at
			if err := cb(out); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
		base += lastAt
	}
}
