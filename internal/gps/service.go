package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"trailguardian/internal/monitoring"
	"trailguardian/internal/trail"
)

// Config controls the GPS reader.
//
// Device may be empty to auto-detect /dev/ttyACM* or /dev/ttyUSB*.
type Config struct {
	Enable bool

	// Source selects how GPS is ingested: "nmea" (direct serial) or "gpsd".
	// When empty, defaults to "nmea".
	Source string

	// GPSDAddr is host:port for gpsd when Source=="gpsd".
	GPSDAddr string

	Device string
	Baud   int

	// UEREM scales HDOP into horizontal accuracy (meters). Defaults to 5.
	UEREM float64
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltitudeM  *float64 `json:"altitude_m,omitempty"`
	SpeedMps   *float64 `json:"speed_mps,omitempty"`
	CourseDeg  *float64 `json:"course_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	Fixes      int      `json:"fixes"`

	// LastFixUTC is the host receive time of the last fix. GPSTimeUTC is
	// the receiver clock for the same fix and may disagree with the host.
	LastFixUTC string `json:"last_fix_utc,omitempty"`
	GPSTimeUTC string `json:"gps_time_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// FixFunc receives each fix in arrival order on the reader goroutine.
type FixFunc func(trail.Fix)

type Service struct {
	cfg Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	last atomic.Value // Snapshot

	mu     sync.Mutex
	closer io.Closer
}

func New(cfg Config) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = "nmea"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.UEREM <= 0 {
		cfg.UEREM = 5
	}
	s := &Service{cfg: cfg}
	s.last.Store(Snapshot{Enabled: cfg.Enable, Source: cfg.Source, GPSDAddr: strings.TrimSpace(cfg.GPSDAddr), Device: cfg.Device, Baud: cfg.Baud})
	return s
}

// Start opens the configured source and delivers fixes to onFix until ctx is
// done or Close is called. A disabled service is a no-op.
func (s *Service) Start(ctx context.Context, onFix FixFunc) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if onFix == nil {
		return fmt.Errorf("onFix is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	if s.cfg.Source == "gpsd" {
		return s.startGPSDLocked(ctx, onFix)
	}
	return s.startNMEALocked(ctx, onFix)
}

func (s *Service) startNMEALocked(ctx context.Context, onFix FixFunc) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			s.setErrorLocked("gps auto-detect failed: no /dev/ttyACM* or /dev/ttyUSB* found")
			return fmt.Errorf("gps auto-detect failed")
		}
	}

	f, err := openSerial(device, s.cfg.Baud)
	if err != nil {
		err = fmt.Errorf("gps serial device=%s baud=%d: %w", device, s.cfg.Baud, err)
		s.setErrorLocked(err.Error())
		return err
	}
	s.closer = f
	s.last.Store(Snapshot{Enabled: true, Source: "nmea", Device: device, Baud: s.cfg.Baud})
	monitoring.Logf("gps enabled device=%s baud=%d", device, s.cfg.Baud)
	s.startReaderLocked(ctx, f, onFix)
	return nil
}

// startReaderLocked runs the NMEA loop over r in a goroutine and closes r when
// it returns.
func (s *Service) startReaderLocked(ctx context.Context, r io.ReadCloser, onFix FixFunc) {
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = r.Close() }()
		s.readNMEA(childCtx, r, onFix)
	}()
}

func (s *Service) readNMEA(ctx context.Context, r io.Reader, onFix FixFunc) {
	sc := bufio.NewScanner(r)
	// NMEA sentences are typically < 82 chars.
	sc.Buffer(make([]byte, 0, 256), 4096)

	st := nmeaState{uereM: s.cfg.UEREM}
	base := s.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !sc.Scan() {
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
			return
		}
		line := strings.TrimSpace(sc.Text())
		// Receivers may include non-NMEA chatter.
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			s.setError(err.Error())
			continue
		}
		fix, ok := st.apply(time.Now().UTC(), sent)
		snap := st.snapshot()
		snap.Device, snap.Baud = base.Device, base.Baud
		s.last.Store(snap)
		if ok {
			onFix(fix)
		}
	}
}

func (s *Service) startGPSDLocked(ctx context.Context, onFix FixFunc) error {
	addr := strings.TrimSpace(s.cfg.GPSDAddr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.last.Store(Snapshot{Enabled: true, Source: "gpsd", GPSDAddr: addr, Device: "gpsd"})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		monitoring.Logf("gps enabled source=gpsd addr=%s", addr)
		st := newGPSDState(addr, s.cfg.UEREM)
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for {
			select {
			case <-childCtx.Done():
				return
			default:
			}

			conn, err := dialGPSD(childCtx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", addr, err))
				select {
				case <-childCtx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Close() interrupts an active connection through closer.
			s.closer = conn
			s.mu.Unlock()

			func() {
				defer func() { _ = conn.Close() }()
				if err := gpsdWatch(conn); err != nil {
					s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
					return
				}

				sc := bufio.NewScanner(conn)
				sc.Buffer(make([]byte, 0, 4096), 256*1024)
				for {
					select {
					case <-childCtx.Done():
						return
					default:
					}
					if !sc.Scan() {
						err := sc.Err()
						if err == nil {
							err = io.EOF
						}
						s.setError(fmt.Sprintf("gpsd read stopped: %v", err))
						return
					}
					line := strings.TrimSpace(sc.Text())
					if line == "" {
						continue
					}
					fix, ok, err := st.applyLine(time.Now().UTC(), line)
					if err != nil {
						st.lastErr = err.Error()
					}
					s.last.Store(st.snapshot())
					if ok {
						onFix(fix)
					}
				}
			}()
		}
	}()
	return nil
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	v, _ := s.last.Load().(Snapshot)
	return v
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur := s.Snapshot()
	cur.LastError = msg
	s.last.Store(cur)
}

func autoDetectDevice() string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}
