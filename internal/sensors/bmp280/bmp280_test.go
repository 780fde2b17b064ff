package bmp280

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

type fakeRegs struct {
	regs map[byte][]byte

	trimReads int
	trimSeq   [][]byte

	writes map[byte]byte
}

func (f *fakeRegs) ReadRegU8(reg byte) (byte, error) {
	b, ok := f.regs[reg]
	if !ok || len(b) < 1 {
		return 0, errors.New("no reg")
	}
	return b[0], nil
}

func (f *fakeRegs) ReadReg(reg byte, dst []byte) error {
	if reg == regCalib {
		f.trimReads++
		if i := f.trimReads - 1; i < len(f.trimSeq) {
			copy(dst, f.trimSeq[i])
			return nil
		}
		clear(dst)
		return nil
	}
	b, ok := f.regs[reg]
	if !ok {
		return errors.New("no reg")
	}
	copy(dst, b)
	return nil
}

func (f *fakeRegs) WriteReg(reg, value byte) error {
	if f.writes == nil {
		f.writes = map[byte]byte{}
	}
	f.writes[reg] = value
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	old := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = old })
}

// datasheetTrimming is the worked example of the BMP280 datasheet.
func datasheetTrimming() []byte {
	words := []int{27504, 26435, -1000, 36477, -10685, 3024, 2855, 140, -7, 15500, -14600, 6000}
	buf := make([]byte, calibLen)
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(w)))
	}
	return buf
}

func TestNew_RetriesTrimmingAfterReset(t *testing.T) {
	noSleep(t)
	f := &fakeRegs{
		regs:    map[byte][]byte{regChipID: {chipID}},
		trimSeq: [][]byte{make([]byte, calibLen), datasheetTrimming()},
	}
	if _, err := New(f); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if f.trimReads != 2 {
		t.Fatalf("trimming reads=%d want 2", f.trimReads)
	}
	if f.writes[regReset] != resetWord || f.writes[regCtrlMeas] != ctrlMeasNormal {
		t.Fatalf("writes=%v", f.writes)
	}
}

func TestNew_Errors(t *testing.T) {
	noSleep(t)
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil registers")
	}
	if _, err := New(&fakeRegs{regs: map[byte][]byte{regChipID: {0x60}}}); err == nil {
		t.Fatalf("expected chip id mismatch")
	}
	f := &fakeRegs{regs: map[byte][]byte{regChipID: {chipID}}}
	if _, err := New(f); err == nil {
		t.Fatalf("expected invalid trimming error")
	}
	if f.trimReads != 3 {
		t.Fatalf("trimming reads=%d want 3", f.trimReads)
	}
}

func TestRead_DatasheetExample(t *testing.T) {
	noSleep(t)
	f := &fakeRegs{
		regs: map[byte][]byte{
			regChipID: {chipID},
			// adc_P=415148, adc_T=519888
			regData: {0x65, 0x5A, 0xC0, 0x7E, 0xED, 0x00},
		},
		trimSeq: [][]byte{datasheetTrimming()},
	}
	s, err := New(f)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	r, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if math.Abs(r.TempC-25.08) > 0.01 {
		t.Fatalf("temp=%v want ~25.08", r.TempC)
	}
	if math.Abs(r.PressurePa-100653.27) > 1 {
		t.Fatalf("pressure=%v want ~100653.27", r.PressurePa)
	}
}

func TestAltitudeM(t *testing.T) {
	if a := AltitudeM(101325); math.Abs(a) > 1e-9 {
		t.Fatalf("sea level alt=%v want 0", a)
	}
	// About 8.3 m per hPa near sea level.
	d := AltitudeM(101225) - AltitudeM(101325)
	if d < 8 || d > 8.6 {
		t.Fatalf("1 hPa drop=%v m", d)
	}
}
