// Package bmp280 reads compensated pressure from a Bosch BMP280.
package bmp280

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

var sleep = time.Sleep

const (
	DefaultAddress = 0x77

	regChipID   = 0xD0
	chipID      = 0x58
	regReset    = 0xE0
	resetWord   = 0xB6
	regCalib    = 0x88
	calibLen    = 24
	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regData     = 0xF7

	// Normal mode, temperature x2, pressure x16.
	ctrlMeasNormal = 0x02<<5 | 0x05<<2 | 0x03
	// Standby 62.5ms, IIR coefficient 4.
	configFiltered = 0x01<<5 | 0x02<<2

	seaLevelPa = 101325.0
)

// Registers is the register access a sensor needs; *i2c.Device provides it.
type Registers interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Reading struct {
	TempC      float64
	PressurePa float64
}

// trimming holds the factory compensation words. t[0] and p[0] are unsigned.
type trimming struct {
	t [3]float64
	p [9]float64
}

type Sensor struct {
	regs Registers
	trim trimming
}

// New probes the chip, resets it and starts continuous sampling.
func New(regs Registers) (*Sensor, error) {
	if regs == nil {
		return nil, fmt.Errorf("bmp280: registers are nil")
	}
	id, err := regs.ReadRegU8(regChipID)
	if err != nil {
		return nil, fmt.Errorf("bmp280: read chip id: %w", err)
	}
	if id != chipID {
		return nil, fmt.Errorf("bmp280: chip id=0x%02X want 0x%02X", id, chipID)
	}
	s := &Sensor{regs: regs}

	// The NVM copy after reset takes ~2ms; early reads return zeros.
	_ = regs.WriteReg(regReset, resetWord)
	sleep(5 * time.Millisecond)
	var trimErr error
	for attempt := 0; attempt < 3; attempt++ {
		if trimErr = s.loadTrimming(); trimErr == nil {
			break
		}
		sleep(5 * time.Millisecond)
	}
	if trimErr != nil {
		return nil, trimErr
	}

	if err := regs.WriteReg(regConfig, configFiltered); err != nil {
		return nil, fmt.Errorf("bmp280: write config: %w", err)
	}
	if err := regs.WriteReg(regCtrlMeas, ctrlMeasNormal); err != nil {
		return nil, fmt.Errorf("bmp280: write ctrl_meas: %w", err)
	}
	return s, nil
}

func (s *Sensor) loadTrimming() error {
	buf := make([]byte, calibLen)
	if err := s.regs.ReadReg(regCalib, buf); err != nil {
		return fmt.Errorf("bmp280: read trimming: %w", err)
	}
	word := func(i int) float64 { return float64(int16(binary.LittleEndian.Uint16(buf[2*i:]))) }
	uword := func(i int) float64 { return float64(binary.LittleEndian.Uint16(buf[2*i:])) }

	var tr trimming
	tr.t[0] = uword(0)
	tr.t[1], tr.t[2] = word(1), word(2)
	tr.p[0] = uword(3)
	for i := 1; i < 9; i++ {
		tr.p[i] = word(3 + i)
	}
	if tr.t[0] == 0 || tr.p[0] == 0 {
		return fmt.Errorf("bmp280: trimming invalid (t1=%v p1=%v)", tr.t[0], tr.p[0])
	}
	s.trim = tr
	return nil
}

func (s *Sensor) Read() (Reading, error) {
	var buf [6]byte
	if err := s.regs.ReadReg(regData, buf[:]); err != nil {
		return Reading{}, fmt.Errorf("bmp280: read data: %w", err)
	}
	rawP := float64(int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4)
	rawT := float64(int32(buf[3])<<12 | int32(buf[4])<<4 | int32(buf[5])>>4)

	fine, tempC := s.trim.temperature(rawT)
	p := s.trim.pressure(rawP, fine)
	if p <= 0 {
		return Reading{}, fmt.Errorf("bmp280: pressure out of range raw=%v", rawP)
	}
	return Reading{TempC: tempC, PressurePa: p}, nil
}

// temperature follows the datasheet's double-precision compensation.
func (tr trimming) temperature(raw float64) (fine, tempC float64) {
	v1 := (raw/16384 - tr.t[0]/1024) * tr.t[1]
	d := raw/131072 - tr.t[0]/8192
	v2 := d * d * tr.t[2]
	fine = math.Trunc(v1 + v2)
	return fine, (v1 + v2) / 5120
}

func (tr trimming) pressure(raw, fine float64) float64 {
	p := tr.p
	v1 := fine/2 - 64000
	v2 := v1 * v1 * p[5] / 32768
	v2 += v1 * p[4] * 2
	v2 = v2/4 + p[3]*65536
	v1 = (p[2]*v1*v1/524288 + p[1]*v1) / 524288
	v1 = (1 + v1/32768) * p[0]
	if v1 == 0 {
		return 0
	}
	out := (1048576 - raw - v2/4096) * 6250 / v1
	v1 = p[8] * out * out / 2147483648
	v2 = out * p[7] / 32768
	return out + (v1+v2+p[6])/16
}

// AltitudeM converts pressure to altitude in the standard atmosphere.
func AltitudeM(pressurePa float64) float64 {
	return 44330 * (1 - math.Pow(pressurePa/seaLevelPa, 1/5.255))
}
