// Package icm20948 reads accelerometer and gyro samples from a TDK ICM-20948.
package icm20948

import (
	"fmt"
	"math"
	"time"
)

var sleep = time.Sleep

const (
	DefaultAddress = 0x68

	regWhoAmI  = 0x00
	whoAmI     = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1  = 0x06
	pwrReset     = 0x80
	pwrAutoClock = 0x01
	regIntEnable = 0x10
	regAccelOut  = 0x2D

	// Bank 2.
	regGyroSmplrtDiv   = 0x00
	regGyroConfig1     = 0x01
	regAccelSmplrtDiv2 = 0x11
	regAccelConfig     = 0x14

	// ±8 g and ±500 dps leave headroom for washboard and landings.
	accelFS8g    = 0x02 << 1
	gyroFS500dps = 0x01 << 1
	accelFullG   = 8.0
	gyroFullDps  = 500.0

	// Output data rate 1125/(1+div) Hz, ~102 Hz.
	rateDiv = 10
)

// Registers is the register access a sensor needs; *i2c.Device provides it.
type Registers interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

type Sample struct {
	Time time.Time
	// Accel is specific force in g, gravity included.
	Accel [3]float64
	// Gyro is angular rate in rad/s.
	Gyro [3]float64
}

type Sensor struct {
	regs Registers
	bank byte
	now  func() time.Time
}

// New probes WHO_AM_I, resets the part and configures full scale and rate.
func New(regs Registers) (*Sensor, error) {
	if regs == nil {
		return nil, fmt.Errorf("icm20948: registers are nil")
	}
	s := &Sensor{regs: regs, bank: 0xFF, now: time.Now}
	id, err := regs.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: read whoami: %w", err)
	}
	if id != whoAmI {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", id, whoAmI)
	}
	if err := s.configure(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sensor) configure() error {
	writes := []struct {
		bank, reg, val byte
		what           string
		settle         time.Duration
	}{
		{0, regPwrMgmt1, pwrReset, "reset", 100 * time.Millisecond},
		{0, regPwrMgmt1, pwrAutoClock, "wake", 10 * time.Millisecond},
		{0, regIntEnable, 0x00, "int disable", 0},
		{2, regGyroSmplrtDiv, rateDiv, "gyro rate", 0},
		{2, regAccelSmplrtDiv2, rateDiv, "accel rate", 0},
		{2, regGyroConfig1, gyroFS500dps, "gyro config", 0},
		{2, regAccelConfig, accelFS8g, "accel config", 0},
	}
	for _, w := range writes {
		if err := s.selectBank(w.bank); err != nil {
			return err
		}
		if err := s.regs.WriteReg(w.reg, w.val); err != nil {
			return fmt.Errorf("icm20948: %s: %w", w.what, err)
		}
		if w.reg == regPwrMgmt1 && w.val == pwrReset {
			// Reset returns the bank select to 0.
			s.bank = 0
		}
		if w.settle > 0 {
			sleep(w.settle)
		}
	}
	return s.selectBank(0)
}

func (s *Sensor) selectBank(b byte) error {
	if s.bank == b {
		return nil
	}
	if err := s.regs.WriteReg(regBankSel, b<<4); err != nil {
		return fmt.Errorf("icm20948: select bank %d: %w", b, err)
	}
	s.bank = b
	return nil
}

// Read returns one accel+gyro sample from the contiguous output block.
func (s *Sensor) Read() (Sample, error) {
	if err := s.selectBank(0); err != nil {
		return Sample{}, err
	}
	var buf [12]byte
	if err := s.regs.ReadReg(regAccelOut, buf[:]); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read output: %w", err)
	}
	out := Sample{Time: s.now()}
	for i := 0; i < 3; i++ {
		out.Accel[i] = be16(buf[2*i:]) * accelFullG / 32768
		out.Gyro[i] = be16(buf[6+2*i:]) * gyroFullDps / 32768 * math.Pi / 180
	}
	return out, nil
}

func be16(b []byte) float64 {
	return float64(int16(uint16(b[0])<<8 | uint16(b[1])))
}
