//go:build !linux

package i2c

import (
	"errors"
	"fmt"
)

var errUnsupported = errors.New("i2c: not supported on this platform")

type Bus struct{}

type Device struct{}

func Open(string) (*Bus, error) { return nil, errUnsupported }

func BusPath(n int) string { return fmt.Sprintf("/dev/i2c-%d", n) }

func (b *Bus) Path() string                    { return "" }
func (b *Bus) Close() error                    { return nil }
func (b *Bus) Device(uint16) *Device           { return &Device{} }
func (d *Device) ReadReg(byte, []byte) error   { return errUnsupported }
func (d *Device) ReadRegU8(byte) (byte, error) { return 0, errUnsupported }
func (d *Device) WriteReg(byte, byte) error    { return errUnsupported }
