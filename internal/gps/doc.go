// Package gps reads GNSS receivers and turns their reports into trail fixes.
//
// Two sources are supported: NMEA 0183 over a USB serial device (RMC for
// position, speed and course; GGA for quality, HDOP and altitude) and gpsd's
// JSON stream.
package gps
