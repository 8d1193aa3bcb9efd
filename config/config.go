// Copyright (C) 2018 Rob Caelers <rob.caelers@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package config holds the immutable value the CLI layer builds from parsed
// flags and passes down into the driver. There is no package-level mutable
// configuration state anywhere in this project; every consumer takes a
// Config by value.
package config

import (
	"time"

	"github.com/dfuctl/nrf-dfu/ble"
	"github.com/dfuctl/nrf-dfu/errkind"
)

const (
	// DefaultPort is used when -p/--port is not given and no -b/--ble
	// address is given either.
	DefaultPort = "/dev/ttyUSB0"
	// DefaultInterface is the BLE host adapter used when -i/--interface is
	// not given.
	DefaultInterface = "hci0"
	// DefaultTimeout bounds connecting to a target device.
	DefaultTimeout = 30 * time.Second
)

// Config is the fully-resolved set of parameters a dfu/boot run needs. It
// is built once by the CLI layer and never mutated afterward.
type Config struct {
	// SerialPort is the serial device path; empty if BleAddress is set.
	SerialPort string
	// BleAddress is the BLE target address; empty if SerialPort is set.
	BleAddress string
	AddressType ble.AddressType
	// Interface is the BLE host adapter, e.g. "hci0".
	Interface string
	Timeout   time.Duration
	// DebugLevel is 0 (off) through 4, per -d/--debug.
	DebugLevel int
	Quiet      bool
	// FirmwarePath is the positional argument: path to the DFU ZIP.
	FirmwarePath string
}

// UseBLE reports whether this Config targets a BLE device rather than a
// serial port.
func (c Config) UseBLE() bool {
	return c.BleAddress != ""
}

// Validate enforces the mutually-exclusive --port/--ble rule and that
// exactly one transport target was given.
func (c Config) Validate() error {
	if c.SerialPort != "" && c.BleAddress != "" {
		return errkind.New(errkind.PackageError, "--port and --ble are mutually exclusive")
	}
	if c.SerialPort == "" && c.BleAddress == "" {
		return errkind.New(errkind.PackageError, "specify either --port or --ble")
	}
	return nil
}
