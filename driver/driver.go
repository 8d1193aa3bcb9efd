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

// Package driver wires a firmware.Package to a DfuEngine over whichever
// transport the resolved config.Config names, handling BLE bootloader
// entry along the way. The CLI layer only parses flags and calls this
// package.
package driver

import (
	jww "github.com/spf13/jwalterweatherman"

	"github.com/dfuctl/nrf-dfu/ble"
	"github.com/dfuctl/nrf-dfu/config"
	"github.com/dfuctl/nrf-dfu/engine"
	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/firmware"
	"github.com/dfuctl/nrf-dfu/protocol"
	"github.com/dfuctl/nrf-dfu/transport"
)

// Upgrade opens cfg.FirmwarePath, connects to the target named by cfg, puts
// it into DFU mode if needed, and runs the upgrade, reporting progress.
func Upgrade(cfg config.Config, progress engine.Progress) error {
	pkg, err := firmware.Open(cfg.FirmwarePath)
	if err != nil {
		return err
	}
	defer pkg.Close()

	t, err := connectTarget(cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	proto := protocol.New(t, cfg.Timeout)
	eng := engine.New(proto, engine.WithProgress(progress))

	initPayload, err := pkg.InitPayload()
	if err != nil {
		return err
	}
	fwPayload, err := pkg.FirmwarePayload()
	if err != nil {
		return err
	}

	return eng.Run(initPayload, fwPayload)
}

// EnterBootloader connects to the target and, if it is not already running
// the bootloader, triggers buttonless DFU entry and reconnects. It performs
// no firmware transfer.
func EnterBootloader(cfg config.Config) error {
	if !cfg.UseBLE() {
		return errkind.New(errkind.PackageError, "boot is only meaningful for a BLE target")
	}

	client, err := ble.NewClient(cfg.Interface)
	if err != nil {
		return err
	}

	p, err := client.ConnectAddress(cfg.BleAddress, cfg.AddressType, cfg.Timeout)
	if err != nil {
		return errkind.New(errkind.IoError, "failed to connect to %s: %v", cfg.BleAddress, err)
	}

	if ble.HasDfuCharacteristics(p) {
		jww.INFO.Println("Device is already running the bootloader.")
		_ = p.Disconnect()
		return nil
	}

	jww.INFO.Println("Switching device into DFU mode.")
	bootloader, err := ble.EnterBootloader(client, p, cfg.AddressType, cfg.Timeout)
	if err != nil {
		return err
	}
	return bootloader.Disconnect()
}

// connectTarget resolves cfg into a ready transport.Transport: a serial
// port opened directly, or a BLE peripheral connected and, if necessary,
// rebooted into the bootloader via the buttonless service first.
func connectTarget(cfg config.Config) (transport.Transport, error) {
	if !cfg.UseBLE() {
		jww.INFO.Printf("Connecting to serial port %s\n", cfg.SerialPort)
		return transport.OpenSerial(cfg.SerialPort)
	}

	client, err := ble.NewClient(cfg.Interface)
	if err != nil {
		return nil, err
	}

	jww.INFO.Printf("Connecting to %s\n", cfg.BleAddress)
	p, err := client.ConnectAddress(cfg.BleAddress, cfg.AddressType, cfg.Timeout)
	if err != nil {
		return nil, errkind.New(errkind.IoError, "failed to connect to %s: %v", cfg.BleAddress, err)
	}

	if !ble.HasDfuCharacteristics(p) {
		jww.INFO.Println("DFU characteristics not found. Switching device into DFU mode.")
		p, err = ble.EnterBootloader(client, p, cfg.AddressType, cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}

	return ble.NewTransport(p)
}
