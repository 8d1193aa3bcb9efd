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

package ble

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/dfuctl/nrf-dfu/errkind"
)

const buttonlessResponseCode = 0x20

// buttonlessResultSuccess mirrors transport.ResultSuccess; the buttonless
// service uses the same result-code convention as the main DFU control
// point but a distinct response code (0x20 instead of 0x60).
const buttonlessResultSuccess = 0x01

// sendButtonless writes a buttonless-service command and waits for its
// 0x20-prefixed reply on the same characteristic, per the teacher's
// dfu/dfu.go sendBoot.
func sendButtonless(p Peripheral, uuid string, replies chan []byte, request []byte) error {
	if err := p.WriteCharacteristic(uuid, request, false); err != nil {
		return errkind.New(errkind.IoError, "buttonless write failed: %v", err)
	}

	select {
	case data := <-replies:
		if len(data) < 3 {
			return errkind.New(errkind.ProtocolDesync, "buttonless reply too short")
		}
		if data[0] != buttonlessResponseCode {
			return errkind.New(errkind.ProtocolDesync, "unexpected buttonless response code 0x%02x", data[0])
		}
		if data[1] != request[0] {
			return errkind.New(errkind.ProtocolDesync, "buttonless reply echoes wrong opcode")
		}
		if data[2] != buttonlessResultSuccess {
			return errkind.NewServerError(data[2], "buttonless operation failed")
		}
		return nil
	case <-time.After(10 * time.Second):
		return errkind.New(errkind.Timeout, "no buttonless reply")
	}
}

// randomDeviceName mirrors the teacher's generateDeviceName: a short random
// advertising name that EnterBootloader sends to the unbonded buttonless
// service before the reboot. The reconnect after the reboot is by address,
// not by this name.
func randomDeviceName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 10)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return "Dfu" + string(b)
}

// incrementAddress applies the Nordic convention used for the unbonded
// buttonless service: the reconnect address is the original address with
// its most-significant byte incremented by one.
func incrementAddress(addr string) (string, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return "", errkind.New(errkind.ProtocolDesync, "unrecognized BLE address %q", addr)
	}
	msb, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return "", errkind.New(errkind.ProtocolDesync, "unparsable address byte %q", parts[0])
	}
	parts[0] = fmt.Sprintf("%02x", byte(msb+1))
	return strings.Join(parts, ":"), nil
}

// EnterBootloader triggers the buttonless DFU service on an already
// connected peripheral and reconnects to the rebooted bootloader, per
// SPEC_FULL.md §4.5. It returns the bootloader peripheral, already exposing
// the control and data characteristics.
func EnterBootloader(client Client, p Peripheral, atype AddressType, timeout time.Duration) (Peripheral, error) {
	bonded := p.FindCharacteristic(ButtonlessBondedUUID)
	unbonded := bonded == nil

	uuid := ButtonlessBondedUUID
	if unbonded {
		uuid = ButtonlessUnbondedUUID
	}
	if p.FindCharacteristic(uuid) == nil {
		return nil, errkind.New(errkind.ProtocolDesync, "no buttonless DFU characteristic found")
	}

	replies := make(chan []byte, 1)
	if err := p.Subscribe(uuid, true, func(data []byte) { replies <- data }); err != nil {
		return nil, errkind.New(errkind.IoError, "subscribe to buttonless indications: %v", err)
	}
	if err := p.Subscribe(uuid, false, func(data []byte) { replies <- data }); err != nil {
		return nil, errkind.New(errkind.IoError, "subscribe to buttonless notifications: %v", err)
	}

	originalAddr := p.Addr()
	nextAddr := originalAddr

	if unbonded {
		jww.INFO.Println("Changing bootloader advertising name before reboot.")
		name := randomDeviceName()
		nameReq := append([]byte{0x02, byte(len(name))}, []byte(name)...)
		if err := sendButtonless(p, uuid, replies, nameReq); err != nil {
			return nil, errkind.New(errkind.ProtocolDesync, "failed to set bootloader advertising name: %v", err)
		}
		if addr, err := incrementAddress(originalAddr); err == nil {
			nextAddr = addr
		}
	} else {
		jww.INFO.Println("Using bonded buttonless bootloader; address is unchanged after reboot.")
	}

	if err := sendButtonless(p, uuid, replies, []byte{0x01}); err != nil {
		return nil, errkind.New(errkind.ProtocolDesync, "failed to enter bootloader: %v", err)
	}

	_ = p.Disconnect()

	const reconnectTries = 5
	var lastErr error
	for attempt := 0; attempt < reconnectTries; attempt++ {
		time.Sleep(time.Second)

		peripheral, err := client.ConnectAddress(nextAddr, atype, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if HasDfuCharacteristics(peripheral) {
			jww.INFO.Printf("Reconnected to bootloader at %s\n", peripheral.Addr())
			return peripheral, nil
		}
		_ = peripheral.Disconnect()
		lastErr = errkind.New(errkind.ProtocolDesync, "reconnected peripheral has no DFU characteristics yet")
	}

	return nil, errkind.New(errkind.IoError, "failed to reconnect to bootloader after %d attempts: %v", reconnectTries, lastErr)
}
