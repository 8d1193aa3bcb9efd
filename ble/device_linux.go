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

//go:build linux

package ble

import (
	"strconv"
	"strings"

	gble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"
)

// hciID parses an interface name like "hci0" into the adapter index the
// Linux HCI socket API expects. An unparsable suffix defaults to 0, same as
// the platform default.
func hciID(iface string) int {
	idx := strings.TrimPrefix(iface, "hci")
	id, err := strconv.Atoi(idx)
	if err != nil {
		return 0
	}
	return id
}

// NewClient opens the named HCI adapter (default "hci0", per SPEC_FULL.md
// §6.1 -i/--interface) and returns a ble.Client bound to it. The underlying
// go-ble device is process-global and initialized at most once; see
// NewGoBleClient.
func NewClient(iface string) (Client, error) {
	if iface == "" {
		iface = "hci0"
	}
	id := hciID(iface)

	client, err := NewGoBleClient(func() (gble.Device, error) {
		return linux.NewDeviceWithName(iface, gble.OptDeviceID(id))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open BLE interface %s", iface)
	}
	return client, nil
}
