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

package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dfuctl/nrf-dfu/ble"
	"github.com/dfuctl/nrf-dfu/config"
)

// targetFlags is the -p/-b/-t/-i/--timeout flag set shared by the dfu and
// boot commands, per SPEC_FULL.md §6.1.
type targetFlags struct {
	port    string
	bleAddr string
	atype   string
	iface   string
	timeout time.Duration
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.port, "port", "p", "", "serial device path")
	cmd.Flags().StringVarP(&t.bleAddr, "ble", "b", "", "BLE target address")
	cmd.Flags().StringVarP(&t.atype, "atype", "t", "public", "BLE address type: public|random")
	cmd.Flags().StringVarP(&t.iface, "interface", "i", config.DefaultInterface, "BLE host interface")
	cmd.Flags().DurationVar(&t.timeout, "timeout", config.DefaultTimeout, "timeout for connecting to device")
}

func (t *targetFlags) resolve(firmwarePath string) (config.Config, error) {
	cfg := config.Config{
		SerialPort:   t.port,
		BleAddress:   t.bleAddr,
		Interface:    t.iface,
		Timeout:      t.timeout,
		FirmwarePath: firmwarePath,
	}

	if t.bleAddr == "" && cfg.SerialPort == "" {
		cfg.SerialPort = config.DefaultPort
	}

	atype, err := parseAddressType(t.atype)
	if err != nil {
		return cfg, err
	}
	cfg.AddressType = atype

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseAddressType(s string) (ble.AddressType, error) {
	switch s {
	case "", "public":
		return ble.AddressTypePublic, nil
	case "random":
		return ble.AddressTypeRandom, nil
	default:
		return ble.AddressTypePublic, errors.Errorf("unrecognized --atype %q, want public or random", s)
	}
}
