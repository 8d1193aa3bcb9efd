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
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/dfuctl/nrf-dfu/driver"
)

type dfuCommand struct {
	*baseCommand
	target targetFlags
}

func newDfuCommand() *dfuCommand {
	c := &dfuCommand{}

	c.baseCommand = newBaseCommand(&cobra.Command{
		Use:   "dfu <firmware.zip>",
		Short: "Perform device firmware upgrade",
		Args:  cobra.ExactArgs(1),
		Long: `This command performs a firmware upgrade of an nRF51 or nRF52 device over
either a serial port or BLE. If the device supports the Buttonless DFU
service, this service will be used to first reboot the device into DFU mode.`,
		Example: `nrf-dfu dfu --port /dev/ttyUSB0 FW.zip
nrf-dfu dfu --ble 4b668b2e16e41429fca7af1b0dc50644 --atype random FW.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDfu(args[0])
		},
	})

	c.target.register(c.cmd)
	return c
}

func (c *dfuCommand) runDfu(firmwarePath string) error {
	cfg, err := c.target.resolve(firmwarePath)
	if err != nil {
		return err
	}

	var bar *pb.ProgressBar
	err = driver.Upgrade(cfg, func(value, total int64) {
		if bar == nil {
			bar = pb.ProgressBarTemplate(`{{ white "DFU:" }} {{bar . | green}} {{speed . "%s byte/s" | white }}`).Start(100)
		}
		if bar.Total() != total {
			bar.SetTotal(total)
		}
		bar.SetCurrent(value)
	})

	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return errors.Wrap(err, "failed to upgrade device firmware")
	}
	return nil
}
