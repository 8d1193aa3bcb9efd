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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dfuctl/nrf-dfu/errkind"
)

func TestUseBLEReflectsBleAddress(t *testing.T) {
	assert.True(t, Config{BleAddress: "aabbccddeeff"}.UseBLE())
	assert.False(t, Config{SerialPort: "/dev/ttyUSB0"}.UseBLE())
	assert.False(t, Config{}.UseBLE())
}

func TestValidateRejectsBothTargets(t *testing.T) {
	cfg := Config{SerialPort: "/dev/ttyUSB0", BleAddress: "aabbccddeeff"}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestValidateRejectsNoTarget(t *testing.T) {
	err := Config{}.Validate()
	assert.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PackageError))
}

func TestValidateAcceptsSerialOnly(t *testing.T) {
	assert.NoError(t, Config{SerialPort: "/dev/ttyUSB0"}.Validate())
}

func TestValidateAcceptsBleOnly(t *testing.T) {
	assert.NoError(t, Config{BleAddress: "aabbccddeeff"}.Validate())
}
