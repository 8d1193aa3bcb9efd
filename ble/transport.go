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
	"sync"
	"time"

	"github.com/dfuctl/nrf-dfu/errkind"
	"github.com/dfuctl/nrf-dfu/transport"
)

// Service and characteristic UUIDs, per SPEC_FULL.md §6.3.
const (
	ServiceUUID            = "0000fe59-0000-1000-8000-00805f9b34fb"
	ControlUUID            = "8ec90001-f315-4f60-9fb8-838830daea50"
	DataUUID               = "8ec90002-f315-4f60-9fb8-838830daea50"
	ButtonlessUnbondedUUID = "8ec90003-f315-4f60-9fb8-838830daea50"
	ButtonlessBondedUUID   = "8ec90004-f315-4f60-9fb8-838830daea50"
)

type notifyResult struct {
	resp *transport.Response
	err  error
}

// Transport adapts a connected Peripheral (already in DFU mode) to
// transport.Transport, per SPEC_FULL.md §4.2/§6.3. It implements
// transport.MTUReporter: the engine reads the negotiated ATT MTU directly
// instead of issuing a protocol MtuGet.
type Transport struct {
	peripheral Peripheral

	slot   chan notifyResult
	closed chan struct{}
	once   sync.Once
}

// NewTransport subscribes to the control characteristic's notifications and
// returns a ready-to-use transport.Transport.
func NewTransport(p Peripheral) (*Transport, error) {
	t := &Transport{
		peripheral: p,
		slot:       make(chan notifyResult, 1),
		closed:     make(chan struct{}),
	}

	if err := p.Subscribe(ControlUUID, false, t.onNotify); err != nil {
		return nil, errkind.New(errkind.IoError, "subscribe to control characteristic: %v", err)
	}
	return t, nil
}

func (t *Transport) onNotify(data []byte) {
	resp, err := transport.ParseResponse(data)
	result := notifyResult{resp: resp, err: err}

	select {
	case <-t.slot:
	default:
	}
	select {
	case t.slot <- result:
	case <-t.closed:
	}
}

// MTU implements transport.MTUReporter.
func (t *Transport) MTU() uint16 {
	return t.peripheral.MTU()
}

func (t *Transport) WriteControl(data []byte) error {
	if err := t.peripheral.WriteCharacteristic(ControlUUID, data, false); err != nil {
		return errkind.New(errkind.IoError, "ble control write failed: %v", err)
	}
	return nil
}

func (t *Transport) WriteData(data []byte) error {
	if err := t.peripheral.WriteCharacteristic(DataUUID, data, true); err != nil {
		return errkind.New(errkind.IoError, "ble data write failed: %v", err)
	}
	return nil
}

func (t *Transport) DrainControl() {
	select {
	case <-t.slot:
	default:
	}
}

func (t *Transport) ReadControl(timeout time.Duration) (*transport.Response, error) {
	select {
	case r := <-t.slot:
		if r.err != nil {
			return nil, r.err
		}
		return r.resp, nil
	case <-time.After(timeout):
		return nil, errkind.New(errkind.Timeout, "no notification within %s", timeout)
	case <-t.closed:
		return nil, errkind.New(errkind.Cancelled, "transport closed")
	}
}

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		_ = t.peripheral.Unsubscribe(ControlUUID, false)
		err = t.peripheral.Disconnect()
	})
	return err
}

// HasDfuCharacteristics reports whether p already exposes the control and
// data characteristics, i.e. the target is already running the bootloader.
func HasDfuCharacteristics(p Peripheral) bool {
	svc := p.FindService(ServiceUUID)
	if svc == nil {
		return false
	}
	return svc.FindCharacteristic(ControlUUID) != nil && svc.FindCharacteristic(DataUUID) != nil
}
