/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package transport

import (
	"context"
	"time"

	"github.com/godbus/dbus"
)

const (
	i2cDbusName = "org.cacophony.i2c"
	i2cDbusPath = "/org/cacophony/i2c"
)

// txFn performs one transaction through the i2c dbus service. Replaced in tests.
var txFn = dbusTx

func dbusTx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(i2cDbusName, i2cDbusPath)

	var response []byte
	if err := obj.Call(i2cDbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}
	return response, nil
}

// DBus reaches the gauge through the i2c service, for when another process
// owns the bus.
type DBus struct {
	Address byte
	Timeout time.Duration
}

func NewDBus(address byte) *DBus {
	return &DBus{Address: address, Timeout: time.Second}
}

func (d *DBus) timeoutMs(ctx context.Context) int {
	timeout := d.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return int(timeout / time.Millisecond)
}

func (d *DBus) Read(ctx context.Context, word uint16, offset uint8, n int) ([]byte, error) {
	chunks, err := split(word, offset, n)
	if err != nil {
		return nil, transportErr("read", word, offset, err)
	}
	out := make([]byte, n)
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, transportErr("read", c.word, c.offset, err)
		}
		resp, err := txFn(d.Address, readFrame(c.word, c.offset, c.n), c.n+1, d.timeoutMs(ctx))
		if err != nil {
			return nil, transportErr("read", c.word, c.offset, err)
		}
		data, err := checkResponse(resp, c.n)
		if err != nil {
			return nil, transportErr("read", c.word, c.offset, err)
		}
		copy(out[c.start:], data)
	}
	return out, nil
}

func (d *DBus) Write(ctx context.Context, word uint16, offset uint8, data []byte, flags Flags) error {
	chunks, err := split(word, offset, len(data))
	if err != nil {
		return transportErr("write", word, offset, err)
	}
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return transportErr("write", c.word, c.offset, err)
		}
		frame := writeFrame(c.word, c.offset, data[c.start:c.start+c.n], flags)
		if _, err := txFn(d.Address, frame, 0, d.timeoutMs(ctx)); err != nil {
			return transportErr("write", c.word, c.offset, err)
		}
	}
	return nil
}

// CheckAddress confirms something answers at the gauge's address.
func (d *DBus) CheckAddress(ctx context.Context) error {
	_, err := d.Read(ctx, 0, 0, 1)
	return err
}
