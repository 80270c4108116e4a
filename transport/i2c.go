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
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	DefaultI2CAddress = 0x36

	maxTxAttempts   = 3
	txRetryInterval = 20 * time.Millisecond
)

// I2C talks to the gauge's memory interface directly over an I2C bus.
type I2C struct {
	mu  sync.Mutex
	dev *i2c.Dev
}

// OpenI2C initialises the periph host drivers and opens the named bus
// ("" for the first one available).
func OpenI2C(busName string, address uint16) (*I2C, func() error, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize periph: %v", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open i2c bus %q: %v", busName, err)
	}
	return NewI2C(bus, address), bus.Close, nil
}

func NewI2C(bus i2c.Bus, address uint16) *I2C {
	return &I2C{dev: &i2c.Dev{Addr: address, Bus: bus}}
}

func (t *I2C) Read(ctx context.Context, word uint16, offset uint8, n int) ([]byte, error) {
	chunks, err := split(word, offset, n)
	if err != nil {
		return nil, transportErr("read", word, offset, err)
	}
	out := make([]byte, n)
	for _, c := range chunks {
		resp := make([]byte, c.n+1)
		if err := t.tx(ctx, readFrame(c.word, c.offset, c.n), resp); err != nil {
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

func (t *I2C) Write(ctx context.Context, word uint16, offset uint8, data []byte, flags Flags) error {
	chunks, err := split(word, offset, len(data))
	if err != nil {
		return transportErr("write", word, offset, err)
	}
	for _, c := range chunks {
		frame := writeFrame(c.word, c.offset, data[c.start:c.start+c.n], flags)
		if err := t.tx(ctx, frame, nil); err != nil {
			return transportErr("write", c.word, c.offset, err)
		}
	}
	return nil
}

// tx retries a failed transaction a few times, spaced out so the bus gets a
// chance to recover, and gives up early if ctx is cancelled.
func (t *I2C) tx(ctx context.Context, write, read []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	attempts := 0
	for {
		err := t.dev.Tx(write, read)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryInterval):
		}
	}
}
