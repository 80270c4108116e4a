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
)

// WriteRecord is one write seen by a Memory transport.
type WriteRecord struct {
	Word   uint16
	Offset uint8
	Data   []byte
	Flags  Flags
}

// Memory is an SRAM image held in RAM. It backs the simulator and the tests
// of everything above the transport.
type Memory struct {
	mu     sync.Mutex
	mem    []byte
	fail   []error
	writes []WriteRecord
}

func NewMemory(words int) *Memory {
	return &Memory{mem: make([]byte, words*BytesPerWord)}
}

func (m *Memory) bounds(word uint16, offset uint8, n int) (int, error) {
	start := int(word)*BytesPerWord + int(offset)
	if n <= 0 || offset >= BytesPerWord || start+n > len(m.mem) {
		return 0, fmt.Errorf("%w: word %d offset %d length %d", errBadRange, word, offset, n)
	}
	return start, nil
}

// popFailure returns the next injected failure, if any.
func (m *Memory) popFailure() error {
	if len(m.fail) == 0 {
		return nil
	}
	err := m.fail[0]
	m.fail = m.fail[1:]
	return err
}

func (m *Memory) Read(ctx context.Context, word uint16, offset uint8, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, transportErr("read", word, offset, err)
	}
	if err := m.popFailure(); err != nil {
		return nil, transportErr("read", word, offset, err)
	}
	start, err := m.bounds(word, offset, n)
	if err != nil {
		return nil, transportErr("read", word, offset, err)
	}
	out := make([]byte, n)
	copy(out, m.mem[start:start+n])
	return out, nil
}

func (m *Memory) Write(ctx context.Context, word uint16, offset uint8, data []byte, flags Flags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return transportErr("write", word, offset, err)
	}
	if err := m.popFailure(); err != nil {
		return transportErr("write", word, offset, err)
	}
	start, err := m.bounds(word, offset, len(data))
	if err != nil {
		return transportErr("write", word, offset, err)
	}
	copy(m.mem[start:], data)
	m.writes = append(m.writes, WriteRecord{
		Word:   word,
		Offset: offset,
		Data:   append([]byte(nil), data...),
		Flags:  flags,
	})
	return nil
}

// Poke sets bytes without recording a write, as the gauge hardware would.
func (m *Memory) Poke(word uint16, offset uint8, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := int(word)*BytesPerWord + int(offset)
	copy(m.mem[start:], data)
}

func (m *Memory) Peek(word uint16, offset uint8, n int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := int(word)*BytesPerWord + int(offset)
	return append([]byte(nil), m.mem[start:start+n]...)
}

// FailNext makes the next access fail with err. Calls queue up.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = append(m.fail, err)
}

func (m *Memory) Writes() []WriteRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteRecord(nil), m.writes...)
}
